package backend

import "testing"

func TestPoolDedupsEndpoints(t *testing.T) {
	p := NewPool()
	a := p.GetOrCreate(nil, Endpoint{Host: "10.0.0.1", Port: "8125", Protocol: "udp"}, DefaultConfig(), nil)
	b := p.GetOrCreate(nil, Endpoint{Host: "10.0.0.1", Port: "8125", Protocol: "udp"}, DefaultConfig(), nil)
	if a != b {
		t.Fatal("expected the same client instance for a duplicate endpoint")
	}
	if len(p.All()) != 1 {
		t.Fatalf("pool size = %d, want 1", len(p.All()))
	}
}

func TestPoolDistinctEndpoints(t *testing.T) {
	p := NewPool()
	p.GetOrCreate(nil, Endpoint{Host: "10.0.0.1", Port: "8125", Protocol: "udp"}, DefaultConfig(), nil)
	p.GetOrCreate(nil, Endpoint{Host: "10.0.0.2", Port: "8125", Protocol: "udp"}, DefaultConfig(), nil)
	if len(p.All()) != 2 {
		t.Fatalf("pool size = %d, want 2", len(p.All()))
	}
}

func TestEndpointKeyDefaultsToTCP(t *testing.T) {
	e := Endpoint{Host: "h", Port: "1"}
	if got := e.key(); got != "h:1:tcp" {
		t.Fatalf("key() = %q, want %q", got, "h:1:tcp")
	}
}
