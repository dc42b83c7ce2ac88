package ringbuf

import "testing"

func TestWriteConsumeRoundTrip(t *testing.T) {
	b := New(8)
	if err := b.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := string(b.Head()); got != "hello" {
		t.Fatalf("head = %q, want %q", got, "hello")
	}
	if err := b.Consume(5); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if b.DataCount() != 0 {
		t.Fatalf("datacount = %d, want 0", b.DataCount())
	}
}

func TestExpandGrowsAndPreservesData(t *testing.T) {
	b := New(4)
	if err := b.Write([]byte("abcdefgh")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := string(b.Head()); got != "abcdefgh" {
		t.Fatalf("head = %q, want %q", got, "abcdefgh")
	}
	if b.Cap() < 8 {
		t.Fatalf("cap = %d, want >= 8", b.Cap())
	}
}

func TestRealignReclaimsSpace(t *testing.T) {
	b := New(8)
	_ = b.Write([]byte("12345678"))
	_ = b.Consume(6)
	before := b.SpaceCount()
	b.Realign()
	if b.SpaceCount() <= before {
		t.Fatalf("realign did not reclaim space: before=%d after=%d", before, b.SpaceCount())
	}
	if string(b.Head()) != "78" {
		t.Fatalf("head after realign = %q, want %q", b.Head(), "78")
	}
}

func TestConsumeBeyondDataCountErrors(t *testing.T) {
	b := New(8)
	_ = b.Write([]byte("ab"))
	if err := b.Consume(5); err == nil {
		t.Fatal("expected error consuming beyond datacount")
	}
}

func TestWrapIsReadOnly(t *testing.T) {
	b := Wrap([]byte("fixed"))
	if b.DataCount() != 5 {
		t.Fatalf("datacount = %d, want 5", b.DataCount())
	}
	if err := b.Write([]byte("x")); err == nil {
		t.Fatal("expected error writing into a wrapped buffer")
	}
	if err := b.Consume(5); err != nil {
		t.Fatalf("consume: %v", err)
	}
}
