package ingress

import (
	"testing"
	"time"

	"github.com/momentics/statsrelay/internal/backend"
	"github.com/momentics/statsrelay/internal/hashring"
	"github.com/momentics/statsrelay/internal/ringbuf"
)

func newTestRing(t *testing.T) *hashring.Ring {
	t.Helper()
	c := backend.New(nil, "backend-a", "0", "udp", backend.DefaultConfig(), nil)
	r, err := hashring.New([]*backend.Client{c})
	if err != nil {
		t.Fatalf("hashring.New: %v", err)
	}
	return r
}

func TestRelayLineStatsdValid(t *testing.T) {
	p := New(NewStatsdProtocol(true), newTestRing(t))
	if err := p.RelayLine(time.Now(), []byte("foo:1|c\n")); err != nil {
		t.Fatalf("RelayLine: %v", err)
	}
	if p.MalformedLines() != 0 {
		t.Fatalf("expected no malformed lines, got %d", p.MalformedLines())
	}
}

func TestRelayLineStatsdInvalidCountsMalformed(t *testing.T) {
	p := New(NewStatsdProtocol(true), newTestRing(t))
	if err := p.RelayLine(time.Now(), []byte(":1|c\n")); err == nil {
		t.Fatal("expected error for line with empty key")
	}
	if p.MalformedLines() != 1 {
		t.Fatalf("MalformedLines() = %d, want 1", p.MalformedLines())
	}
}

func TestRelayLineValidationDisabledSkipsValidator(t *testing.T) {
	p := New(NewStatsdProtocol(false), newTestRing(t))
	if err := p.RelayLine(time.Now(), []byte("foo:notanumber|c\n")); err != nil {
		t.Fatalf("expected validation-disabled line to pass through to key extraction, got: %v", err)
	}
}

func TestProcessBufferRelaysCompleteLinesOnly(t *testing.T) {
	p := New(NewStatsdProtocol(true), newTestRing(t))
	buf := ringbuf.New(64)
	if err := buf.Write([]byte("foo:1|c\nbar:2|c\npartial")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.ProcessBuffer(time.Now(), buf, nil); err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}
	if got := string(buf.Head()); got != "partial" {
		t.Fatalf("expected partial line left buffered, got %q", got)
	}
}

func TestProcessBufferInterceptsStatus(t *testing.T) {
	p := New(NewStatsdProtocol(true), newTestRing(t))
	buf := ringbuf.New(64)
	if err := buf.Write([]byte(StatusCommand)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	called := false
	err := p.ProcessBuffer(time.Now(), buf, func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}
	if !called {
		t.Fatal("expected onStatus to be invoked for the status command")
	}
	if buf.DataCount() != 0 {
		t.Fatal("expected status line to be consumed")
	}
}

func TestProcessDatagramRelaysTrailingLineWithoutNewline(t *testing.T) {
	p := New(NewStatsdProtocol(true), newTestRing(t))
	if err := p.ProcessDatagram(time.Now(), []byte("foo:1|c\nbar:2|c")); err != nil {
		t.Fatalf("ProcessDatagram: %v", err)
	}
}

func TestProcessBufferRejectsOversizedTerminatedLine(t *testing.T) {
	p := New(NewStatsdProtocol(true), newTestRing(t))
	buf := ringbuf.New(1 << 17)
	line := append([]byte("foo:"), make([]byte, MaxLineLength)...)
	line = append(line, []byte("|c\n")...)
	if err := buf.Write(line); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.ProcessBuffer(time.Now(), buf, nil); err == nil {
		t.Fatal("expected an oversized terminated line to be rejected")
	}
	if p.MalformedLines() != 1 {
		t.Fatalf("MalformedLines() = %d, want 1", p.MalformedLines())
	}
}

func TestProcessBufferRejectsUnterminatedLineBeyondWorkArea(t *testing.T) {
	p := New(NewStatsdProtocol(true), newTestRing(t))
	buf := ringbuf.New(1 << 17)
	if err := buf.Write(make([]byte, MaxLineLength+1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.ProcessBuffer(time.Now(), buf, nil); err == nil {
		t.Fatal("expected an unterminated over-length buffer to be rejected")
	}
}

func TestProcessDatagramRejectsOversizedLine(t *testing.T) {
	p := New(NewStatsdProtocol(true), newTestRing(t))
	line := append([]byte("foo:"), make([]byte, MaxLineLength)...)
	line = append(line, []byte("|c\n")...)
	if err := p.ProcessDatagram(time.Now(), line); err == nil {
		t.Fatal("expected an oversized datagram line to be rejected")
	}
}

func TestCarbonPipelineNormalizesAndRelays(t *testing.T) {
	p := New(NewCarbonProtocol(true), newTestRing(t))
	if err := p.RelayLine(time.Now(), []byte("carbon.a..b 1 1690000000\n")); err != nil {
		t.Fatalf("RelayLine: %v", err)
	}
}
