package iopump

import (
	"os"
	"testing"
)

func pipePair(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return r, w
}

func TestPumpReadWriteNoCap(t *testing.T) {
	r, w := pipePair(t)
	sinkR, sink := pipePair(t)
	_ = sinkR

	p := New(r, sink, -1)
	p.spliceFailed = true // force the buffered fallback for a deterministic test

	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	w.Close()

	for !p.Closed() {
		if _, err := p.Pump(); err != nil {
			t.Fatalf("Pump: %v", err)
		}
	}
	if p.BytesRead() != 5 {
		t.Fatalf("BytesRead = %d, want 5", p.BytesRead())
	}
	if p.BytesPassed() != 5 {
		t.Fatalf("BytesPassed = %d, want 5", p.BytesPassed())
	}
	if p.Truncated() {
		t.Fatal("should not be truncated")
	}
}

func TestPumpStickyTruncation(t *testing.T) {
	r, w := pipePair(t)
	_, sink := pipePair(t)

	p := New(r, sink, 3)
	p.spliceFailed = true

	data := []byte("abcdef")
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	w.Close()

	for !p.Closed() {
		if _, err := p.Pump(); err != nil {
			t.Fatalf("Pump: %v", err)
		}
	}
	if p.BytesRead() != int64(len(data)) {
		t.Fatalf("BytesRead = %d, want %d", p.BytesRead(), len(data))
	}
	if p.BytesPassed() != 3 {
		t.Fatalf("BytesPassed = %d, want 3 (sticky cap)", p.BytesPassed())
	}
	if !p.Truncated() {
		t.Fatal("expected Truncated() to be true")
	}
	if p.BytesPassed() > p.BytesRead() {
		t.Fatal("invariant violated: bytes_passed > bytes_read")
	}
}

func TestPumpSpliceClampsToCapOnRealFile(t *testing.T) {
	r, w := pipePair(t)

	tmp, err := os.CreateTemp(t.TempDir(), "iopump-splice-cap")
	if err != nil {
		t.Fatal(err)
	}
	defer tmp.Close()

	const cap_ = 1024
	p := New(r, tmp, cap_) // spliceFailed left false: this must go through pumpSplice

	data := make([]byte, 2048)
	for i := range data {
		data[i] = 'a'
	}
	go func() {
		_, _ = w.Write(data)
		w.Close()
	}()

	if err := p.PumpUntilClosed(); err != nil {
		t.Fatalf("PumpUntilClosed: %v", err)
	}
	if p.BytesRead() != int64(len(data)) {
		t.Fatalf("BytesRead = %d, want %d", p.BytesRead(), len(data))
	}
	if p.BytesPassed() != cap_ {
		t.Fatalf("BytesPassed = %d, want %d (sticky cap)", p.BytesPassed(), cap_)
	}

	info, err := tmp.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != cap_ {
		t.Fatalf("file size = %d, want %d: splice overshot the cap", info.Size(), cap_)
	}
}

func TestPumpUntilClosedDrainsFully(t *testing.T) {
	r, w := pipePair(t)
	_, sink := pipePair(t)

	p := New(r, sink, -1)
	p.spliceFailed = true
	w.Write([]byte("x"))
	w.Close()

	if err := p.PumpUntilClosed(); err != nil {
		t.Fatalf("PumpUntilClosed: %v", err)
	}
	if !p.Closed() {
		t.Fatal("expected pump to be closed after drain")
	}
	n, err := p.Pump()
	if err != nil {
		t.Fatalf("Pump after drain: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected zero bytes from a closed pump, got %d", n)
	}
}
