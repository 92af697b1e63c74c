//go:build !tinygo && !baremetal

package stub

import (
	"bytes"
	"testing"
)

func TestPipeCrossover(t *testing.T) {
	a, b := NewPipe()

	if err := a.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if a.Avail() != 0 {
		t.Errorf("writer Avail() = %d, want 0", a.Avail())
	}
	if b.Avail() != 3 {
		t.Fatalf("reader Avail() = %d, want 3", b.Avail())
	}

	got := make([]byte, 3)
	if err := b.Read(got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Read() = %v, want [1 2 3]", got)
	}
}

func TestPipeUnderflow(t *testing.T) {
	a, b := NewPipe()

	if err := a.Write([]byte{42}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := b.Read(make([]byte, 2)); err != ErrUnderflow {
		t.Errorf("Read() error = %v, want %v", err, ErrUnderflow)
	}
}

func TestPipeOverflow(t *testing.T) {
	a, b := NewPipe()

	if err := a.Write(make([]byte, ringCapacity)); err != nil {
		t.Fatalf("Write() at capacity error = %v", err)
	}
	if err := a.Write([]byte{0}); err != ErrOverflow {
		t.Errorf("Write() past capacity error = %v, want %v", err, ErrOverflow)
	}

	// Drain and confirm wrap-around delivery stays intact.
	if err := b.Read(make([]byte, ringCapacity)); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	msg := []byte{0xaa, 0xbb}
	if err := a.Write(msg); err != nil {
		t.Fatalf("Write() after drain error = %v", err)
	}
	got := make([]byte, 2)
	if err := b.Read(got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("Read() = %x, want %x", got, msg)
	}
}
