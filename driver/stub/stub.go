//go:build !tinygo && !baremetal

// Package stub provides an in-memory duplex byte pipe implementing the
// transport interface, for host-side tests and the loopback daemon.
package stub

import (
	"errors"
	"sync"

	"github.com/serialdbg/scagent/transport"
)

var (
	// ErrOverflow is returned when a writer outruns the fixed ring
	// capacity of the receiving end.
	ErrOverflow = errors.New("stub: ring buffer overflow")
	// ErrUnderflow is returned when a read requests more bytes than
	// Avail reported.
	ErrUnderflow = errors.New("stub: read beyond available bytes")
)

const ringCapacity = 64 * 1024

// End is one side of a duplex pipe. Writes land in the peer's receive
// ring; reads drain the own ring.
type End struct {
	mu   sync.Mutex
	ring [ringCapacity]byte
	head int // next pop
	tail int // next push
	size int

	peer *End
}

// NewPipe returns the two connected ends of a fresh pipe.
func NewPipe() (*End, *End) {
	a := &End{}
	b := &End{}
	a.peer = b
	b.peer = a
	return a, b
}

var _ transport.Transport = (*End)(nil)

func (e *End) Write(p []byte) error {
	return e.peer.inject(p)
}

func (e *End) inject(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.size+len(p) > ringCapacity {
		return ErrOverflow
	}
	for _, b := range p {
		e.ring[e.tail] = b
		e.tail = (e.tail + 1) % ringCapacity
	}
	e.size += len(p)
	return nil
}

func (e *End) Read(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(p) > e.size {
		return ErrUnderflow
	}
	for i := range p {
		p[i] = e.ring[e.head]
		e.head = (e.head + 1) % ringCapacity
	}
	e.size -= len(p)
	return nil
}

func (e *End) Avail() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.size
}
