// Package window manages the finite pools of hardware address-translation
// windows that map large aligned external ranges into fixed local ranges.
// Each pool slot is reference counted: the hardware registers for a slot
// are programmed on the first acquisition of a (base, tag) pair and cleared
// again when the last reference is released.
package window

import (
	"errors"

	"github.com/serialdbg/scagent/hw"
)

var (
	// ErrExhausted is returned by Map when no slot matches and none is free.
	ErrExhausted = errors.New("window: all slots in use")
	// ErrNotMapped is returned by Unmap for pointers that do not resolve to
	// a held mapping.
	ErrNotMapped = errors.New("window: address not mapped")
)

type slot struct {
	base uint64
	tag  uint32
	refs uint32
}

// Pool is one fixed-capacity window pool. Both hardware pools share this
// algorithm and differ only in geometry and register programming.
type Pool struct {
	bus   hw.Bus
	slots []slot

	size      uint32 // window size, also the base alignment
	localBase uint32 // local address of slot 0
	nilBase   uint64 // sentinel base marking an unused slot

	program func(bus hw.Bus, idx int, base uint64, tag uint32)
	clear   func(bus hw.Bus, idx int)
}

// Map translates target into a local address. The target is split into an
// aligned base and an offset; an existing slot holding (base, tag) is
// reused, otherwise a free slot is claimed and its hardware registers are
// programmed. When neither exists the pool is exhausted and no state
// changes.
func (p *Pool) Map(target uint64, tag uint32) (uint32, error) {
	base := target &^ uint64(p.size-1)
	off := uint32(target - base)

	idx := -1
	for i := range p.slots {
		s := &p.slots[i]
		if (s.base == p.nilBase && s.refs == 0) || (s.base == base && s.tag == tag) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, ErrExhausted
	}

	s := &p.slots[idx]
	if s.base == p.nilBase {
		s.base = base
		s.tag = tag
		p.program(p.bus, idx, base, tag)
	}
	s.refs++

	return p.localBase + uint32(idx)*p.size + off, nil
}

// Unmap releases one reference on the mapping local resolves to. The local
// address must lie on a window boundary of a slot holding at least one
// reference; dropping the last reference clears the hardware programming
// and resets the slot to its unused state.
func (p *Pool) Unmap(local uint32) error {
	mapBase := local &^ (p.size - 1)
	if mapBase < p.localBase {
		return ErrNotMapped
	}
	idx := int((mapBase - p.localBase) / p.size)
	if idx >= len(p.slots) {
		return ErrNotMapped
	}

	s := &p.slots[idx]
	if s.refs == 0 {
		return ErrNotMapped
	}
	s.refs--
	if s.refs == 0 {
		s.base = p.nilBase
		s.tag = 0
		p.clear(p.bus, idx)
	}
	return nil
}

// Refs returns the reference count held on slot idx.
func (p *Pool) Refs(idx int) uint32 { return p.slots[idx].refs }

// Slots returns the pool capacity.
func (p *Pool) Slots() int { return len(p.slots) }
