package window

import "github.com/serialdbg/scagent/hw"

// Host-physical window pool geometry. Fifteen slots of 64 MiB each map into
// the local range starting at HostLocalBase.
const (
	HostSlots      = 15
	HostWindowSize = 64 << 20
	HostLocalBase  = 0x04000000

	// Memory-type tags programmed into the slot registers.
	TagMemory = 0x4
	TagMMIO   = 0x6

	// hostNilBase marks an unused host-physical slot. Zero is a valid
	// base in this address space, all-ones is not.
	hostNilBase = ^uint64(0)

	// Translation register blocks.
	hostSlotRegBase  = 0x03230000 // 4 words per slot
	hostSlotMaskBase = 0x032303e0
	hostSlotCtrlBase = 0x032304d8
)

// NewHostPhys returns the pool translating 48-bit host-physical addresses
// through the 15 hardware window slots.
func NewHostPhys(bus hw.Bus) *Pool {
	p := &Pool{
		bus:       bus,
		slots:     make([]slot, HostSlots),
		size:      HostWindowSize,
		localBase: HostLocalBase,
		nilBase:   hostNilBase,
		program:   hostProgram,
		clear:     hostClear,
	}
	for i := range p.slots {
		p.slots[i].base = hostNilBase
	}
	return p
}

func hostProgram(bus hw.Bus, idx int, base uint64, tag uint32) {
	reg := uint32(hostSlotRegBase) + uint32(idx)*16
	bus.Write32(reg, uint32((base>>32)<<6)|uint32((base>>26)&0x3f))
	bus.Write32(reg+4, 0x12) // fixed value, purpose unknown
	bus.Write32(reg+8, tag)
	bus.Write32(reg+12, tag)
	bus.Write32(uint32(hostSlotMaskBase)+uint32(idx)*4, 0xffffffff)
	bus.Write32(uint32(hostSlotCtrlBase)+uint32(idx)*4, 0xc0000000)
}

func hostClear(bus hw.Bus, idx int) {
	reg := uint32(hostSlotRegBase) + uint32(idx)*16
	bus.Write32(reg, 0)
	bus.Write32(reg+4, 0)
	bus.Write32(reg+8, 0)
	bus.Write32(reg+12, 0)
	bus.Write32(uint32(hostSlotMaskBase)+uint32(idx)*4, 0xffffffff)
	bus.Write32(uint32(hostSlotCtrlBase)+uint32(idx)*4, 0)
}
