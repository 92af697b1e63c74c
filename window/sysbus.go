package window

import "github.com/serialdbg/scagent/hw"

// System-bus window pool geometry. Thirty-two slots of 1 MiB each map the
// secondary on-chip address space into the local range at SysLocalBase.
const (
	SysSlots      = 32
	SysWindowSize = 1 << 20
	SysLocalBase  = 0x01000000

	// sysNilBase marks an unused system-bus slot.
	sysNilBase = 0

	// Each control word packs the 1 MiB-granular bases of two adjacent
	// slots into its low and high halves.
	sysSlotRegBase = 0x03220000
)

// NewSysBus returns the pool translating secondary on-chip addresses
// through the 32 hardware window slots. The pool carries no memory-type
// tags; callers pass tag 0.
func NewSysBus(bus hw.Bus) *Pool {
	return &Pool{
		bus:       bus,
		slots:     make([]slot, SysSlots),
		size:      SysWindowSize,
		localBase: SysLocalBase,
		nilBase:   sysNilBase,
		program:   sysProgram,
		clear:     sysClear,
	}
}

func sysProgram(bus hw.Bus, idx int, base uint64, _ uint32) {
	reg := uint32(sysSlotRegBase) + uint32(idx/2)*4
	ctrl := bus.Read32(reg)
	if idx&1 != 0 {
		ctrl |= uint32(base>>20) << 16
	} else {
		ctrl |= uint32(base >> 20)
	}
	bus.Write32(reg, ctrl)
}

func sysClear(bus hw.Bus, idx int) {
	reg := uint32(sysSlotRegBase) + uint32(idx/2)*4
	ctrl := bus.Read32(reg)
	if idx&1 != 0 {
		ctrl &= 0x0000ffff
	} else {
		ctrl &= 0xffff0000
	}
	bus.Write32(reg, ctrl)
}
