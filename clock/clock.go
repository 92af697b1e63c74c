// Package clock derives a monotonic millisecond clock from a wrapping
// 32-bit hardware counter with 10 ns resolution.
package clock

import (
	"time"

	"github.com/serialdbg/scagent/hw"
)

// TicksPerMilli is the number of 10 ns counter ticks per millisecond.
const TicksPerMilli = 100 * 1000

// Counter is a raw wrapping 32-bit tick source.
type Counter interface {
	Read() uint32
}

// Clock accumulates counter ticks into whole milliseconds, absorbing
// counter wraparound. The reported value never decreases.
type Clock struct {
	ctr      Counter
	last     uint32
	subTicks uint32
	millis   uint32
}

// New returns a Clock starting at zero milliseconds. The counter's current
// value is taken as the epoch.
func New(ctr Counter) *Clock {
	return &Clock{ctr: ctr, last: ctr.Read()}
}

// Millis polls the counter, advances the internal clock and returns the
// number of milliseconds elapsed since the clock was created.
func (c *Clock) Millis() uint32 {
	now := c.ctr.Read()

	var passed uint32
	if now >= c.last {
		passed = now - c.last
	} else { // wraparound
		passed = now + (0xffffffff - c.last) + 1
	}
	c.last = now

	passed += c.subTicks
	c.millis += passed / TicksPerMilli
	c.subTicks = passed % TicksPerMilli

	return c.millis
}

// Hardware timer registers. The counter is the second on-chip timer, left
// untouched by the boot ROM after startup.
const (
	timerCtrlReg  = 0x03010424
	timerCountReg = timerCtrlReg + 32
)

// HardwareCounter reads the on-chip 100 MHz timer through the register bus.
type HardwareCounter struct {
	bus hw.Bus
}

// StartHardwareCounter zeroes and starts the on-chip timer and returns a
// Counter backed by it.
func StartHardwareCounter(bus hw.Bus) *HardwareCounter {
	bus.Write32(timerCountReg, 0)
	bus.Write32(timerCtrlReg, 0x101)
	return &HardwareCounter{bus: bus}
}

func (h *HardwareCounter) Read() uint32 {
	return h.bus.Read32(timerCountReg)
}

// WallCounter maps the host wall clock onto 10 ns ticks. Host-side
// executables use it in place of the hardware timer.
type WallCounter struct {
	epoch time.Time
}

// NewWallCounter returns a WallCounter starting at the current time.
func NewWallCounter() *WallCounter {
	return &WallCounter{epoch: time.Now()}
}

func (w *WallCounter) Read() uint32 {
	return uint32(time.Since(w.epoch).Nanoseconds() / 10)
}
