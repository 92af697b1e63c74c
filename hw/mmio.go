//go:build tinygo || baremetal

package hw

import (
	"runtime/volatile"
	"unsafe"
)

// MMIO is the real hardware bus: volatile width-exact loads and stores at
// the given local addresses.
type MMIO struct{}

func (MMIO) Read8(addr uint32) uint8 {
	return (*volatile.Register8)(unsafe.Pointer(uintptr(addr))).Get()
}

func (MMIO) Read16(addr uint32) uint16 {
	return (*volatile.Register16)(unsafe.Pointer(uintptr(addr))).Get()
}

func (MMIO) Read32(addr uint32) uint32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(addr))).Get()
}

// 64-bit accesses are split into two word accesses, the local bus is 32 bit
// wide.
func (MMIO) Read64(addr uint32) uint64 {
	lo := (*volatile.Register32)(unsafe.Pointer(uintptr(addr))).Get()
	hi := (*volatile.Register32)(unsafe.Pointer(uintptr(addr + 4))).Get()
	return uint64(hi)<<32 | uint64(lo)
}

func (MMIO) Write8(addr uint32, v uint8) {
	(*volatile.Register8)(unsafe.Pointer(uintptr(addr))).Set(v)
}

func (MMIO) Write16(addr uint32, v uint16) {
	(*volatile.Register16)(unsafe.Pointer(uintptr(addr))).Set(v)
}

func (MMIO) Write32(addr uint32, v uint32) {
	(*volatile.Register32)(unsafe.Pointer(uintptr(addr))).Set(v)
}

func (MMIO) Write64(addr uint32, v uint64) {
	(*volatile.Register32)(unsafe.Pointer(uintptr(addr))).Set(uint32(v))
	(*volatile.Register32)(unsafe.Pointer(uintptr(addr + 4))).Set(uint32(v >> 32))
}

func (m MMIO) ReadBytes(addr uint32, p []byte) {
	for i := range p {
		p[i] = m.Read8(addr + uint32(i))
	}
}

func (m MMIO) WriteBytes(addr uint32, p []byte) {
	for i, b := range p {
		m.Write8(addr+uint32(i), b)
	}
}
