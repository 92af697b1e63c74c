// Package hw provides the device-register capability: width-exact atomic
// accesses and bulk copies at 32-bit local bus addresses. It is the only
// package permitted to touch raw memory; everything above it manipulates
// typed values.
package hw

import "encoding/binary"

// Bus is a bounds-unknown raw access region addressed by the coprocessor
// local address space. Width-exact accesses must not tear.
type Bus interface {
	Read8(addr uint32) uint8
	Read16(addr uint32) uint16
	Read32(addr uint32) uint32
	Read64(addr uint32) uint64
	Write8(addr uint32, v uint8)
	Write16(addr uint32, v uint16)
	Write32(addr uint32, v uint32)
	Write64(addr uint32, v uint64)

	// ReadBytes and WriteBytes do bulk copies with no width guarantee.
	ReadBytes(addr uint32, p []byte)
	WriteBytes(addr uint32, p []byte)
}

// ReadWidth performs one width-exact read at addr and serialises the value
// little-endian into dst[:width]. width must be valid.
func ReadWidth(b Bus, addr uint32, width uint32, dst []byte) {
	switch width {
	case 1:
		dst[0] = b.Read8(addr)
	case 2:
		binary.LittleEndian.PutUint16(dst, b.Read16(addr))
	case 4:
		binary.LittleEndian.PutUint32(dst, b.Read32(addr))
	case 8:
		binary.LittleEndian.PutUint64(dst, b.Read64(addr))
	}
}

// WriteWidth performs one width-exact write at addr with the little-endian
// value held in src[:width]. width must be valid.
func WriteWidth(b Bus, addr uint32, width uint32, src []byte) {
	switch width {
	case 1:
		b.Write8(addr, src[0])
	case 2:
		b.Write16(addr, binary.LittleEndian.Uint16(src))
	case 4:
		b.Write32(addr, binary.LittleEndian.Uint32(src))
	case 8:
		b.Write64(addr, binary.LittleEndian.Uint64(src))
	}
}
