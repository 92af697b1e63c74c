package hw

import "encoding/binary"

const pageShift = 12
const pageSize = 1 << pageShift

// MemBus is a sparse page-backed Bus implementation for host-side testing
// and the development loopback daemon. Reads of untouched memory return
// zeroes; writes allocate pages on demand.
type MemBus struct {
	pages map[uint32]*[pageSize]byte
}

// NewMemBus returns an empty simulated bus.
func NewMemBus() *MemBus {
	return &MemBus{pages: make(map[uint32]*[pageSize]byte)}
}

func (m *MemBus) page(addr uint32, alloc bool) *[pageSize]byte {
	idx := addr >> pageShift
	p := m.pages[idx]
	if p == nil && alloc {
		p = new([pageSize]byte)
		m.pages[idx] = p
	}
	return p
}

func (m *MemBus) ReadBytes(addr uint32, p []byte) {
	for i := range p {
		a := addr + uint32(i)
		if pg := m.page(a, false); pg != nil {
			p[i] = pg[a%pageSize]
		} else {
			p[i] = 0
		}
	}
}

func (m *MemBus) WriteBytes(addr uint32, p []byte) {
	for i, b := range p {
		a := addr + uint32(i)
		m.page(a, true)[a%pageSize] = b
	}
}

func (m *MemBus) Read8(addr uint32) uint8 {
	var b [1]byte
	m.ReadBytes(addr, b[:])
	return b[0]
}

func (m *MemBus) Read16(addr uint32) uint16 {
	var b [2]byte
	m.ReadBytes(addr, b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func (m *MemBus) Read32(addr uint32) uint32 {
	var b [4]byte
	m.ReadBytes(addr, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (m *MemBus) Read64(addr uint32) uint64 {
	var b [8]byte
	m.ReadBytes(addr, b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func (m *MemBus) Write8(addr uint32, v uint8) {
	m.WriteBytes(addr, []byte{v})
}

func (m *MemBus) Write16(addr uint32, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	m.WriteBytes(addr, b[:])
}

func (m *MemBus) Write32(addr uint32, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	m.WriteBytes(addr, b[:])
}

func (m *MemBus) Write64(addr uint32, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	m.WriteBytes(addr, b[:])
}
