package protocol

import "encoding/binary"

// Header is the fixed leading part of every PDU.
// Wire layout: Magic(4) | Seq(4) | RRN(4) | SubDev(4) | Status(4) | PayloadLen(4) | TimestampMs(4)
type Header struct {
	Magic       uint32
	Seq         uint32
	RRN         RRNID
	SubDev      uint32
	Status      Status
	PayloadLen  uint32
	TimestampMs uint32
}

// Footer trails the payload of every PDU.
// Wire layout: Checksum(4) | EndMagic(4)
type Footer struct {
	Checksum uint32
	Magic    uint32
}

// EncodeHeader serialises h into dst, which must hold at least HeaderSize bytes.
func EncodeHeader(dst []byte, h *Header) {
	binary.LittleEndian.PutUint32(dst[0:4], h.Magic)
	binary.LittleEndian.PutUint32(dst[4:8], h.Seq)
	binary.LittleEndian.PutUint32(dst[8:12], uint32(h.RRN))
	binary.LittleEndian.PutUint32(dst[12:16], h.SubDev)
	binary.LittleEndian.PutUint32(dst[16:20], uint32(h.Status))
	binary.LittleEndian.PutUint32(dst[20:24], h.PayloadLen)
	binary.LittleEndian.PutUint32(dst[24:28], h.TimestampMs)
}

// DecodeHeader deserialises a header from src, which must hold at least
// HeaderSize bytes.
func DecodeHeader(src []byte) Header {
	return Header{
		Magic:       binary.LittleEndian.Uint32(src[0:4]),
		Seq:         binary.LittleEndian.Uint32(src[4:8]),
		RRN:         RRNID(binary.LittleEndian.Uint32(src[8:12])),
		SubDev:      binary.LittleEndian.Uint32(src[12:16]),
		Status:      Status(binary.LittleEndian.Uint32(src[16:20])),
		PayloadLen:  binary.LittleEndian.Uint32(src[20:24]),
		TimestampMs: binary.LittleEndian.Uint32(src[24:28]),
	}
}

// EncodeFooter serialises f into dst, which must hold at least FooterSize bytes.
func EncodeFooter(dst []byte, f *Footer) {
	binary.LittleEndian.PutUint32(dst[0:4], f.Checksum)
	binary.LittleEndian.PutUint32(dst[4:8], f.Magic)
}

// DecodeFooter deserialises a footer from src, which must hold at least
// FooterSize bytes.
func DecodeFooter(src []byte) Footer {
	return Footer{
		Checksum: binary.LittleEndian.Uint32(src[0:4]),
		Magic:    binary.LittleEndian.Uint32(src[4:8]),
	}
}

// Checksum computes the footer checksum over the encoded header (minus the
// start magic) and the payload. The stored value is the two's complement of
// the byte sum, so summing the covered bytes plus the checksum yields zero.
func Checksum(hdr []byte, payload []byte) uint32 {
	var sum uint32
	for _, b := range hdr[4:HeaderSize] {
		sum += uint32(b)
	}
	for _, b := range payload {
		sum += uint32(b)
	}
	return -sum
}

// VerifyChecksum reports whether stored is a valid checksum for the encoded
// header and payload bytes.
func VerifyChecksum(hdr []byte, payload []byte, stored uint32) bool {
	var sum uint32
	for _, b := range hdr[4:HeaderSize] {
		sum += uint32(b)
	}
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum+stored == 0
}
