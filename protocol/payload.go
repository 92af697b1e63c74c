package protocol

import "encoding/binary"

// Typed PDU payloads. Each type encodes to a fixed little-endian layout,
// independent of in-memory struct layout.

// ConnectResp is the payload of a connect response PDU, advertising the
// device capabilities to the freshly connected peer.
// Wire layout: MaxPDU(4) | ScratchSize(4) | ScratchAddr(4) | Sockets(4) | SubDevsPerSocket(4) | Pad(4)
type ConnectResp struct {
	// MaxPDU is the size of the device PDU buffer.
	MaxPDU uint32
	// ScratchSize and ScratchAddr describe the staging region in the
	// device local address space.
	ScratchSize uint32
	ScratchAddr uint32
	// Sockets and SubDevsPerSocket describe the sub-device topology.
	Sockets          uint32
	SubDevsPerSocket uint32
}

const ConnectRespSize = 24

func (r *ConnectResp) Encode(dst []byte) []byte {
	binary.LittleEndian.PutUint32(dst[0:4], r.MaxPDU)
	binary.LittleEndian.PutUint32(dst[4:8], r.ScratchSize)
	binary.LittleEndian.PutUint32(dst[8:12], r.ScratchAddr)
	binary.LittleEndian.PutUint32(dst[12:16], r.Sockets)
	binary.LittleEndian.PutUint32(dst[16:20], r.SubDevsPerSocket)
	binary.LittleEndian.PutUint32(dst[20:24], 0)
	return dst[:ConnectRespSize]
}

func DecodeConnectResp(src []byte) (ConnectResp, error) {
	if len(src) < ConnectRespSize {
		return ConnectResp{}, ErrInvalidPayload
	}
	return ConnectResp{
		MaxPDU:           binary.LittleEndian.Uint32(src[0:4]),
		ScratchSize:      binary.LittleEndian.Uint32(src[4:8]),
		ScratchAddr:      binary.LittleEndian.Uint32(src[8:12]),
		Sockets:          binary.LittleEndian.Uint32(src[12:16]),
		SubDevsPerSocket: binary.LittleEndian.Uint32(src[16:20]),
	}, nil
}

// Beacon is the payload of the discovery notification sent while no peer
// is connected.
// Wire layout: Count(4) | Pad(4)
type Beacon struct {
	// Count is the number of beacons sent so far, including this one.
	Count uint32
}

const BeaconSize = 8

func (b *Beacon) Encode(dst []byte) []byte {
	binary.LittleEndian.PutUint32(dst[0:4], b.Count)
	binary.LittleEndian.PutUint32(dst[4:8], 0)
	return dst[:BeaconSize]
}

func DecodeBeacon(src []byte) (Beacon, error) {
	if len(src) < BeaconSize {
		return Beacon{}, ErrInvalidPayload
	}
	return Beacon{Count: binary.LittleEndian.Uint32(src[0:4])}, nil
}

// LocalXferReq heads the payload of transfer requests against the device
// local address spaces (memory, MMIO registers, system bus). For register
// style requests Count is the access width and must be 1, 2, 4 or 8; for
// bulk memory requests it is the number of bytes. Write data follows
// immediately after the request.
// Wire layout: Addr(4) | Count(4)
type LocalXferReq struct {
	Addr  uint32
	Count uint32
}

const LocalXferReqSize = 8

func (r *LocalXferReq) Encode(dst []byte) []byte {
	binary.LittleEndian.PutUint32(dst[0:4], r.Addr)
	binary.LittleEndian.PutUint32(dst[4:8], r.Count)
	return dst[:LocalXferReqSize]
}

// DecodeLocalXferReq splits a request payload into the request head and the
// trailing write data (empty for reads).
func DecodeLocalXferReq(src []byte) (LocalXferReq, []byte, error) {
	if len(src) < LocalXferReqSize {
		return LocalXferReq{}, nil, ErrInvalidPayload
	}
	req := LocalXferReq{
		Addr:  binary.LittleEndian.Uint32(src[0:4]),
		Count: binary.LittleEndian.Uint32(src[4:8]),
	}
	return req, src[LocalXferReqSize:], nil
}

// HostXferReq heads the payload of transfer requests against the
// host-physical address space, which is wider than the local one.
// Wire layout: Addr(8) | Count(4) | Pad(4)
type HostXferReq struct {
	Addr  uint64
	Count uint32
}

const HostXferReqSize = 16

func (r *HostXferReq) Encode(dst []byte) []byte {
	binary.LittleEndian.PutUint64(dst[0:8], r.Addr)
	binary.LittleEndian.PutUint32(dst[8:12], r.Count)
	binary.LittleEndian.PutUint32(dst[12:16], 0)
	return dst[:HostXferReqSize]
}

// DecodeHostXferReq splits a request payload into the request head and the
// trailing write data (empty for reads).
func DecodeHostXferReq(src []byte) (HostXferReq, []byte, error) {
	if len(src) < HostXferReqSize {
		return HostXferReq{}, nil, ErrInvalidPayload
	}
	req := HostXferReq{
		Addr:  binary.LittleEndian.Uint64(src[0:8]),
		Count: binary.LittleEndian.Uint32(src[8:12]),
	}
	return req, src[HostXferReqSize:], nil
}
