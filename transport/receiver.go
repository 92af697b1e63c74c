package transport

import (
	proto "github.com/serialdbg/scagent/protocol"
)

// recvState tracks which part of a PDU is currently being received.
type recvState uint8

const (
	stateHeader recvState = iota
	statePayload
	stateFooter
)

// Config parameterizes a Receiver for one transfer direction.
type Config struct {
	// Magics is the framing pair expected on inbound PDUs.
	Magics proto.Magics
	// Accept reports whether an inbound identifier is valid for this
	// direction (requests on the device, responses/notifications on the
	// host).
	Accept func(proto.RRNID) bool
	// SubDevs bounds the sub-device id carried in inbound headers.
	SubDevs uint32
	// Now supplies the monotonic millisecond clock for wait bounds.
	Now func() uint32
	// Idle, if non-nil, is called between polls while no transport bytes
	// are available.
	Idle func()
}

// Receiver consumes transport bytes incrementally and produces one
// validated PDU at a time. All PDUs materialize in a single fixed buffer;
// the payload slice returned by Recv aliases that buffer and is only valid
// until the next call.
//
// Any validation failure drops the PDU silently. A broken frame (bad start
// magic or impossible payload length) triggers a byte-by-byte scan for the
// next header; a well-framed PDU failing semantic or footer checks is
// consumed whole so the stream stays aligned. The expected sequence number
// only advances when a complete PDU passes footer validation.
type Receiver struct {
	tr  Transport
	cfg Config

	state recvState
	buf   [proto.MaxPDUSize]byte
	off   int
	left  int

	scanning bool
	doomed   bool

	nextSeq  uint32
	checkSeq bool
	drops    uint32
}

// NewReceiver returns a Receiver in the header state, expecting the first
// inbound PDU to carry sequence number 1.
func NewReceiver(tr Transport, cfg Config) *Receiver {
	r := &Receiver{tr: tr, cfg: cfg, nextSeq: 1, checkSeq: true}
	r.reset()
	return r
}

// reset resynchronizes the state machine to expect a fresh header.
func (r *Receiver) reset() {
	r.state = stateHeader
	r.off = 0
	r.left = proto.HeaderSize
	r.doomed = false
}

// TrackSequence enables strict sequence checking with the given
// expected-next value.
func (r *Receiver) TrackSequence(next uint32) {
	r.nextSeq = next
	r.checkSeq = true
}

// LooseSequence disables sequence checking. The host side uses this while
// disconnected, when it may tune in mid-way through the beacon stream.
func (r *Receiver) LooseSequence() { r.checkSeq = false }

// Drops returns the number of PDUs dropped due to validation failures.
func (r *Receiver) Drops() uint32 { return r.drops }

// NextSeq returns the sequence number expected on the next inbound PDU.
func (r *Receiver) NextSeq() uint32 { return r.nextSeq }

// Recv waits until a complete, valid PDU arrives or timeoutMs milliseconds
// elapse. Passing protocol.IndefiniteWait disables the bound entirely.
// On timeout it returns protocol.ErrTimeout; transport errors are fatal and
// returned as-is.
func (r *Receiver) Recv(timeoutMs uint32) (proto.Header, []byte, error) {
	start := r.cfg.Now()
	for {
		avail := r.tr.Avail()
		if avail > 0 {
			// Only read what the current state still needs.
			n := avail
			if n > r.left {
				n = r.left
			}
			if err := r.tr.Read(r.buf[r.off : r.off+n]); err != nil {
				return proto.Header{}, nil, err
			}
			r.off += n
			r.left -= n
			if r.left == 0 {
				if hdr, payload, ok := r.advance(); ok {
					return hdr, payload, nil
				}
			}
			continue
		}
		if timeoutMs != proto.IndefiniteWait && r.cfg.Now()-start >= timeoutMs {
			return proto.Header{}, nil, proto.ErrTimeout
		}
		if r.cfg.Idle != nil {
			r.cfg.Idle()
		}
	}
}

// advance processes a completed state and moves to the next one. It returns
// a PDU exactly when the footer state completes with a valid checksum.
func (r *Receiver) advance() (proto.Header, []byte, bool) {
	switch r.state {
	case stateHeader:
		hdr := proto.DecodeHeader(r.buf[:proto.HeaderSize])
		if hdr.Magic != r.cfg.Magics.Start || hdr.PayloadLen > proto.MaxPayloadSize {
			// Framing is gone; shift one byte at a time until a plausible
			// header lines up again.
			if !r.scanning {
				r.scanning = true
				r.drops++
			}
			copy(r.buf[:], r.buf[1:proto.HeaderSize])
			r.off = proto.HeaderSize - 1
			r.left = 1
			return proto.Header{}, nil, false
		}
		r.scanning = false
		// A well-framed but semantically invalid PDU is consumed whole to
		// keep the stream aligned, then dropped at the footer.
		r.doomed = !r.validateHeader(&hdr)
		if hdr.PayloadLen > 0 {
			r.state = statePayload
			r.left = int(hdr.PayloadLen)
		} else {
			r.state = stateFooter
			r.left = proto.FooterSize
		}
	case statePayload:
		r.state = stateFooter
		r.left = proto.FooterSize
	case stateFooter:
		hdr := proto.DecodeHeader(r.buf[:proto.HeaderSize])
		payload := r.buf[proto.HeaderSize : proto.HeaderSize+int(hdr.PayloadLen)]
		ftr := proto.DecodeFooter(r.buf[r.off-proto.FooterSize : r.off])

		ok := !r.doomed && ftr.Magic == r.cfg.Magics.End &&
			proto.VerifyChecksum(r.buf[:proto.HeaderSize], payload, ftr.Checksum)
		// A new PDU is received into the buffer in any case; the returned
		// payload stays intact until then.
		r.reset()
		if !ok {
			r.drops++
			return proto.Header{}, nil, false
		}
		if r.checkSeq {
			r.nextSeq++
		}
		return hdr, payload, true
	}
	return proto.Header{}, nil, false
}

// validateHeader applies the semantic header checks: identifier range,
// sequence number and sub-device id. Framing was already established.
func (r *Receiver) validateHeader(hdr *proto.Header) bool {
	if r.cfg.Accept != nil && !r.cfg.Accept(hdr.RRN) {
		return false
	}
	if r.checkSeq && hdr.Seq != r.nextSeq {
		return false
	}
	if r.cfg.SubDevs != 0 && hdr.SubDev >= r.cfg.SubDevs {
		return false
	}
	return true
}
