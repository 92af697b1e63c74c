package transport

import (
	proto "github.com/serialdbg/scagent/protocol"
)

// Sender stamps and emits PDUs for one transfer direction. It owns the
// sent-PDU counter: sequence numbers are the post-increment counter value,
// so the first PDU after a reset carries sequence number 1.
type Sender struct {
	tr     Transport
	magics proto.Magics
	now    func() uint32
	sent   uint32
}

// NewSender returns a Sender framing PDUs with the given direction magics.
// now supplies the millisecond timestamp stamped into every header.
func NewSender(tr Transport, magics proto.Magics, now func() uint32) *Sender {
	return &Sender{tr: tr, magics: magics, now: now}
}

// Send builds one PDU and writes header, payload and footer to the
// transport, in that order. The only side effects are the transport writes
// and the counter increment.
func (s *Sender) Send(status proto.Status, subDev uint32, rrn proto.RRNID, payload []byte) error {
	if len(payload) > proto.MaxPayloadSize {
		return proto.ErrInvalidPayload
	}

	s.sent++
	hdr := proto.Header{
		Magic:       s.magics.Start,
		Seq:         s.sent,
		RRN:         rrn,
		SubDev:      subDev,
		Status:      status,
		PayloadLen:  uint32(len(payload)),
		TimestampMs: s.now(),
	}

	var hb [proto.HeaderSize]byte
	proto.EncodeHeader(hb[:], &hdr)

	ftr := proto.Footer{
		Checksum: proto.Checksum(hb[:], payload),
		Magic:    s.magics.End,
	}
	var fb [proto.FooterSize]byte
	proto.EncodeFooter(fb[:], &ftr)

	if err := s.tr.Write(hb[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if err := s.tr.Write(payload); err != nil {
			return err
		}
	}
	return s.tr.Write(fb[:])
}

// Sent returns the number of PDUs sent since the last reset.
func (s *Sender) Sent() uint32 { return s.sent }

// Reset clears the sent-PDU counter. The peer resets its expected sequence
// number at connect time, so the device calls this before acknowledging a
// connect request.
func (s *Sender) Reset() { s.sent = 0 }
