package transport

import (
	"bytes"
	"testing"

	proto "github.com/serialdbg/scagent/protocol"
)

// mockTransport buffers written bytes for the receiving side, with no
// concurrency involved.
type mockTransport struct {
	buf []byte
}

func (m *mockTransport) Write(p []byte) error {
	m.buf = append(m.buf, p...)
	return nil
}

func (m *mockTransport) Read(p []byte) error {
	copy(p, m.buf[:len(p)])
	m.buf = m.buf[len(p):]
	return nil
}

func (m *mockTransport) Avail() int { return len(m.buf) }

// Corrupt flips one bit of the buffered byte at off.
func (m *mockTransport) Corrupt(off int) { m.buf[off] ^= 0x01 }

// fakeClock advances by one millisecond per reading, so bounded waits on an
// empty transport terminate.
type fakeClock struct {
	ms uint32
}

func (c *fakeClock) Now() uint32 {
	c.ms++
	return c.ms
}

func newPair(clk *fakeClock) (*mockTransport, *Sender, *Receiver) {
	tr := &mockTransport{}
	send := NewSender(tr, proto.DeviceToHost, clk.Now)
	recv := NewReceiver(tr, Config{
		Magics: proto.DeviceToHost,
		Now:    clk.Now,
	})
	return tr, send, recv
}

func TestSendReceiveRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		status  proto.Status
		subDev  uint32
		rrn     proto.RRNID
		payload []byte
	}{
		{
			name: "empty payload",
			rrn:  proto.RespConnect,
		},
		{
			name:    "small payload",
			status:  proto.StatusTryAgain,
			subDev:  2,
			rrn:     proto.RespLocalMemRead,
			payload: []byte{1, 2, 3, 4, 5},
		},
		{
			name:    "maximum payload",
			rrn:     proto.RespHostMemRead,
			payload: bytes.Repeat([]byte{0xa5}, proto.MaxPayloadSize),
		},
	}

	clk := &fakeClock{}
	_, send, recv := newPair(clk)

	wantSeq := uint32(1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := send.Send(tt.status, tt.subDev, tt.rrn, tt.payload); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			hdr, payload, err := recv.Recv(10)
			if err != nil {
				t.Fatalf("Recv() error = %v", err)
			}
			if hdr.Seq != wantSeq {
				t.Errorf("Seq = %d, want %d", hdr.Seq, wantSeq)
			}
			if hdr.RRN != tt.rrn {
				t.Errorf("RRN = %d, want %d", hdr.RRN, tt.rrn)
			}
			if hdr.SubDev != tt.subDev {
				t.Errorf("SubDev = %d, want %d", hdr.SubDev, tt.subDev)
			}
			if hdr.Status != tt.status {
				t.Errorf("Status = %d, want %d", hdr.Status, tt.status)
			}
			if !bytes.Equal(payload, tt.payload) {
				t.Errorf("payload length = %d, want %d", len(payload), len(tt.payload))
			}
			wantSeq++
		})
	}

	if send.Sent() != uint32(len(tests)) {
		t.Errorf("Sent() = %d, want %d", send.Sent(), len(tests))
	}
}

func TestSendOversizedPayload(t *testing.T) {
	clk := &fakeClock{}
	_, send, _ := newPair(clk)

	big := make([]byte, proto.MaxPayloadSize+1)
	if err := send.Send(proto.StatusSuccess, 0, proto.NotLogMsg, big); err != proto.ErrInvalidPayload {
		t.Errorf("Send() error = %v, want %v", err, proto.ErrInvalidPayload)
	}
	if send.Sent() != 0 {
		t.Errorf("Sent() = %d after rejected send, want 0", send.Sent())
	}
}

func TestRecvTimeout(t *testing.T) {
	clk := &fakeClock{}
	_, _, recv := newPair(clk)

	if _, _, err := recv.Recv(5); err != proto.ErrTimeout {
		t.Errorf("Recv() error = %v, want %v", err, proto.ErrTimeout)
	}
}

func TestCorruptionDropsAndResyncs(t *testing.T) {
	// Offsets into an encoded PDU with a 4-byte payload.
	tests := []struct {
		name string
		off  int
	}{
		{"start magic", 0},
		{"sequence number", 4},
		{"identifier", 8},
		{"payload length", 23},
		{"payload byte", proto.HeaderSize + 1},
		{"checksum", proto.HeaderSize + 4},
		{"end magic", proto.HeaderSize + 4 + 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &fakeClock{}
			tr, send, recv := newPair(clk)

			payload := []byte{0x10, 0x20, 0x30, 0x40}
			if err := send.Send(proto.StatusSuccess, 0, proto.NotBeacon, payload); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			tr.Corrupt(tt.off)

			if _, _, err := recv.Recv(10); err != proto.ErrTimeout {
				t.Fatalf("Recv() after corruption error = %v, want %v", err, proto.ErrTimeout)
			}
			if recv.Drops() != 1 {
				t.Errorf("Drops() = %d, want 1", recv.Drops())
			}

			// The stream must recover: the next valid PDU still carries the
			// sequence number the receiver expects.
			send.Reset()
			if err := send.Send(proto.StatusSuccess, 0, proto.NotBeacon, payload); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			hdr, got, err := recv.Recv(10)
			if err != nil {
				t.Fatalf("Recv() after resync error = %v", err)
			}
			if hdr.Seq != 1 {
				t.Errorf("Seq after resync = %d, want 1", hdr.Seq)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("payload after resync = %x, want %x", got, payload)
			}
		})
	}
}

func TestSequenceEnforcement(t *testing.T) {
	clk := &fakeClock{}
	_, send, recv := newPair(clk)

	// Seq 1 consumed normally.
	if err := send.Send(proto.StatusSuccess, 0, proto.NotBeacon, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, _, err := recv.Recv(10); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	// A stale duplicate of seq 1 must be dropped.
	send.Reset()
	if err := send.Send(proto.StatusSuccess, 0, proto.NotBeacon, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, _, err := recv.Recv(10); err != proto.ErrTimeout {
		t.Fatalf("Recv() of duplicate error = %v, want %v", err, proto.ErrTimeout)
	}
	if recv.Drops() != 1 {
		t.Errorf("Drops() = %d, want 1", recv.Drops())
	}
	if recv.NextSeq() != 2 {
		t.Errorf("NextSeq() = %d, want 2", recv.NextSeq())
	}

	// With tracking disabled the same duplicate passes.
	recv.LooseSequence()
	send.Reset()
	if err := send.Send(proto.StatusSuccess, 0, proto.NotBeacon, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	hdr, _, err := recv.Recv(10)
	if err != nil {
		t.Fatalf("Recv() with loose sequencing error = %v", err)
	}
	if hdr.Seq != 1 {
		t.Errorf("Seq = %d, want 1", hdr.Seq)
	}

	// TrackSequence re-arms strict checking at the given point.
	recv.TrackSequence(2)
	if err := send.Send(proto.StatusSuccess, 0, proto.NotBeacon, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, _, err := recv.Recv(10); err != nil {
		t.Fatalf("Recv() after TrackSequence error = %v", err)
	}
}

func TestDirectionFiltering(t *testing.T) {
	clk := &fakeClock{}
	tr := &mockTransport{}

	// Host-direction PDU arriving at a receiver expecting device framing.
	send := NewSender(tr, proto.HostToDevice, clk.Now)
	recv := NewReceiver(tr, Config{Magics: proto.DeviceToHost, Now: clk.Now})

	if err := send.Send(proto.StatusSuccess, 0, proto.ReqConnect, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, _, err := recv.Recv(10); err != proto.ErrTimeout {
		t.Errorf("Recv() error = %v, want %v", err, proto.ErrTimeout)
	}
	if recv.Drops() != 1 {
		t.Errorf("Drops() = %d, want 1", recv.Drops())
	}
}

func TestAcceptAndSubDevFiltering(t *testing.T) {
	clk := &fakeClock{}
	tr := &mockTransport{}
	send := NewSender(tr, proto.HostToDevice, clk.Now)
	recv := NewReceiver(tr, Config{
		Magics:  proto.HostToDevice,
		Accept:  proto.IsRequest,
		SubDevs: 2,
		Now:     clk.Now,
	})

	// A response identifier is invalid inbound on the device.
	if err := send.Send(proto.StatusSuccess, 0, proto.RespConnect, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, _, err := recv.Recv(10); err != proto.ErrTimeout {
		t.Errorf("Recv() of response id error = %v, want %v", err, proto.ErrTimeout)
	}

	// Sub-device id out of range.
	send.Reset()
	if err := send.Send(proto.StatusSuccess, 5, proto.ReqConnect, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, _, err := recv.Recv(10); err != proto.ErrTimeout {
		t.Errorf("Recv() of bad sub-device error = %v, want %v", err, proto.ErrTimeout)
	}

	// A well-formed request passes.
	send.Reset()
	if err := send.Send(proto.StatusSuccess, 1, proto.ReqConnect, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	hdr, _, err := recv.Recv(10)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if hdr.SubDev != 1 {
		t.Errorf("SubDev = %d, want 1", hdr.SubDev)
	}
}
