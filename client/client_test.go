package client

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/serialdbg/scagent/agent"
	"github.com/serialdbg/scagent/driver/stub"
	"github.com/serialdbg/scagent/hw"
	proto "github.com/serialdbg/scagent/protocol"
	"github.com/serialdbg/scagent/window"
)

// startAgent runs a loopback agent over an in-memory pipe and returns the
// host end plus the simulated device bus.
func startAgent(t *testing.T) (hostEnd *stub.End, bus *hw.MemBus) {
	t.Helper()

	devEnd, hostEnd := stub.NewPipe()
	bus = hw.NewMemBus()
	a := agent.New(agent.Config{
		Transport: devEnd,
		Bus:       bus,
		Idle:      func() { time.Sleep(100 * time.Microsecond) },
	})
	go func() {
		if err := a.Run(); err != nil {
			t.Logf("agent stopped: %v", err)
		}
	}()
	return hostEnd, bus
}

func connect(t *testing.T, hostEnd *stub.End, opts ...Option) *Client {
	t.Helper()

	opts = append(opts, WithIdle(func() { time.Sleep(100 * time.Microsecond) }))
	c := New(hostEnd, opts...)
	if err := c.Connect(5000); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c
}

func TestConnectHandshake(t *testing.T) {
	hostEnd, _ := startAgent(t)

	var beacons int
	c := connect(t, hostEnd, WithBeaconHandler(func(_ uint32, b proto.Beacon) {
		beacons++
	}))

	if !c.Connected() {
		t.Fatal("client not connected")
	}
	info := c.Info()
	if info.MaxPDU != proto.MaxPDUSize {
		t.Errorf("MaxPDU = %d, want %d", info.MaxPDU, proto.MaxPDUSize)
	}
	if info.Sockets != 1 || info.SubDevsPerSocket != 1 {
		t.Errorf("topology = %d/%d, want 1/1", info.Sockets, info.SubDevsPerSocket)
	}
	// At least the pre-connect beacon was seen.
	if beacons == 0 {
		t.Error("no beacons observed before the connect response")
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	hostEnd, _ := stub.NewPipe()
	c := New(hostEnd)

	if _, err := c.ReadLocalReg(0x1000, 4); !errors.Is(err, proto.ErrNotConnected) {
		t.Errorf("ReadLocalReg() error = %v, want %v", err, proto.ErrNotConnected)
	}
	if err := c.WriteLocalMem(0x1000, []byte{1}); !errors.Is(err, proto.ErrNotConnected) {
		t.Errorf("WriteLocalMem() error = %v, want %v", err, proto.ErrNotConnected)
	}
}

func TestLocalMemoryRoundTrip(t *testing.T) {
	hostEnd, bus := startAgent(t)
	c := connect(t, hostEnd)

	data := []byte("window translation scratch data")
	if err := c.WriteLocalMem(0x6000, data); err != nil {
		t.Fatalf("WriteLocalMem() error = %v", err)
	}

	got := make([]byte, len(data))
	bus.ReadBytes(0x6000, got)
	if !bytes.Equal(got, data) {
		t.Errorf("device memory = %q, want %q", got, data)
	}

	back := make([]byte, len(data))
	if err := c.ReadLocalMem(0x6000, back); err != nil {
		t.Fatalf("ReadLocalMem() error = %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Errorf("ReadLocalMem() = %q, want %q", back, data)
	}
}

func TestLargeTransferChunks(t *testing.T) {
	hostEnd, _ := startAgent(t)
	c := connect(t, hostEnd)

	// Larger than one PDU payload, so the client must split it.
	data := bytes.Repeat([]byte{0xa5, 0x5a, 0x01}, 3000)
	if err := c.WriteLocalMem(0x10000, data); err != nil {
		t.Fatalf("WriteLocalMem() error = %v", err)
	}

	back := make([]byte, len(data))
	if err := c.ReadLocalMem(0x10000, back); err != nil {
		t.Fatalf("ReadLocalMem() error = %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Error("chunked round trip corrupted the data")
	}
}

func TestRegisterAccessWidths(t *testing.T) {
	hostEnd, bus := startAgent(t)
	c := connect(t, hostEnd)

	tests := []struct {
		name  string
		width uint32
		value uint64
	}{
		{"byte", 1, 0x5a},
		{"halfword", 2, 0xbeef},
		{"word", 4, 0xcafef00d},
		{"doubleword", 8, 0x0123456789abcdef},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const reg = 0x03011000
			if err := c.WriteLocalReg(reg, tt.width, tt.value); err != nil {
				t.Fatalf("WriteLocalReg() error = %v", err)
			}
			got, err := c.ReadLocalReg(reg, tt.width)
			if err != nil {
				t.Fatalf("ReadLocalReg() error = %v", err)
			}
			if got != tt.value {
				t.Errorf("ReadLocalReg() = %#x, want %#x", got, tt.value)
			}
		})
	}

	if got := bus.Read32(0x03011000); got != 0x89abcdef {
		t.Errorf("final register state = %#x, want 0x89abcdef", got)
	}
}

func TestInvalidWidthRejectedRemotely(t *testing.T) {
	hostEnd, _ := startAgent(t)
	c := connect(t, hostEnd)

	// Width 3 never reaches the device registers; the agent answers with
	// an invalid-parameter status.
	err := c.WriteLocalReg(0x03011000, 3, 0x42)
	if !errors.Is(err, proto.ErrInvalidPayload) {
		t.Errorf("WriteLocalReg(width 3) error = %v, want %v", err, proto.ErrInvalidPayload)
	}

	// Force the raw request through to exercise the device-side check.
	req := proto.LocalXferReq{Addr: 0x03011000, Count: 3}
	var pb [proto.LocalXferReqSize + 3]byte
	req.Encode(pb[:])
	_, err = c.roundTrip("raw write", proto.ReqLocalMmioWrite, proto.RespLocalMmioWrite, pb[:])
	var se *proto.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("raw width 3 error = %v, want a status error", err)
	}
	if se.Status != proto.StatusInvalidParameter {
		t.Errorf("status = %v, want %v", se.Status, proto.StatusInvalidParameter)
	}
}

func TestSysRegisterRoundTrip(t *testing.T) {
	hostEnd, bus := startAgent(t)
	c := connect(t, hostEnd)

	if err := c.WriteSysReg(0x04600020, 4, 0x11223344); err != nil {
		t.Fatalf("WriteSysReg() error = %v", err)
	}
	// The access went through window slot 0.
	if got := bus.Read32(window.SysLocalBase + 0x20); got != 0x11223344 {
		t.Errorf("windowed location = %#x, want 0x11223344", got)
	}

	got, err := c.ReadSysReg(0x04600020, 4)
	if err != nil {
		t.Fatalf("ReadSysReg() error = %v", err)
	}
	if got != 0x11223344 {
		t.Errorf("ReadSysReg() = %#x, want 0x11223344", got)
	}
}

func TestHostMemoryRoundTrip(t *testing.T) {
	hostEnd, bus := startAgent(t)
	c := connect(t, hostEnd)

	const target = 0x1_0000_0200
	data := []byte{0x10, 0x20, 0x30, 0x40, 0x50}
	if err := c.WriteHostMem(target, data); err != nil {
		t.Fatalf("WriteHostMem() error = %v", err)
	}
	got := make([]byte, len(data))
	bus.ReadBytes(window.HostLocalBase+0x200, got)
	if !bytes.Equal(got, data) {
		t.Errorf("windowed host memory = %x, want %x", got, data)
	}

	back := make([]byte, len(data))
	if err := c.ReadHostMem(target, back); err != nil {
		t.Fatalf("ReadHostMem() error = %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Errorf("ReadHostMem() = %x, want %x", back, data)
	}
}

func TestHostRegisterRoundTrip(t *testing.T) {
	hostEnd, _ := startAgent(t)
	c := connect(t, hostEnd)

	const target = 0x3_0000_1000
	if err := c.WriteHostReg(target, 8, 0xfeedfacecafebeef); err != nil {
		t.Fatalf("WriteHostReg() error = %v", err)
	}
	got, err := c.ReadHostReg(target, 8)
	if err != nil {
		t.Fatalf("ReadHostReg() error = %v", err)
	}
	if got != 0xfeedfacecafebeef {
		t.Errorf("ReadHostReg() = %#x, want 0xfeedfacecafebeef", got)
	}
}

func TestDeviceLogStream(t *testing.T) {
	hostEnd, _ := startAgent(t)

	logs := make(chan string, 16)
	c := connect(t, hostEnd, WithLogHandler(func(_ uint32, msg string) {
		logs <- msg
	}))

	// Trigger some traffic so log notifications interleave with responses.
	if err := c.WriteLocalMem(0x7000, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteLocalMem() error = %v", err)
	}

	// The agent logs at startup and on connect; both lines preceded the
	// connect response and must have been dispatched during Connect.
	select {
	case msg := <-logs:
		if msg == "" {
			t.Error("empty device log message")
		}
	default:
		t.Error("no device log messages observed")
	}
}
