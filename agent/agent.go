// Package agent implements the on-device debug agent: discovery beacons,
// the connection handshake and the steady-state receive/dispatch loop.
//
// The agent is strictly single-threaded. One Agent value owns all protocol
// state (PDU buffers, window pools, connection counters) and is mutated
// only by the goroutine running Run; no locking exists or is needed.
package agent

import (
	"errors"
	"fmt"

	"github.com/serialdbg/scagent/clock"
	"github.com/serialdbg/scagent/hw"
	proto "github.com/serialdbg/scagent/protocol"
	"github.com/serialdbg/scagent/transport"
	"github.com/serialdbg/scagent/window"
)

// Default staging region advertised at connect time.
const (
	DefaultScratchAddr = 0x0003c000
	DefaultScratchSize = 16 << 10
)

// Config carries the collaborators and topology of an Agent.
type Config struct {
	// Transport is the raw byte channel to the debugging host.
	Transport transport.Transport
	// Bus is the device-register capability used for all hardware access.
	Bus hw.Bus
	// Counter is the raw tick source for timekeeping. When nil the
	// on-chip hardware timer is started through Bus.
	Counter clock.Counter

	// Sockets and SubDevsPerSocket describe the sub-device topology
	// reported at connect time. Zero values default to 1.
	Sockets          uint32
	SubDevsPerSocket uint32

	// ScratchAddr and ScratchSize override the advertised staging region.
	ScratchAddr uint32
	ScratchSize uint32

	// Idle, if non-nil, is invoked between transport polls.
	Idle func()
}

// Agent is the process-wide debug agent state. Construct it once with New;
// it lives until the transport dies.
type Agent struct {
	tr  transport.Transport
	bus hw.Bus
	clk *clock.Clock

	send *transport.Sender
	recv *transport.Receiver

	hostWin *window.Pool
	sysWin  *window.Pool

	sockets   uint32
	perSocket uint32

	scratchAddr uint32
	scratchSize uint32

	connected bool
	beacons   uint32

	// Response payload staging, reused across requests.
	xfer [proto.MaxPayloadSize]byte
}

// New constructs the agent and resets all protocol state. The peer is
// expected to open its sequence numbering at 1.
func New(cfg Config) *Agent {
	if cfg.Sockets == 0 {
		cfg.Sockets = 1
	}
	if cfg.SubDevsPerSocket == 0 {
		cfg.SubDevsPerSocket = 1
	}
	if cfg.ScratchSize == 0 {
		cfg.ScratchAddr = DefaultScratchAddr
		cfg.ScratchSize = DefaultScratchSize
	}

	ctr := cfg.Counter
	if ctr == nil {
		ctr = clock.StartHardwareCounter(cfg.Bus)
	}

	a := &Agent{
		tr:          cfg.Transport,
		bus:         cfg.Bus,
		clk:         clock.New(ctr),
		hostWin:     window.NewHostPhys(cfg.Bus),
		sysWin:      window.NewSysBus(cfg.Bus),
		sockets:     cfg.Sockets,
		perSocket:   cfg.SubDevsPerSocket,
		scratchAddr: cfg.ScratchAddr,
		scratchSize: cfg.ScratchSize,
	}
	now := func() uint32 { return a.clk.Millis() }
	a.send = transport.NewSender(cfg.Transport, proto.DeviceToHost, now)
	a.recv = transport.NewReceiver(cfg.Transport, transport.Config{
		Magics:  proto.HostToDevice,
		Accept:  proto.IsRequest,
		SubDevs: cfg.Sockets * cfg.SubDevsPerSocket,
		Now:     now,
		Idle:    cfg.Idle,
	})
	return a
}

// Connected reports whether the handshake completed.
func (a *Agent) Connected() bool { return a.connected }

// Run executes the agent: beacon until a peer connects, then receive and
// dispatch requests indefinitely. It returns only on a fatal transport
// error.
func (a *Agent) Run() error {
	a.Logf("agent: entering main loop")

	for !a.connected {
		if err := a.beacon(); err != nil {
			return err
		}
		if err := a.awaitConnect(proto.BeaconInterval); err != nil {
			return err
		}
	}

	a.Logf("agent: connection established")

	for {
		hdr, payload, err := a.recv.Recv(proto.IndefiniteWait)
		if err != nil {
			return err
		}
		if err := a.dispatch(&hdr, payload); err != nil {
			return err
		}
	}
}

// beacon announces the agent to a not-yet-connected host.
func (a *Agent) beacon() error {
	a.beacons++
	b := proto.Beacon{Count: a.beacons}
	var buf [proto.BeaconSize]byte
	return a.send.Send(proto.StatusSuccess, 0, proto.NotBeacon, b.Encode(buf[:]))
}

// awaitConnect waits up to timeoutMs for an inbound PDU and completes the
// handshake if it is a connect request. Anything else arriving while
// disconnected is dropped without a response.
func (a *Agent) awaitConnect(timeoutMs uint32) error {
	hdr, _, err := a.recv.Recv(timeoutMs)
	if errors.Is(err, proto.ErrTimeout) {
		return nil
	}
	if err != nil {
		return err
	}
	if hdr.RRN != proto.ReqConnect {
		return nil
	}

	resp := proto.ConnectResp{
		MaxPDU:           proto.MaxPDUSize,
		ScratchSize:      a.scratchSize,
		ScratchAddr:      a.scratchAddr,
		Sockets:          a.sockets,
		SubDevsPerSocket: a.perSocket,
	}
	var buf [proto.ConnectRespSize]byte

	// The peer numbers device PDUs from 1 starting with this response.
	a.send.Reset()
	if err := a.send.Send(proto.StatusSuccess, hdr.SubDev, proto.RespConnect, resp.Encode(buf[:])); err != nil {
		return err
	}
	a.connected = true
	return nil
}

// Logf emits a log-message notification PDU carrying the formatted string.
// The logging subsystem rides on the same protocol as everything else.
func (a *Agent) Logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	_ = a.send.Send(proto.StatusSuccess, 0, proto.NotLogMsg, []byte(msg))
}
