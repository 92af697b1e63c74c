// Package client implements the host side of the debug protocol: connecting
// to a beaconing device agent and issuing memory, register and system-bus
// transfers against it.
package client

import (
	"encoding/binary"
	"errors"

	"github.com/rs/zerolog"

	"github.com/serialdbg/scagent/clock"
	proto "github.com/serialdbg/scagent/protocol"
	"github.com/serialdbg/scagent/transport"
)

// DefaultTimeout bounds each request/response exchange, in milliseconds.
const DefaultTimeout = 3000

// LogHandler receives device log-message notifications as they arrive.
type LogHandler func(timestampMs uint32, msg string)

// BeaconHandler receives device discovery beacons while disconnected.
type BeaconHandler func(timestampMs uint32, b proto.Beacon)

// Option configures a Client.
type Option func(*Client)

// WithLogger routes client-side diagnostics to the given logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithLogHandler installs a callback for device log notifications. Without
// one, device log lines go to the client logger at info level.
func WithLogHandler(h LogHandler) Option {
	return func(c *Client) { c.onLog = h }
}

// WithBeaconHandler installs a callback for discovery beacons.
func WithBeaconHandler(h BeaconHandler) Option {
	return func(c *Client) { c.onBeacon = h }
}

// WithCounter overrides the tick source used for timestamps and wait
// bounds. The default is the wall clock.
func WithCounter(ctr clock.Counter) Option {
	return func(c *Client) { c.ctr = ctr }
}

// WithSubDev selects the sub-device targeted by all requests.
func WithSubDev(subDev uint32) Option {
	return func(c *Client) { c.subDev = subDev }
}

// WithTimeout overrides the per-exchange timeout in milliseconds.
func WithTimeout(timeoutMs uint32) Option {
	return func(c *Client) { c.timeoutMs = timeoutMs }
}

// WithIdle installs a hook invoked between transport polls, typically a
// short sleep to keep the receive loop off the CPU.
func WithIdle(idle func()) Option {
	return func(c *Client) { c.idle = idle }
}

// Client is the host-side protocol peer. It is not safe for concurrent
// use; serialize access externally if needed.
type Client struct {
	tr  transport.Transport
	clk *clock.Clock
	ctr clock.Counter

	send *transport.Sender
	recv *transport.Receiver

	log      zerolog.Logger
	onLog    LogHandler
	onBeacon BeaconHandler

	subDev    uint32
	timeoutMs uint32
	idle      func()

	connected bool
	info      proto.ConnectResp
}

// New returns a Client speaking the host-to-device direction over tr.
// It starts disconnected; call Connect before issuing transfers.
func New(tr transport.Transport, opts ...Option) *Client {
	c := &Client{
		tr:        tr,
		log:       zerolog.Nop(),
		timeoutMs: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ctr == nil {
		c.ctr = clock.NewWallCounter()
	}
	c.clk = clock.New(c.ctr)
	now := func() uint32 { return c.clk.Millis() }
	c.send = transport.NewSender(tr, proto.HostToDevice, now)
	c.recv = transport.NewReceiver(tr, transport.Config{
		Magics: proto.DeviceToHost,
		Accept: func(id proto.RRNID) bool {
			return proto.IsResponse(id) || proto.IsNotification(id)
		},
		Now:  now,
		Idle: c.idle,
	})
	// The device may have been beaconing long before we tuned in.
	c.recv.LooseSequence()
	return c
}

// Connected reports whether the handshake completed.
func (c *Client) Connected() bool { return c.connected }

// Info returns the capability payload from the connect response. It is the
// zero value until Connect succeeds.
func (c *Client) Info() proto.ConnectResp { return c.info }

// Drops returns the number of inbound PDUs discarded by validation.
func (c *Client) Drops() uint32 { return c.recv.Drops() }

// Connect performs the handshake: it sends a connect request and waits up
// to timeoutMs for the connect response, consuming any beacons and log
// notifications that arrive in between. On success the client tracks device
// sequence numbers strictly from the response onward.
func (c *Client) Connect(timeoutMs uint32) error {
	// The device expects host numbering to open at 1.
	c.send.Reset()
	if err := c.send.Send(proto.StatusSuccess, c.subDev, proto.ReqConnect, nil); err != nil {
		return err
	}

	start := c.clk.Millis()
	for {
		elapsed := c.clk.Millis() - start
		if timeoutMs != proto.IndefiniteWait && elapsed >= timeoutMs {
			return proto.ErrTimeout
		}
		wait := timeoutMs
		if timeoutMs != proto.IndefiniteWait {
			wait = timeoutMs - elapsed
		}

		hdr, payload, err := c.recv.Recv(wait)
		if err != nil {
			return err
		}
		if proto.IsNotification(hdr.RRN) {
			c.notify(&hdr, payload)
			continue
		}
		if hdr.RRN != proto.RespConnect {
			c.log.Warn().Uint32("rrn", uint32(hdr.RRN)).Msg("unexpected response while connecting")
			continue
		}
		if hdr.Status != proto.StatusSuccess {
			return &proto.StatusError{Op: "connect", Status: hdr.Status}
		}
		info, err := proto.DecodeConnectResp(payload)
		if err != nil {
			return err
		}
		// The device reset its counter; this response carried the first
		// post-connect sequence number.
		c.recv.TrackSequence(hdr.Seq + 1)
		c.info = info
		c.connected = true
		c.log.Info().
			Uint32("max_pdu", info.MaxPDU).
			Uint32("sockets", info.Sockets).
			Uint32("subdevs_per_socket", info.SubDevsPerSocket).
			Msg("connected")
		return nil
	}
}

// Pump receives and dispatches notifications for up to timeoutMs
// milliseconds. It returns nil on timeout; use it to stream device logs or
// to observe beacons before connecting.
func (c *Client) Pump(timeoutMs uint32) error {
	start := c.clk.Millis()
	for {
		elapsed := c.clk.Millis() - start
		if timeoutMs != proto.IndefiniteWait && elapsed >= timeoutMs {
			return nil
		}
		wait := timeoutMs
		if timeoutMs != proto.IndefiniteWait {
			wait = timeoutMs - elapsed
		}
		hdr, payload, err := c.recv.Recv(wait)
		if errors.Is(err, proto.ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		if proto.IsNotification(hdr.RRN) {
			c.notify(&hdr, payload)
			continue
		}
		c.log.Warn().Uint32("rrn", uint32(hdr.RRN)).Msg("unsolicited response")
	}
}

// notify routes one notification PDU to its handler.
func (c *Client) notify(hdr *proto.Header, payload []byte) {
	switch hdr.RRN {
	case proto.NotBeacon:
		b, err := proto.DecodeBeacon(payload)
		if err != nil {
			c.log.Warn().Err(err).Msg("malformed beacon")
			return
		}
		if c.onBeacon != nil {
			c.onBeacon(hdr.TimestampMs, b)
		}
	case proto.NotLogMsg:
		if c.onLog != nil {
			c.onLog(hdr.TimestampMs, string(payload))
			return
		}
		c.log.Info().Uint32("device_ms", hdr.TimestampMs).Msg(string(payload))
	}
}

// roundTrip sends one request and waits for its response, dispatching any
// notifications that arrive in between. The returned payload aliases the
// receive buffer and is only valid until the next receive.
func (c *Client) roundTrip(op string, req, resp proto.RRNID, payload []byte) ([]byte, error) {
	if !c.connected {
		return nil, proto.ErrNotConnected
	}
	if err := c.send.Send(proto.StatusSuccess, c.subDev, req, payload); err != nil {
		return nil, err
	}

	start := c.clk.Millis()
	for {
		elapsed := c.clk.Millis() - start
		if elapsed >= c.timeoutMs {
			return nil, proto.ErrTimeout
		}
		hdr, body, err := c.recv.Recv(c.timeoutMs - elapsed)
		if err != nil {
			return nil, err
		}
		if proto.IsNotification(hdr.RRN) {
			c.notify(&hdr, body)
			continue
		}
		if hdr.RRN != resp {
			c.log.Warn().Uint32("rrn", uint32(hdr.RRN)).Str("op", op).Msg("response id mismatch")
			continue
		}
		if hdr.Status != proto.StatusSuccess {
			return nil, &proto.StatusError{Op: op, Status: hdr.Status}
		}
		return body, nil
	}
}

// Bulk transfer chunk bounds, leaving room for the request head on writes.
const (
	maxReadChunk  = proto.MaxPayloadSize
	maxWriteChunk = proto.MaxPayloadSize - proto.LocalXferReqSize
)

// ReadLocalMem fills buf from the device local address space starting at
// addr, splitting the transfer into PDU-sized chunks as needed.
func (c *Client) ReadLocalMem(addr uint32, buf []byte) error {
	for len(buf) > 0 {
		n := len(buf)
		if n > maxReadChunk {
			n = maxReadChunk
		}
		req := proto.LocalXferReq{Addr: addr, Count: uint32(n)}
		var rb [proto.LocalXferReqSize]byte
		body, err := c.roundTrip("local mem read", proto.ReqLocalMemRead, proto.RespLocalMemRead, req.Encode(rb[:]))
		if err != nil {
			return err
		}
		if len(body) < n {
			return proto.ErrInvalidPayload
		}
		copy(buf, body[:n])
		buf = buf[n:]
		addr += uint32(n)
	}
	return nil
}

// WriteLocalMem writes data into the device local address space at addr.
func (c *Client) WriteLocalMem(addr uint32, data []byte) error {
	var pb [proto.MaxPayloadSize]byte
	for len(data) > 0 {
		n := len(data)
		if n > maxWriteChunk {
			n = maxWriteChunk
		}
		req := proto.LocalXferReq{Addr: addr, Count: uint32(n)}
		req.Encode(pb[:])
		copy(pb[proto.LocalXferReqSize:], data[:n])
		_, err := c.roundTrip("local mem write", proto.ReqLocalMemWrite, proto.RespLocalMemWrite, pb[:proto.LocalXferReqSize+n])
		if err != nil {
			return err
		}
		data = data[n:]
		addr += uint32(n)
	}
	return nil
}

// ReadLocalReg reads one register of the given width (1, 2, 4 or 8 bytes)
// from the device local MMIO space.
func (c *Client) ReadLocalReg(addr uint32, width uint32) (uint64, error) {
	req := proto.LocalXferReq{Addr: addr, Count: width}
	var rb [proto.LocalXferReqSize]byte
	body, err := c.roundTrip("local reg read", proto.ReqLocalMmioRead, proto.RespLocalMmioRead, req.Encode(rb[:]))
	if err != nil {
		return 0, err
	}
	return decodeRegValue(body, width)
}

// WriteLocalReg writes one register of the given width in the device local
// MMIO space.
func (c *Client) WriteLocalReg(addr uint32, width uint32, val uint64) error {
	var pb [proto.LocalXferReqSize + 8]byte
	req := proto.LocalXferReq{Addr: addr, Count: width}
	req.Encode(pb[:])
	n, err := encodeRegValue(pb[proto.LocalXferReqSize:], width, val)
	if err != nil {
		return err
	}
	_, err = c.roundTrip("local reg write", proto.ReqLocalMmioWrite, proto.RespLocalMmioWrite, pb[:proto.LocalXferReqSize+n])
	return err
}

// ReadSysReg reads one register from the system bus address space. The
// device maps the target through a shared window for the duration of the
// access.
func (c *Client) ReadSysReg(addr uint32, width uint32) (uint64, error) {
	req := proto.LocalXferReq{Addr: addr, Count: width}
	var rb [proto.LocalXferReqSize]byte
	body, err := c.roundTrip("sys reg read", proto.ReqSysRead, proto.RespSysRead, req.Encode(rb[:]))
	if err != nil {
		return 0, err
	}
	return decodeRegValue(body, width)
}

// WriteSysReg writes one register in the system bus address space.
func (c *Client) WriteSysReg(addr uint32, width uint32, val uint64) error {
	var pb [proto.LocalXferReqSize + 8]byte
	req := proto.LocalXferReq{Addr: addr, Count: width}
	req.Encode(pb[:])
	n, err := encodeRegValue(pb[proto.LocalXferReqSize:], width, val)
	if err != nil {
		return err
	}
	_, err = c.roundTrip("sys reg write", proto.ReqSysWrite, proto.RespSysWrite, pb[:proto.LocalXferReqSize+n])
	return err
}

// Host bulk transfers carry the wider request head.
const maxHostWriteChunk = proto.MaxPayloadSize - proto.HostXferReqSize

// ReadHostMem fills buf from host-physical memory starting at addr.
func (c *Client) ReadHostMem(addr uint64, buf []byte) error {
	for len(buf) > 0 {
		n := len(buf)
		if n > maxReadChunk {
			n = maxReadChunk
		}
		req := proto.HostXferReq{Addr: addr, Count: uint32(n)}
		var rb [proto.HostXferReqSize]byte
		body, err := c.roundTrip("host mem read", proto.ReqHostMemRead, proto.RespHostMemRead, req.Encode(rb[:]))
		if err != nil {
			return err
		}
		if len(body) < n {
			return proto.ErrInvalidPayload
		}
		copy(buf, body[:n])
		buf = buf[n:]
		addr += uint64(n)
	}
	return nil
}

// WriteHostMem writes data into host-physical memory at addr.
func (c *Client) WriteHostMem(addr uint64, data []byte) error {
	var pb [proto.MaxPayloadSize]byte
	for len(data) > 0 {
		n := len(data)
		if n > maxHostWriteChunk {
			n = maxHostWriteChunk
		}
		req := proto.HostXferReq{Addr: addr, Count: uint32(n)}
		req.Encode(pb[:])
		copy(pb[proto.HostXferReqSize:], data[:n])
		_, err := c.roundTrip("host mem write", proto.ReqHostMemWrite, proto.RespHostMemWrite, pb[:proto.HostXferReqSize+n])
		if err != nil {
			return err
		}
		data = data[n:]
		addr += uint64(n)
	}
	return nil
}

// ReadHostReg reads one register of the given width from host MMIO space.
func (c *Client) ReadHostReg(addr uint64, width uint32) (uint64, error) {
	req := proto.HostXferReq{Addr: addr, Count: width}
	var rb [proto.HostXferReqSize]byte
	body, err := c.roundTrip("host reg read", proto.ReqHostMmioRead, proto.RespHostMmioRead, req.Encode(rb[:]))
	if err != nil {
		return 0, err
	}
	return decodeRegValue(body, width)
}

// WriteHostReg writes one register of the given width in host MMIO space.
func (c *Client) WriteHostReg(addr uint64, width uint32, val uint64) error {
	var pb [proto.HostXferReqSize + 8]byte
	req := proto.HostXferReq{Addr: addr, Count: width}
	req.Encode(pb[:])
	n, err := encodeRegValue(pb[proto.HostXferReqSize:], width, val)
	if err != nil {
		return err
	}
	_, err = c.roundTrip("host reg write", proto.ReqHostMmioWrite, proto.RespHostMmioWrite, pb[:proto.HostXferReqSize+n])
	return err
}

// decodeRegValue extracts a little-endian register value of the given width
// from a response payload.
func decodeRegValue(body []byte, width uint32) (uint64, error) {
	if !proto.ValidWidth(width) || uint32(len(body)) < width {
		return 0, proto.ErrInvalidPayload
	}
	switch width {
	case 1:
		return uint64(body[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(body)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(body)), nil
	default:
		return binary.LittleEndian.Uint64(body), nil
	}
}

// encodeRegValue serializes a register value of the given width into dst.
func encodeRegValue(dst []byte, width uint32, val uint64) (int, error) {
	if !proto.ValidWidth(width) {
		return 0, proto.ErrInvalidPayload
	}
	switch width {
	case 1:
		dst[0] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(val))
	default:
		binary.LittleEndian.PutUint64(dst, val)
	}
	return int(width), nil
}
