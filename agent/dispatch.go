package agent

import (
	"github.com/serialdbg/scagent/hw"
	proto "github.com/serialdbg/scagent/protocol"
	"github.com/serialdbg/scagent/window"
)

// dispatch routes one validated request to its transfer handler. Every
// handler answers with exactly one response PDU, success or failure; the
// peer never sees silence for an accepted request.
func (a *Agent) dispatch(hdr *proto.Header, payload []byte) error {
	switch hdr.RRN {
	case proto.ReqLocalMemRead:
		return a.localMemXfer(hdr, payload, false)
	case proto.ReqLocalMemWrite:
		return a.localMemXfer(hdr, payload, true)
	case proto.ReqLocalMmioRead:
		return a.localMmioXfer(hdr, payload, false)
	case proto.ReqLocalMmioWrite:
		return a.localMmioXfer(hdr, payload, true)
	case proto.ReqSysRead:
		return a.sysXfer(hdr, payload, false)
	case proto.ReqSysWrite:
		return a.sysXfer(hdr, payload, true)
	case proto.ReqHostMemRead:
		return a.hostMemXfer(hdr, payload, false)
	case proto.ReqHostMemWrite:
		return a.hostMemXfer(hdr, payload, true)
	case proto.ReqHostMmioRead:
		return a.hostMmioXfer(hdr, payload, false)
	case proto.ReqHostMmioWrite:
		return a.hostMmioXfer(hdr, payload, true)
	case proto.ReqConnect:
		// Peer lost sync with an established connection; nothing sane to
		// do besides ignoring it.
		return nil
	}
	// Unreachable, the identifier range was checked during validation.
	return nil
}

// respond sends the response PDU for hdr, echoing its sub-device id.
func (a *Agent) respond(hdr *proto.Header, rrn proto.RRNID, status proto.Status, payload []byte) error {
	return a.send.Send(status, hdr.SubDev, rrn, payload)
}

// localMemXfer copies between local SRAM and the PDU payload. No window is
// involved; the address is dereferenced directly.
func (a *Agent) localMemXfer(hdr *proto.Header, payload []byte, write bool) error {
	rrn := proto.RespLocalMemRead
	if write {
		rrn = proto.RespLocalMemWrite
	}

	req, data, err := proto.DecodeLocalXferReq(payload)
	if err != nil {
		return a.respond(hdr, rrn, proto.StatusInvalidParameter, nil)
	}
	if req.Count > proto.MaxPayloadSize {
		return a.respond(hdr, rrn, proto.StatusBufferOverflow, nil)
	}
	if write && uint32(len(data)) < req.Count {
		return a.respond(hdr, rrn, proto.StatusInvalidParameter, nil)
	}

	if write {
		a.bus.WriteBytes(req.Addr, data[:req.Count])
		return a.respond(hdr, rrn, proto.StatusSuccess, nil)
	}
	buf := a.xfer[:req.Count]
	a.bus.ReadBytes(req.Addr, buf)
	return a.respond(hdr, rrn, proto.StatusSuccess, buf)
}

// localMmioXfer performs one width-exact access on a local diagnostic
// register. Width must be 1, 2, 4 or 8; nothing is touched otherwise.
func (a *Agent) localMmioXfer(hdr *proto.Header, payload []byte, write bool) error {
	rrn := proto.RespLocalMmioRead
	if write {
		rrn = proto.RespLocalMmioWrite
	}

	req, data, err := proto.DecodeLocalXferReq(payload)
	if err != nil || !proto.ValidWidth(req.Count) || (write && uint32(len(data)) < req.Count) {
		return a.respond(hdr, rrn, proto.StatusInvalidParameter, nil)
	}

	if write {
		hw.WriteWidth(a.bus, req.Addr, req.Count, data)
		return a.respond(hdr, rrn, proto.StatusSuccess, nil)
	}
	buf := a.xfer[:req.Count]
	hw.ReadWidth(a.bus, req.Addr, req.Count, buf)
	return a.respond(hdr, rrn, proto.StatusSuccess, buf)
}

// sysXfer performs one width-exact access in the secondary on-chip address
// space through a system-bus window.
func (a *Agent) sysXfer(hdr *proto.Header, payload []byte, write bool) error {
	rrn := proto.RespSysRead
	if write {
		rrn = proto.RespSysWrite
	}

	req, data, err := proto.DecodeLocalXferReq(payload)
	if err != nil || !proto.ValidWidth(req.Count) || (write && uint32(len(data)) < req.Count) {
		return a.respond(hdr, rrn, proto.StatusInvalidParameter, nil)
	}

	local, err := a.sysWin.Map(uint64(req.Addr), 0)
	if err != nil {
		return a.respond(hdr, rrn, poolStatus(err), nil)
	}

	var rerr error
	if write {
		hw.WriteWidth(a.bus, local, req.Count, data)
		rerr = a.respond(hdr, rrn, proto.StatusSuccess, nil)
	} else {
		buf := a.xfer[:req.Count]
		hw.ReadWidth(a.bus, local, req.Count, buf)
		rerr = a.respond(hdr, rrn, proto.StatusSuccess, buf)
	}
	_ = a.sysWin.Unmap(local)
	return rerr
}

// hostMemXfer copies between host-physical memory and the PDU payload
// through a host window tagged as plain memory.
func (a *Agent) hostMemXfer(hdr *proto.Header, payload []byte, write bool) error {
	rrn := proto.RespHostMemRead
	if write {
		rrn = proto.RespHostMemWrite
	}

	req, data, err := proto.DecodeHostXferReq(payload)
	if err != nil {
		return a.respond(hdr, rrn, proto.StatusInvalidParameter, nil)
	}
	if req.Count > proto.MaxPayloadSize {
		return a.respond(hdr, rrn, proto.StatusBufferOverflow, nil)
	}
	if write && uint32(len(data)) < req.Count {
		return a.respond(hdr, rrn, proto.StatusInvalidParameter, nil)
	}

	local, merr := a.hostWin.Map(req.Addr, window.TagMemory)
	if merr != nil {
		return a.respond(hdr, rrn, poolStatus(merr), nil)
	}

	var rerr error
	if write {
		a.bus.WriteBytes(local, data[:req.Count])
		rerr = a.respond(hdr, rrn, proto.StatusSuccess, nil)
	} else {
		buf := a.xfer[:req.Count]
		a.bus.ReadBytes(local, buf)
		rerr = a.respond(hdr, rrn, proto.StatusSuccess, buf)
	}
	_ = a.hostWin.Unmap(local)
	return rerr
}

// hostMmioXfer performs one width-exact access on a host-physical register
// through a host window tagged as MMIO.
func (a *Agent) hostMmioXfer(hdr *proto.Header, payload []byte, write bool) error {
	rrn := proto.RespHostMmioRead
	if write {
		rrn = proto.RespHostMmioWrite
	}

	req, data, err := proto.DecodeHostXferReq(payload)
	if err != nil || !proto.ValidWidth(req.Count) || (write && uint32(len(data)) < req.Count) {
		return a.respond(hdr, rrn, proto.StatusInvalidParameter, nil)
	}

	local, merr := a.hostWin.Map(req.Addr, window.TagMMIO)
	if merr != nil {
		return a.respond(hdr, rrn, poolStatus(merr), nil)
	}

	var rerr error
	if write {
		hw.WriteWidth(a.bus, local, req.Count, data)
		rerr = a.respond(hdr, rrn, proto.StatusSuccess, nil)
	} else {
		buf := a.xfer[:req.Count]
		hw.ReadWidth(a.bus, local, req.Count, buf)
		rerr = a.respond(hdr, rrn, proto.StatusSuccess, buf)
	}
	_ = a.hostWin.Unmap(local)
	return rerr
}

// poolStatus maps a window pool failure to its wire status code.
func poolStatus(err error) proto.Status {
	if err == window.ErrExhausted {
		return proto.StatusInvalidState
	}
	return proto.StatusInvalidParameter
}
