package xotpad

/*------------------------------------------------------------------
 *
 * Purpose:	Per-state packet handling, facility negotiation, and
 *		message reassembly.
 *
 *------------------------------------------------------------------*/

import (
	"context"
	"time"
)

// facilitiesFromCallerView builds the facility list a caller proposes on
// its own Call Request: its send size/window is "from_calling", its
// desired receive size/window is "from_called".
func facilitiesFromCallerView(p X25Params) facilityList {
	return facilityList{
		PacketSize: &packetSizeFacility{FromCalled: p.RecvPacketSize, FromCalling: p.SendPacketSize},
		WindowSize: &windowSizeFacility{
			FromCalled:  clampWindowSize(p.RecvWindowSize, p.Modulo),
			FromCalling: clampWindowSize(p.SendWindowSize, p.Modulo),
		},
	}
}

// facilitiesFromCalleeView builds the facility list a callee echoes on
// Call Accept: its own send size/window is "from_called".
func facilitiesFromCalleeView(p X25Params) facilityList {
	return facilityList{
		PacketSize: &packetSizeFacility{FromCalled: p.SendPacketSize, FromCalling: p.RecvPacketSize},
		WindowSize: &windowSizeFacility{
			FromCalled:  clampWindowSize(p.SendWindowSize, p.Modulo),
			FromCalling: clampWindowSize(p.RecvWindowSize, p.Modulo),
		},
	}
}

// applyCalledNegotiation ingests a Call Request's proposed facilities
// into the callee's own params: its send size is from_called, its recv
// size is from_calling.
func applyCalledNegotiation(p *X25Params, fac facilityList) {
	if fac.PacketSize != nil {
		p.SendPacketSize = fac.PacketSize.FromCalled
		p.RecvPacketSize = fac.PacketSize.FromCalling
	}
	if fac.WindowSize != nil {
		p.SendWindowSize = clampWindowSize(fac.WindowSize.FromCalled, p.Modulo)
		p.RecvWindowSize = clampWindowSize(fac.WindowSize.FromCalling, p.Modulo)
	}
}

// applyCallingNegotiation ingests a Call Accept's facilities into the
// caller's own params: its send size is from_calling, its recv size is
// from_called.
func applyCallingNegotiation(p *X25Params, fac facilityList) {
	if fac.PacketSize != nil {
		p.SendPacketSize = fac.PacketSize.FromCalling
		p.RecvPacketSize = fac.PacketSize.FromCalled
	}
	if fac.WindowSize != nil {
		p.SendWindowSize = clampWindowSize(fac.WindowSize.FromCalling, p.Modulo)
		p.RecvWindowSize = clampWindowSize(fac.WindowSize.FromCalled, p.Modulo)
	}
}

// emitLocked encodes and sends pkt over the link; on I/O failure it
// records the OutOfOrder cause and returns false. Must be called with
// vc.mu held.
func (vc *VC) emitLocked(pkt X25Packet) bool {
	buf, err := EncodeX25Packet(pkt)
	if err != nil {
		vc.recvErr = err
		logIOFailure(vc.channel, err)
		vc.setStateLocked(StateOutOfOrder)
		return false
	}
	if err := vc.link.Send(context.Background(), buf); err != nil {
		vc.recvErr = &LinkOutOfOrder{Cause: err}
		logIOFailure(vc.channel, err)
		vc.setStateLocked(StateOutOfOrder)
		return false
	}
	return true
}

func (vc *VC) reinitDataTransferLocked() {
	vc.dt = dtState{
		modulo:  vc.params.Modulo,
		window:  newSendWindow(vc.params.SendWindowSize, vc.params.Modulo),
		recvSeq: 0,
	}
}

// drainSendQueueLocked transmits as many queued fragments as the open
// send window allows; it never suspends. It returns whether anything was
// sent.
func (vc *VC) drainSendQueueLocked() bool {
	sentAny := false
	for vc.dt.window.isOpen() && len(vc.sendQueue) > 0 {
		item := vc.sendQueue[0]
		pkt := X25Data{
			x25Header: x25Header{Modulo: vc.dt.modulo, Channel: vc.channel},
			SendSeq:   vc.dt.window.seq(),
			RecvSeq:   vc.dt.recvSeq,
			More:      item.more,
			Qualifier: item.qualifier,
			UserData:  item.data,
		}
		if !vc.emitLocked(pkt) {
			return sentAny
		}
		vc.dt.window.incr()
		vc.sendQueue = vc.sendQueue[1:]
		sentAny = true
	}
	return sentAny
}

// popCompleteMessageLocked returns the smallest prefix of recvQueue that
// ends in a more=false fragment, reassembled, or ok=false if no complete
// message is available yet.
func (vc *VC) popCompleteMessageLocked() (data []byte, qualifier bool, ok bool) {
	for i, pkt := range vc.recvQueue {
		if !pkt.More {
			var buf []byte
			for j := 0; j <= i; j++ {
				buf = append(buf, vc.recvQueue[j].UserData...)
			}
			vc.recvQueue = vc.recvQueue[i+1:]
			return buf, pkt.Qualifier, true
		}
	}
	return nil, false, false
}

func (vc *VC) handlePacketLocked(pkt X25Packet) {
	switch vc.state {
	case StateReady:
		if req, ok := pkt.(X25CallRequest); ok {
			applyCalledNegotiation(&vc.params, req.Facilities)
			logFacilityNegotiation(vc.channel, vc.params)
			vc.calledReq = &req
			vc.setStateLocked(StateCalled)
			vc.cond.Broadcast()
		}

	case StateCalled:
		if req, ok := pkt.(X25ClearRequest); ok {
			vc.clearInit = ClearInitiator{Kind: clearInitRemote, RemoteReq: &req}
			vc.setStateLocked(StateCleared)
			vc.cond.Broadcast()
		}

	case StateWaitCallAccept:
		switch p := pkt.(type) {
		case X25CallAccept:
			applyCallingNegotiation(&vc.params, p.Facilities)
			logFacilityNegotiation(vc.channel, vc.params)
			vc.reinitDataTransferLocked()
			vc.setStateLocked(StateDataTransfer)
			vc.cond.Broadcast()
		case X25ClearRequest:
			vc.clearInit = ClearInitiator{Kind: clearInitRemote, RemoteReq: &p}
			vc.setStateLocked(StateCleared)
			vc.cond.Broadcast()
		}

	case StateDataTransfer:
		vc.handleDataTransferPacketLocked(pkt)

	case StateWaitResetConfirm:
		switch pkt.(type) {
		case X25ResetConfirm:
			vc.reinitDataTransferLocked()
			vc.setStateLocked(StateDataTransfer)
			vc.drainSendQueueLocked()
			vc.cond.Broadcast()
		case X25ResetRequest:
			if vc.emitLocked(X25ResetConfirm{x25Header: x25Header{Modulo: vc.params.Modulo, Channel: vc.channel}}) {
				vc.reinitDataTransferLocked()
				vc.setStateLocked(StateDataTransfer)
				vc.drainSendQueueLocked()
			}
			vc.cond.Broadcast()
		}

	case StateWaitClearConfirm:
		if conf, ok := pkt.(X25ClearConfirm); ok {
			vc.clearConfirm = &conf
			vc.setStateLocked(StateCleared)
			vc.cond.Broadcast()
		}
	}
}

func (vc *VC) handleDataTransferPacketLocked(pkt X25Packet) {
	switch p := pkt.(type) {
	case X25Data:
		if p.SendSeq != vc.dt.recvSeq {
			if vc.emitLocked(X25ResetRequest{x25Header: x25Header{Modulo: vc.params.Modulo, Channel: vc.channel}, Cause: 5, Diagnostic: 1}) {
				vc.setStateLocked(StateWaitResetConfirm)
				vc.waitStart = time.Now()
			}
			vc.cond.Broadcast()
			return
		}
		if !vc.dt.window.updateStart(p.RecvSeq) {
			if vc.emitLocked(X25ResetRequest{x25Header: x25Header{Modulo: vc.params.Modulo, Channel: vc.channel}, Cause: 5, Diagnostic: 2}) {
				vc.setStateLocked(StateWaitResetConfirm)
				vc.waitStart = time.Now()
			}
			vc.cond.Broadcast()
			return
		}
		vc.dt.recvSeq = nextSeq(vc.dt.recvSeq, vc.dt.modulo)
		vc.recvQueue = append(vc.recvQueue, p)
		sent := vc.drainSendQueueLocked()
		if !sent {
			vc.emitLocked(X25ReceiveReady{x25Header: x25Header{Modulo: vc.params.Modulo, Channel: vc.channel}, RecvSeq: vc.dt.recvSeq})
		}
		vc.cond.Broadcast()

	case X25ReceiveReady:
		vc.dt.window.updateStart(p.RecvSeq)
		vc.drainSendQueueLocked()
		vc.cond.Broadcast()

	case X25ResetRequest:
		if vc.emitLocked(X25ResetConfirm{x25Header: x25Header{Modulo: vc.params.Modulo, Channel: vc.channel}}) {
			vc.reinitDataTransferLocked()
		}
		vc.cond.Broadcast()

	case X25ClearRequest:
		if vc.emitLocked(X25ClearConfirm{x25Header: x25Header{Modulo: vc.params.Modulo, Channel: vc.channel}}) {
			vc.clearInit = ClearInitiator{Kind: clearInitRemote, RemoteReq: &p}
			vc.setStateLocked(StateCleared)
		}
		vc.cond.Broadcast()
	}
}
