package xotpad

/*------------------------------------------------------------------
 *
 * Purpose:	Virtual Circuit engine: the per-connection state machine
 *		that drives call setup, data transfer, reset, and clear.
 *
 * Description:	Three logical actors per VC: a link-reader goroutine that
 *		only ever appends decoded packets to an inbox and
 *		broadcasts, an engine goroutine that owns all VC state and
 *		drains the inbox plus protection-timer expiries, and any
 *		number of client goroutines calling the VC's exported
 *		operations, which mutate state directly under the same
 *		lock and then broadcast.
 *
 *------------------------------------------------------------------*/

import (
	"context"
	"sync"
	"time"
)

// VCState is one of the states a virtual circuit moves through from
// setup to teardown.
type VCState int

const (
	StateReady VCState = iota
	StateWaitCallAccept
	StateCalled
	StateDataTransfer
	StateWaitResetConfirm
	StateWaitClearConfirm
	StateCleared
	StateOutOfOrder
)

func (s VCState) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateWaitCallAccept:
		return "WaitCallAccept"
	case StateCalled:
		return "Called"
	case StateDataTransfer:
		return "DataTransfer"
	case StateWaitResetConfirm:
		return "WaitResetConfirm"
	case StateWaitClearConfirm:
		return "WaitClearConfirm"
	case StateCleared:
		return "Cleared"
	case StateOutOfOrder:
		return "OutOfOrder"
	default:
		return "Unknown"
	}
}

// IsConnected reports whether s is one of DataTransfer or WaitResetConfirm.
func (s VCState) IsConnected() bool {
	return s == StateDataTransfer || s == StateWaitResetConfirm
}

func (s VCState) terminal() bool {
	return s == StateCleared || s == StateOutOfOrder
}

type clearInitKind int

const (
	clearInitNone clearInitKind = iota
	clearInitLocal
	clearInitRemote
	clearInitTimeout
)

// ClearInitiator records who caused a Cleared terminal state.
type ClearInitiator struct {
	Kind      clearInitKind
	RemoteReq *X25ClearRequest
	Timer     string
}

// dtState is the data-transfer substate: modulo, sliding send window, and
// the next expected peer send-sequence number.
type dtState struct {
	modulo  X25Modulo
	window  sendWindow
	recvSeq byte
}

type sendItem struct {
	data      []byte
	qualifier bool
	more      bool
}

// VC is a handle to one X.25 switched virtual circuit. It is safe for
// concurrent use by multiple goroutines; every exported method takes the
// same lock the engine goroutine uses.
type VC struct {
	mu   sync.Mutex
	cond *sync.Cond

	link    Link
	channel uint16
	params  X25Params

	state     VCState
	dt        dtState
	sendQueue []sendItem
	recvQueue []X25Data

	calledReq    *X25CallRequest
	clearInit    ClearInitiator
	clearConfirm *X25ClearConfirm

	waitStart time.Time

	inbox   []X25Packet
	recvErr error
	endFlag bool

	readCancel context.CancelFunc
}

// IncomingCall is a pending Call Request awaiting accept or clear.
type IncomingCall struct {
	vc  *VC
	Req X25CallRequest
}

func newVC(link Link, channel uint16, params X25Params) *VC {
	vc := &VC{link: link, channel: channel, params: params, state: StateReady}
	vc.cond = sync.NewCond(&vc.mu)
	ctx, cancel := context.WithCancel(context.Background())
	vc.readCancel = cancel
	go vc.readerLoop(ctx)
	go vc.engineLoop()
	return vc
}

func (vc *VC) readerLoop(ctx context.Context) {
	for {
		buf, err := vc.link.Recv(ctx)
		if err != nil {
			vc.mu.Lock()
			if vc.recvErr == nil {
				vc.recvErr = &LinkOutOfOrder{Cause: err}
			}
			vc.cond.Broadcast()
			vc.mu.Unlock()
			return
		}
		pkt, decErr := DecodeX25Packet(buf)
		vc.mu.Lock()
		if decErr != nil {
			if vc.recvErr == nil {
				vc.recvErr = &LinkOutOfOrder{Cause: decErr}
			}
			vc.cond.Broadcast()
			vc.mu.Unlock()
			return
		}
		vc.inbox = append(vc.inbox, pkt)
		vc.cond.Broadcast()
		vc.mu.Unlock()
	}
}

// Call originates a Call Request and blocks until the circuit leaves
// WaitCallAccept.
func Call(ctx context.Context, link Link, channel uint16, addr X121Addr, callUserData []byte, params X25Params) (*VC, error) {
	vc := newVC(link, channel, params)

	vc.mu.Lock()
	fac := facilitiesFromCallerView(params)
	req := X25CallRequest{
		x25Header:    x25Header{Modulo: params.Modulo, Channel: channel},
		Called:       addr,
		Calling:      params.Addr,
		Facilities:   fac,
		CallUserData: callUserData,
	}
	buf, _ := EncodeX25Packet(req)
	if err := vc.link.Send(ctx, buf); err != nil {
		logIOFailure(vc.channel, err)
		vc.setStateLocked(StateOutOfOrder)
		vc.cond.Broadcast()
		vc.mu.Unlock()
		return nil, &LinkOutOfOrder{Cause: err}
	}
	vc.setStateLocked(StateWaitCallAccept)
	vc.waitStart = time.Now()
	vc.cond.Broadcast()

	// Wait through WaitCallAccept and, if T21 fires, through the clear
	// cascade it triggers, so the caller sees the final outcome rather
	// than the intermediate WaitClearConfirm state.
	for {
		if vc.state == StateWaitCallAccept {
			vc.cond.Wait()
			continue
		}
		if vc.state == StateWaitClearConfirm && vc.clearInit.Kind == clearInitTimeout && vc.clearInit.Timer == "T21" {
			vc.cond.Wait()
			continue
		}
		break
	}

	finalState := vc.state
	hasData := len(vc.recvQueue) > 0
	clearInit := vc.clearInit
	vc.mu.Unlock()

	if finalState == StateDataTransfer || hasData {
		return vc, nil
	}
	switch finalState {
	case StateCleared:
		if clearInit.Kind == clearInitRemote && clearInit.RemoteReq != nil {
			return nil, &ConnectionReset{Cause: clearInit.RemoteReq.Cause, Diagnostic: clearInit.RemoteReq.Diagnostic}
		}
		return nil, &ConnectionReset{}
	case StateOutOfOrder:
		return nil, &TimedOut{Reason: "call setup did not complete"}
	default:
		return nil, &InvalidState{Op: "call", State: finalState.String()}
	}
}

// Listen blocks in Ready until a Call Request arrives or timeout elapses.
func Listen(link Link, channel uint16, params X25Params, timeout time.Duration) (*IncomingCall, error) {
	vc := newVC(link, channel, params)

	vc.mu.Lock()
	deadline := time.Now().Add(timeout)
	for vc.state == StateReady {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			vc.mu.Unlock()
			vc.readCancel()
			_ = vc.link.Close()
			return nil, &TimedOut{Reason: "listen timed out"}
		}
		waitCondTimeout(vc.cond, remaining)
	}
	req := vc.calledReq
	st := vc.state
	vc.mu.Unlock()

	if st != StateCalled || req == nil {
		return nil, &InvalidState{Op: "listen", State: st.String()}
	}
	return &IncomingCall{vc: vc, Req: *req}, nil
}

// Accept sends Call Accept and transitions Called -> DataTransfer.
func (ic *IncomingCall) Accept() (*VC, error) {
	vc := ic.vc
	vc.mu.Lock()
	if vc.state != StateCalled {
		st := vc.state
		vc.mu.Unlock()
		return nil, &InvalidState{Op: "accept", State: st.String()}
	}

	fac := facilitiesFromCalleeView(vc.params)
	accept := X25CallAccept{
		x25Header:  x25Header{Modulo: vc.params.Modulo, Channel: vc.channel},
		Called:     ic.Req.Called,
		Calling:    ic.Req.Calling,
		Facilities: fac,
	}
	buf, _ := EncodeX25Packet(accept)
	if err := vc.link.Send(context.Background(), buf); err != nil {
		logIOFailure(vc.channel, err)
		vc.setStateLocked(StateOutOfOrder)
		vc.cond.Broadcast()
		vc.mu.Unlock()
		return nil, &LinkOutOfOrder{Cause: err}
	}

	vc.dt = dtState{
		modulo:  vc.params.Modulo,
		window:  newSendWindow(vc.params.SendWindowSize, vc.params.Modulo),
		recvSeq: 0,
	}
	vc.setStateLocked(StateDataTransfer)
	logFacilityNegotiation(vc.channel, vc.params)
	vc.cond.Broadcast()
	vc.mu.Unlock()
	return vc, nil
}

// Clear sends Clear Request from Called and transitions directly to
// Cleared without awaiting Clear Confirm, since the peer has not yet sent
// any data on this circuit.
func (ic *IncomingCall) Clear(cause, diag byte) error {
	vc := ic.vc
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.state != StateCalled {
		return &InvalidState{Op: "clear", State: vc.state.String()}
	}
	pkt := X25ClearRequest{
		x25Header: x25Header{Modulo: vc.params.Modulo, Channel: vc.channel},
		Cause:     cause, Diagnostic: diag,
		Called: ic.Req.Called, Calling: ic.Req.Calling,
	}
	buf, _ := EncodeX25Packet(pkt)
	if err := vc.link.Send(context.Background(), buf); err != nil {
		logIOFailure(vc.channel, err)
		vc.setStateLocked(StateOutOfOrder)
		vc.cond.Broadcast()
		return &LinkOutOfOrder{Cause: err}
	}
	vc.clearInit = ClearInitiator{Kind: clearInitLocal}
	vc.setStateLocked(StateCleared)
	vc.cond.Broadcast()
	return nil
}

// Send fragments user_data into packets of at most send_packet_size and
// enqueues each, attempting immediate transmission up to the window.
func (vc *VC) Send(userData []byte, qualifier bool) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if !vc.state.IsConnected() {
		return &InvalidState{Op: "send", State: vc.state.String()}
	}

	size := vc.params.SendPacketSize
	if len(userData) == 0 {
		vc.sendQueue = append(vc.sendQueue, sendItem{data: nil, qualifier: qualifier, more: false})
	}
	for off := 0; off < len(userData); off += size {
		end := off + size
		if end > len(userData) {
			end = len(userData)
		}
		vc.sendQueue = append(vc.sendQueue, sendItem{
			data:      append([]byte(nil), userData[off:end]...),
			qualifier: qualifier,
			more:      end < len(userData),
		})
	}
	vc.drainSendQueueLocked()
	vc.cond.Broadcast()
	return nil
}

// Recv blocks until one complete message is available or the VC has no
// further messages.
func (vc *VC) Recv(ctx context.Context) (data []byte, qualifier bool, end bool, err error) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	for {
		if msg, q, ok := vc.popCompleteMessageLocked(); ok {
			return msg, q, false, nil
		}
		if vc.endFlag {
			return nil, false, true, nil
		}
		if err := vc.terminalErrorLocked(); err != nil {
			return nil, false, false, err
		}
		select {
		case <-ctx.Done():
			return nil, false, false, ctx.Err()
		default:
		}
		vc.cond.Wait()
	}
}

// Flush blocks until the send-data queue is empty and the VC is still
// connected.
func (vc *VC) Flush() error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	for len(vc.sendQueue) > 0 {
		if err := vc.terminalErrorLocked(); err != nil {
			return err
		}
		if !vc.state.IsConnected() {
			return &InvalidState{Op: "flush", State: vc.state.String()}
		}
		vc.cond.Wait()
	}
	if err := vc.terminalErrorLocked(); err != nil {
		return err
	}
	return nil
}

// Reset sends Reset Request and waits for Reset Confirm or T22 expiry.
func (vc *VC) Reset(cause, diag byte) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.state != StateDataTransfer {
		return &InvalidState{Op: "reset", State: vc.state.String()}
	}
	pkt := X25ResetRequest{x25Header: x25Header{Modulo: vc.params.Modulo, Channel: vc.channel}, Cause: cause, Diagnostic: diag}
	buf, _ := EncodeX25Packet(pkt)
	if err := vc.link.Send(context.Background(), buf); err != nil {
		logIOFailure(vc.channel, err)
		vc.setStateLocked(StateOutOfOrder)
		vc.cond.Broadcast()
		return &LinkOutOfOrder{Cause: err}
	}
	vc.setStateLocked(StateWaitResetConfirm)
	vc.waitStart = time.Now()
	vc.cond.Broadcast()

	for vc.state == StateWaitResetConfirm {
		vc.cond.Wait()
	}
	if vc.state == StateDataTransfer {
		return nil
	}
	return vc.terminalErrorLocked()
}

// Clear sends Clear Request from any connected state and blocks until
// Clear Confirm or T23 expiry.
func (vc *VC) Clear(cause, diag byte) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if !vc.state.IsConnected() {
		return &InvalidState{Op: "clear", State: vc.state.String()}
	}
	pkt := X25ClearRequest{
		x25Header: x25Header{Modulo: vc.params.Modulo, Channel: vc.channel},
		Cause:     cause, Diagnostic: diag,
		Called: vc.params.Addr, Calling: vc.params.Addr,
	}
	buf, _ := EncodeX25Packet(pkt)
	if err := vc.link.Send(context.Background(), buf); err != nil {
		logIOFailure(vc.channel, err)
		vc.setStateLocked(StateOutOfOrder)
		vc.cond.Broadcast()
		return &LinkOutOfOrder{Cause: err}
	}
	vc.setStateLocked(StateWaitClearConfirm)
	vc.clearInit = ClearInitiator{Kind: clearInitLocal}
	vc.waitStart = time.Now()
	vc.cond.Broadcast()

	for vc.state == StateWaitClearConfirm {
		vc.cond.Wait()
	}
	if vc.state == StateCleared {
		return nil
	}
	return vc.terminalErrorLocked()
}

// Params returns a snapshot of the negotiated X.25 parameters.
func (vc *VC) Params() X25Params {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.params
}

// State returns the current VC state.
func (vc *VC) State() VCState {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.state
}

// setStateLocked transitions the VC to next, logging the transition and,
// if next is terminal, the terminal-state event. Must be called with
// vc.mu held.
func (vc *VC) setStateLocked(next VCState) {
	if next == vc.state {
		return
	}
	logStateTransition(vc.channel, vc.state, next)
	vc.state = next
	if next.terminal() {
		logTerminalState(vc.channel, next, time.Now())
	}
}

func (vc *VC) terminalErrorLocked() error {
	switch vc.state {
	case StateCleared:
		if vc.clearInit.Kind == clearInitRemote && vc.clearInit.RemoteReq != nil {
			return &ConnectionReset{Cause: vc.clearInit.RemoteReq.Cause, Diagnostic: vc.clearInit.RemoteReq.Diagnostic}
		}
		return &ConnectionReset{}
	case StateOutOfOrder:
		if vc.recvErr != nil {
			return vc.recvErr
		}
		return &LinkOutOfOrder{Cause: nil}
	default:
		return nil
	}
}

// waitCondTimeout waits on c, waking at the latest after d, regardless of
// whether a real signal arrives first. Must be called with c.L held.
func waitCondTimeout(c *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		c.L.Lock()
		c.Broadcast()
		c.L.Unlock()
	})
	c.Wait()
	timer.Stop()
}

func (vc *VC) engineLoop() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	for {
		for len(vc.inbox) > 0 {
			pkt := vc.inbox[0]
			vc.inbox = vc.inbox[1:]
			vc.handlePacketLocked(pkt)
			if vc.state.terminal() {
				vc.finishLocked()
				return
			}
		}
		if vc.recvErr != nil {
			logIOFailure(vc.channel, vc.recvErr)
			vc.setStateLocked(StateOutOfOrder)
			vc.cond.Broadcast()
			vc.finishLocked()
			return
		}

		deadline, active := vc.nextDeadlineLocked()
		if !active {
			vc.cond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			vc.handleTimeoutLocked()
			if vc.state.terminal() {
				vc.finishLocked()
				return
			}
			continue
		}
		waitCondTimeout(vc.cond, remaining)
	}
}

func (vc *VC) finishLocked() {
	vc.endFlag = true
	vc.cond.Broadcast()
	vc.readCancel()
}
