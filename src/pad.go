package xotpad

/*------------------------------------------------------------------
 *
 * Purpose:	PAD character/packet adapter: a VC wrapped in byte send/recv
 *		queues plus an idle-forward timer, with two background
 *		actors for the lifetime of the adapter.
 *
 *------------------------------------------------------------------*/

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	x29RequestTimeout  = 5 * time.Second
	idleForwardDefault = 10 * time.Second
)

// Pad wraps a VC and presents a byte-stream interface plus remote X.3
// parameter access.
type Pad struct {
	vc     *VC
	params *X3Params

	sendMu     sync.Mutex
	sendCond   *sync.Cond
	sendQueue  []byte
	sendDead   time.Time
	hasDead    bool

	recvMu   sync.Mutex
	recvCond *sync.Cond
	recvQueue []byte
	end       bool

	x29Mu      sync.Mutex
	x29Pending chan []X29ParamResult
	x29Kind    byte // not consulted: an Indicate is handed to whichever request x29Pending holds

	readerDone chan struct{}
	actors     *errgroup.Group
}

// NewPad wraps vc with the given X.3 parameter store (DefaultX3Params()
// if the caller has no special requirements) and starts its two
// background actors (PAD reader, idle forwarder) under an errgroup so
// their lifetimes and any unexpected panics-as-errors can be supervised
// together via Wait.
func NewPad(vc *VC, params *X3Params) *Pad {
	p := &Pad{vc: vc, params: params}
	p.sendCond = sync.NewCond(&p.sendMu)
	p.recvCond = sync.NewCond(&p.recvMu)
	p.readerDone = make(chan struct{})

	var eg errgroup.Group
	p.actors = &eg
	eg.Go(func() error {
		p.readerLoop()
		return nil
	})
	eg.Go(func() error {
		p.idleForwardLoop()
		return nil
	})
	return p
}

// Wait blocks until both background actors have exited, which happens
// once the underlying VC reaches a terminal state.
func (p *Pad) Wait() error {
	return p.actors.Wait()
}

func (p *Pad) readerLoop() {
	defer close(p.readerDone)
	ctx := context.Background()
	for {
		data, qualifier, end, err := p.vc.Recv(ctx)
		if err != nil || end {
			p.recvMu.Lock()
			p.end = true
			p.recvCond.Broadcast()
			p.recvMu.Unlock()
			return
		}
		if qualifier {
			p.handleX29Locked(data)
			continue
		}
		p.recvMu.Lock()
		for _, b := range data {
			p.recvQueue = append(p.recvQueue, b)
			if b == 0x0d {
				if lf, ok := p.params.Get(paramLfInsert); ok && lf&0x01 != 0 {
					p.recvQueue = append(p.recvQueue, 0x0a)
				}
			}
		}
		p.recvCond.Broadcast()
		p.recvMu.Unlock()
	}
}

func (p *Pad) handleX29Locked(data []byte) {
	msg, err := DecodeX29Message(data)
	if err != nil {
		return
	}
	logX29Message(p.vc.channel, msg.Kind)
	switch msg.Kind {
	case x29Set:
		results := p.applySet(msg.Params)
		if len(results) > 0 {
			buf, _ := EncodeX29Message(NewX29Indicate(results))
			_ = p.vc.Send(buf, true)
		}

	case x29Read:
		results := p.applyRead(msg.Params)
		buf, _ := EncodeX29Message(NewX29Indicate(results))
		_ = p.vc.Send(buf, true)

	case x29SetRead:
		if setFailed := p.applySet(msg.Params); len(msg.Params) == 0 {
			buf, _ := EncodeX29Message(NewX29Indicate(setFailed))
			_ = p.vc.Send(buf, true)
			break
		}
		readResults := p.applyRead(msg.Params)
		buf, _ := EncodeX29Message(NewX29Indicate(readResults))
		_ = p.vc.Send(buf, true)

	case x29Indicate:
		p.x29Mu.Lock()
		if p.x29Pending != nil {
			ch := p.x29Pending
			p.x29Pending = nil
			p.x29Mu.Unlock()
			ch <- msg.Params
		} else {
			p.x29Mu.Unlock()
		}

	case x29ClearInvitation:
		p.sendMu.Lock()
		pending := p.sendQueue
		p.sendQueue = nil
		p.sendMu.Unlock()
		if len(pending) > 0 {
			_ = p.vc.Send(pending, false)
		}
		_ = p.vc.Clear(0, 0)
	}
}

// applySet applies each (param,value) in order, returning only the
// failed entries. An empty request is itself invalid and is rejected
// rather than treated as a silent no-op.
func (p *Pad) applySet(req []X29ParamResult) []X29ParamResult {
	if len(req) == 0 {
		return []X29ParamResult{{Err: ErrX3InvalidValue}}
	}
	var failed []X29ParamResult
	for _, r := range req {
		if err := p.params.Set(r.Param, r.Value); err != nil {
			var pe *X3ParamError
			if !asX3ParamError(err, &pe) {
				pe = ErrX3Other
			}
			failed = append(failed, X29ParamResult{Param: r.Param, Err: pe})
		}
	}
	return failed
}

func asX3ParamError(err error, target **X3ParamError) bool {
	if pe, ok := err.(*X3ParamError); ok {
		*target = pe
		return true
	}
	return false
}

// applyRead returns every requested parameter, or all known parameters
// if the request is empty.
func (p *Pad) applyRead(req []X29ParamResult) []X29ParamResult {
	if len(req) == 0 {
		var out []X29ParamResult
		for _, pv := range p.params.All() {
			out = append(out, X29ParamResult{Param: pv.Param, Value: pv.Value})
		}
		return out
	}
	out := make([]X29ParamResult, 0, len(req))
	for _, r := range req {
		if v, ok := p.params.Get(r.Param); ok {
			out = append(out, X29ParamResult{Param: r.Param, Value: v})
		} else {
			out = append(out, X29ParamResult{Param: r.Param, Err: ErrX3Unsupported})
		}
	}
	return out
}

func (p *Pad) idleForwardLoop() {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	for {
		select {
		case <-p.readerDone:
			return
		default:
		}
		if !p.hasDead {
			deadline := time.Now().Add(idleForwardDefault)
			waitCondTimeout(p.sendCond, time.Until(deadline))
			continue
		}
		remaining := time.Until(p.sendDead)
		if remaining <= 0 {
			if len(p.sendQueue) > 0 {
				pending := p.sendQueue
				p.sendQueue = nil
				p.hasDead = false
				p.sendMu.Unlock()
				_ = p.vc.Send(pending, false)
				p.sendMu.Lock()
			} else {
				p.hasDead = false
			}
			continue
		}
		waitCondTimeout(p.sendCond, remaining)
	}
}

// Write pushes buf through echo, LF-insertion, and forwarding logic,
// draining the send-queue via VC.Send whenever a forwarding trigger
// fires or send_packet_size is reached.
func (p *Pad) Write(buf []byte) error {
	echo, _ := p.params.Get(paramEcho)
	editing, _ := p.params.Get(paramEditing)
	lf, _ := p.params.Get(paramLfInsert)
	forward, _ := p.params.Get(paramForward)
	sendSize := p.vc.Params().SendPacketSize

	for _, b := range buf {
		if echo == 1 && editing == 0 {
			p.recvMu.Lock()
			p.recvQueue = append(p.recvQueue, b)
			if lf&0x04 != 0 && b == 0x0d {
				p.recvQueue = append(p.recvQueue, 0x0a)
			}
			p.recvCond.Broadcast()
			p.recvMu.Unlock()
		}

		p.sendMu.Lock()
		p.sendQueue = append(p.sendQueue, b)
		if lf&0x02 != 0 && b == 0x0d {
			p.sendQueue = append(p.sendQueue, 0x0a)
		}
		trigger := p3Match(forward, b) || len(p.sendQueue) >= sendSize
		var pending []byte
		if trigger {
			pending = p.sendQueue
			p.sendQueue = nil
			p.hasDead = false
		}
		p.sendMu.Unlock()

		if trigger {
			if err := p.vc.Send(pending, false); err != nil {
				return err
			}
		}
	}

	if idleMs, enabled := p.params.idleDelay(); enabled {
		p.sendMu.Lock()
		if len(p.sendQueue) > 0 {
			p.sendDead = time.Now().Add(time.Duration(idleMs) * time.Millisecond)
			p.hasDead = true
			p.sendCond.Broadcast()
		}
		p.sendMu.Unlock()
	}
	return nil
}

// Read blocks until at least one byte is available or end is signalled,
// returning at most len(buf) bytes.
func (p *Pad) Read(buf []byte) (int, error) {
	p.recvMu.Lock()
	defer p.recvMu.Unlock()
	for len(p.recvQueue) == 0 && !p.end {
		p.recvCond.Wait()
	}
	if len(p.recvQueue) == 0 {
		return 0, nil
	}
	n := copy(buf, p.recvQueue)
	p.recvQueue = p.recvQueue[n:]
	return n, nil
}

// Flush drains the send-queue through VC.Send, then blocks on VC.Flush.
func (p *Pad) Flush() error {
	p.sendMu.Lock()
	pending := p.sendQueue
	p.sendQueue = nil
	p.hasDead = false
	p.sendMu.Unlock()
	if len(pending) > 0 {
		if err := p.vc.Send(pending, false); err != nil {
			return err
		}
	}
	return p.vc.Flush()
}

// Clear delegates to the underlying VC.
func (p *Pad) Clear(cause, diag byte) error {
	return p.vc.Clear(cause, diag)
}

// InviteClear sends an X.29 Clear-Invitation on the qualified channel.
func (p *Pad) InviteClear() error {
	buf, _ := EncodeX29Message(NewX29ClearInvitation())
	return p.vc.Send(buf, true)
}

// GetRemoteParams issues an X.29 Read for params (all parameters if
// empty) and blocks up to 5s for the peer's Indicate.
func (p *Pad) GetRemoteParams(params []byte) ([]X29ParamResult, error) {
	return p.remoteRequest(NewX29Read(params))
}

// SetRemoteParams issues an X.29 Set-Read for the given pairs and
// blocks up to 5s for the peer's Indicate. Set-Read is used rather
// than a bare Set so a reply is always sent even when every parameter
// is accepted, unlike Set's "respond with nothing on success".
func (p *Pad) SetRemoteParams(pairs []X29ParamResult) ([]X29ParamResult, error) {
	return p.remoteRequest(NewX29SetRead(pairs))
}

func (p *Pad) remoteRequest(msg X29Message) ([]X29ParamResult, error) {
	p.x29Mu.Lock()
	if p.x29Pending != nil {
		p.x29Mu.Unlock()
		return nil, errReqInFlight
	}
	ch := make(chan []X29ParamResult, 1)
	p.x29Pending = ch
	p.x29Mu.Unlock()

	buf, err := EncodeX29Message(msg)
	if err != nil {
		p.x29Mu.Lock()
		p.x29Pending = nil
		p.x29Mu.Unlock()
		return nil, err
	}
	if err := p.vc.Send(buf, true); err != nil {
		p.x29Mu.Lock()
		p.x29Pending = nil
		p.x29Mu.Unlock()
		return nil, err
	}

	select {
	case result := <-ch:
		return result, nil
	case <-time.After(x29RequestTimeout):
		p.x29Mu.Lock()
		if p.x29Pending == ch {
			p.x29Pending = nil
		}
		p.x29Mu.Unlock()
		return nil, &TimedOut{Reason: "x29 remote request"}
	}
}
