package xotpad

/*------------------------------------------------------------------
 *
 * Purpose:	Protection timers T21/T22/T23.
 *
 *------------------------------------------------------------------*/

import "time"

// nextDeadlineLocked returns the deadline of the currently active
// protection timer, if any.
func (vc *VC) nextDeadlineLocked() (time.Time, bool) {
	switch vc.state {
	case StateWaitCallAccept:
		return vc.waitStart.Add(vc.params.T21), true
	case StateWaitResetConfirm:
		return vc.waitStart.Add(vc.params.T22), true
	case StateWaitClearConfirm:
		return vc.waitStart.Add(vc.params.T23), true
	default:
		return time.Time{}, false
	}
}

func (vc *VC) handleTimeoutLocked() {
	switch vc.state {
	case StateWaitCallAccept:
		logTimerExpiry(vc.channel, "T21")
		if vc.emitLocked(X25ClearRequest{
			x25Header: x25Header{Modulo: vc.params.Modulo, Channel: vc.channel},
			Cause:     19, Diagnostic: 49,
		}) {
			vc.clearInit = ClearInitiator{Kind: clearInitTimeout, Timer: "T21"}
			vc.setStateLocked(StateWaitClearConfirm)
			vc.waitStart = time.Now()
		}
		vc.cond.Broadcast()

	case StateWaitResetConfirm:
		logTimerExpiry(vc.channel, "T22")
		if vc.emitLocked(X25ClearRequest{
			x25Header: x25Header{Modulo: vc.params.Modulo, Channel: vc.channel},
			Cause:     19, Diagnostic: 51,
		}) {
			vc.clearInit = ClearInitiator{Kind: clearInitTimeout, Timer: "T22"}
			vc.setStateLocked(StateWaitClearConfirm)
			vc.waitStart = time.Now()
		}
		vc.cond.Broadcast()

	case StateWaitClearConfirm:
		logTimerExpiry(vc.channel, "T23")
		vc.setStateLocked(StateOutOfOrder)
		vc.cond.Broadcast()
	}
}
