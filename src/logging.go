package xotpad

/*------------------------------------------------------------------
 *
 * Purpose:	Structured logging. A package-level logger that defaults to
 *		discarding output, swappable by callers that want
 *		diagnostics, with calls built around With() fields rather
 *		than formatted strings.
 *
 *------------------------------------------------------------------*/

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

var logger = log.NewWithOptions(io.Discard, log.Options{})

// SetLogger replaces the package-wide logger. Pass nil to restore the
// discarding default.
func SetLogger(l *log.Logger) {
	if l == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
		return
	}
	logger = l
}

var terminalTimestamp = strftime.MustNew("%Y-%m-%d %H:%M:%S")

// logTerminalState logs a VC's arrival at a terminal state (Cleared or
// OutOfOrder) with a formatted wall-clock timestamp. It is logged in
// addition to the plain transition line from logStateTransition.
func logTerminalState(lci uint16, state VCState, at time.Time) {
	ts, err := terminalTimestamp.FormatString(at)
	if err != nil {
		ts = at.UTC().String()
	}
	logger.With("lci", lci, "state", state.String(), "at", ts).
		Info("vc entered terminal state")
}

// logStateTransition logs every VC state change.
func logStateTransition(lci uint16, from, to VCState) {
	logger.With("lci", lci, "from", from.String(), "to", to.String()).
		Info("vc state transition")
}

// logTimerExpiry logs a protection timer (T21/T22/T23) firing.
func logTimerExpiry(lci uint16, timer string) {
	logger.With("lci", lci, "timer", timer).Warn("protection timer expired")
}

// logFacilityNegotiation logs the packet/window sizes a VC settled on
// once facility negotiation completes, on either side of the call.
func logFacilityNegotiation(lci uint16, params X25Params) {
	logger.With("lci", lci,
		"send_packet_size", params.SendPacketSize, "recv_packet_size", params.RecvPacketSize,
		"send_window_size", params.SendWindowSize, "recv_window_size", params.RecvWindowSize,
	).Info("facility negotiation complete")
}

// logX29Message logs an X.29 in-band message as it is dispatched.
func logX29Message(lci uint16, kind byte) {
	logger.With("lci", lci, "kind", kind).Debug("x29 message handled")
}

// logIOFailure logs a link I/O or codec failure that is about to demote
// a VC to OutOfOrder.
func logIOFailure(lci uint16, err error) {
	logger.With("lci", lci, "err", err).Error("link i/o failure, demoting to out-of-order")
}
