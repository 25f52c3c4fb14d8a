package xotpad

/*------------------------------------------------------------------
 *
 * Purpose:	Sliding send-window arithmetic for the data-transfer
 *		substate: tracks in-flight sequence numbers as a head/tail
 *		pair rather than a list of queued packets, so the
 *		bookkeeping collapses to three integers plus the modulus.
 *
 *------------------------------------------------------------------*/

// sendWindow tracks the sliding send window: start is the oldest
// unacknowledged sequence number, next is the next sequence number this
// side will send, and size is the negotiated window size. All sequence
// arithmetic is modulo `modulo`.
type sendWindow struct {
	start  byte
	next   byte
	size   int
	modulo X25Modulo
}

func newSendWindow(size int, modulo X25Modulo) sendWindow {
	return sendWindow{start: 0, next: 0, size: size, modulo: modulo}
}

func nextSeq(seq byte, modulo X25Modulo) byte {
	return byte((int(seq) + 1) % int(modulo))
}

// isOpen reports whether the window currently permits sending another
// packet: (next - start) mod N < size.
func (w *sendWindow) isOpen() bool {
	n := int(w.modulo)
	diff := (int(w.next) - int(w.start) + n) % n
	return diff < w.size
}

// seq returns the sequence number to use for the next outgoing packet.
func (w *sendWindow) seq() byte {
	return w.next
}

// incr advances the next-to-send sequence number after a successful send.
func (w *sendWindow) incr() {
	w.next = nextSeq(w.next, w.modulo)
}

// updateStart advances the window's start (acknowledging 0 or more
// in-flight packets) iff s is one of {start, start+1, ..., next} mod N.
// It returns false — and leaves the window untouched — for any other
// value.
func (w *sendWindow) updateStart(s byte) bool {
	n := int(w.modulo)
	span := (int(w.next) - int(w.start) + n) % n
	offset := (int(s) - int(w.start) + n) % n
	if offset > span {
		return false
	}
	w.start = s
	return true
}
