package xotpad

/*------------------------------------------------------------------
 *
 * Purpose:	P3 forwarding-trigger predicate: whether a byte should
 *		trigger an immediate send given the current forwarding
 *		mask, per character class.
 *
 *------------------------------------------------------------------*/

func isAlphaNumeric(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func isClass4(b byte) bool {
	switch b {
	case 0x1b, 0x07, 0x05, 0x06:
		return true
	}
	return false
}

func isClass8(b byte) bool {
	switch b {
	case 0x7f, 0x18, 0x12:
		return true
	}
	return false
}

func isClass16(b byte) bool {
	return b == 0x04 || b == 0x03
}

func isClass32(b byte) bool {
	switch b {
	case 0x09, 0x0a, 0x0b, 0x0c:
		return true
	}
	return false
}

func isClass64(b byte) bool {
	switch b {
	case 0x00, 0x01, 0x02, 0x08, 0x0e, 0x0f, 0x10, 0x11, 0x13, 0x14, 0x15, 0x16, 0x17, 0x19, 0x1a, 0x1c, 0x1d, 0x1e, 0x1f:
		return true
	}
	return false
}

// p3Match reports whether byte b belongs to any class selected by mask,
// the P3 forwarding parameter (only the low 7 bits are meaningful).
func p3Match(mask byte, b byte) bool {
	mask &= 0x7F
	if mask&0x01 != 0 && isAlphaNumeric(b) {
		return true
	}
	if mask&0x02 != 0 && b == 0x0d {
		return true
	}
	if mask&0x04 != 0 && isClass4(b) {
		return true
	}
	if mask&0x08 != 0 && isClass8(b) {
		return true
	}
	if mask&0x10 != 0 && isClass16(b) {
		return true
	}
	if mask&0x20 != 0 && isClass32(b) {
		return true
	}
	if mask&0x40 != 0 && isClass64(b) {
		return true
	}
	return false
}
