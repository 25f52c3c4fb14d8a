package xotpad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestP3Match_KnownClasses(t *testing.T) {
	assert.True(t, p3Match(1, 'a'))
	assert.True(t, p3Match(2, 0x0d))
	assert.False(t, p3Match(2, 'a'))
	assert.True(t, p3Match(126, 0x0d)) // default forward mask includes CR
}

// Property 9: is_match(m,b) equals the OR of the per-class tests, for
// every byte and every 7-bit mask.
func TestP3Match_EqualsOrOfClasses(t *testing.T) {
	classify := func(b byte) byte {
		var mask byte
		if isAlphaNumeric(b) {
			mask |= 0x01
		}
		if b == 0x0d {
			mask |= 0x02
		}
		if isClass4(b) {
			mask |= 0x04
		}
		if isClass8(b) {
			mask |= 0x08
		}
		if isClass16(b) {
			mask |= 0x10
		}
		if isClass32(b) {
			mask |= 0x20
		}
		if isClass64(b) {
			mask |= 0x40
		}
		return mask
	}

	rapid.Check(t, func(t *rapid.T) {
		b := byte(rapid.IntRange(0, 255).Draw(t, "b"))
		m := byte(rapid.IntRange(0, 127).Draw(t, "m"))
		want := classify(b)&m != 0
		assert.Equal(t, want, p3Match(m, b))
	})
}

func TestP3Match_MaskIsMaskedTo7Bits(t *testing.T) {
	assert.Equal(t, p3Match(0x01, 'a'), p3Match(0x81, 'a'))
}
