package xotpad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFacility_Log2PacketSize(t *testing.T) {
	assert.EqualValues(t, 7, log2PacketSize(128))
	assert.EqualValues(t, 4, log2PacketSize(16))
	assert.Equal(t, 128, packetSizeFromLog2(7))
	assert.Equal(t, 16, packetSizeFromLog2(4))
}

func TestFacility_EncodeDecodeRoundTrip(t *testing.T) {
	fl := facilityList{
		PacketSize: &packetSizeFacility{FromCalled: 128, FromCalling: 256},
		WindowSize: &windowSizeFacility{FromCalled: 2, FromCalling: 7},
	}
	buf := encodeFacilities(fl)

	wire := append([]byte{byte(len(buf))}, buf...)
	got, n, err := decodeFacilities(wire)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	require.NotNil(t, got.PacketSize)
	assert.Equal(t, 128, got.PacketSize.FromCalled)
	assert.Equal(t, 256, got.PacketSize.FromCalling)
	require.NotNil(t, got.WindowSize)
	assert.Equal(t, 2, got.WindowSize.FromCalled)
	assert.Equal(t, 7, got.WindowSize.FromCalling)
}

func TestFacility_SkipsUnknownByDeclaredLength(t *testing.T) {
	// unknown facility type 0x99, length 3, then a known window-size facility.
	entries := []byte{0x99, 3, 0xAA, 0xBB, 0xCC, facWindowSize, 2, 1, 1}
	wire := append([]byte{byte(len(entries))}, entries...)

	got, n, err := decodeFacilities(wire)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Nil(t, got.PacketSize)
	require.NotNil(t, got.WindowSize)
}

func TestFacility_TruncatedListIsMalformed(t *testing.T) {
	_, _, err := decodeFacilities([]byte{5, 0x42, 2, 1})
	require.Error(t, err)
	assert.IsType(t, &PacketMalformed{}, err)
}

func TestFacility_EmptyListRoundTrips(t *testing.T) {
	buf := encodeFacilities(facilityList{})
	assert.Empty(t, buf)
	got, n, err := decodeFacilities([]byte{0})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Nil(t, got.PacketSize)
	assert.Nil(t, got.WindowSize)
}

func TestFacility_PacketSizeRoundTripsForAnyPowerOfTwo(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		log2 := rapid.IntRange(4, 7).Draw(t, "log2")
		size := 1 << log2
		if log2 == 7 {
			size = 128
		}
		assert.Equal(t, size, packetSizeFromLog2(log2PacketSize(size)))
	})
}
