package g711

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUlawRoundTripIsLossyButBounded(t *testing.T) {
	samples := []int16{0, 100, -100, 32000, -32000, 1, -1}
	frame := EncodeUlaw(samples)
	back := DecodeUlaw(frame)
	require := assert.New(t)
	require.Len(back, len(samples))
	for i, s := range samples {
		diff := int(s) - int(back[i])
		if diff < 0 {
			diff = -diff
		}
		require.Lessf(diff, 3000, "sample %d: %d round-tripped to %d", i, s, back[i])
	}
}

func TestAlawRoundTripIsLossyButBounded(t *testing.T) {
	samples := []int16{0, 100, -100, 32000, -32000}
	frame := EncodeAlaw(samples)
	back := DecodeAlaw(frame)
	for i, s := range samples {
		diff := int(s) - int(back[i])
		if diff < 0 {
			diff = -diff
		}
		assert.Lessf(t, diff, 3000, "sample %d: %d round-tripped to %d", i, s, back[i])
	}
}

func TestSilenceEncodesToConventionalFillerByte(t *testing.T) {
	assert.Equal(t, byte(0xFF), EncodeUlaw([]int16{0})[0])
	assert.Equal(t, byte(0x55), EncodeAlaw([]int16{0})[0])
}
