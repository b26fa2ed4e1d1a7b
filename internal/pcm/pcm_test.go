package pcm

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFloatToInt16Bounds(t *testing.T) {
	t.Parallel()

	got := FloatToInt16([]float32{1, -1, 2, -3, 0, 0.5, -0.5})
	require.Equal(t, []int16{32767, -32768, 32767, -32768, 0, 16383, -16384}, got)
}

func TestFloatToInt16Monotonic(t *testing.T) {
	t.Parallel()

	prev := int16(math.MinInt16)
	for i := -1100; i <= 1100; i++ {
		v := FloatToInt16([]float32{float32(i) / 1000})[0]
		require.GreaterOrEqual(t, v, prev, "sample %d", i)
		prev = v
	}
}

func TestInt16BytesLittleEndian(t *testing.T) {
	t.Parallel()

	b := Int16ToBytes([]int16{1, -2, 0x1234})
	require.Equal(t, []byte{0x01, 0x00, 0xfe, 0xff, 0x34, 0x12}, b)

	back, err := BytesToInt16(b)
	require.NoError(t, err)
	require.Equal(t, []int16{1, -2, 0x1234}, back)
}

func TestBytesToInt16OddLength(t *testing.T) {
	t.Parallel()

	_, err := BytesToInt16([]byte{1, 2, 3})
	require.True(t, errors.Is(err, ErrOddLength))
}

func TestTextRoundTrip(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{{}, {0}, {0xff, 0x00, 0x7f}, Int16ToBytes([]int16{-32768, 32767})} {
		out, err := DecodeText(EncodeText(in))
		require.NoError(t, err)
		require.Equal(t, len(in), len(out))
		if len(in) > 0 {
			require.Equal(t, in, out)
		}
	}
}

func TestDecodeTextRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := DecodeText("not*base64")
	require.Error(t, err)
}

func TestCodecRoundTripWithinOneStep(t *testing.T) {
	t.Parallel()

	in := []float32{-1, -0.75, -0.001, 0, 0.001, 0.3, 0.999, 1}
	frame := EncodeFrame(in)
	samples, err := BytesToInt16(frame)
	require.NoError(t, err)
	out := Int16ToFloat(samples)
	for i := range in {
		require.InDelta(t, in[i], out[i], 1.0/32767+1e-6)
	}
}
