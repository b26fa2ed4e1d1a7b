package audio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/christian-lee/tutorvoice/internal/pcm"
)

const (
	// InputSampleRate is the rate of microphone frames sent upstream.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of synthesized speech received from the model.
	OutputSampleRate = 24000
	// FrameSize is the number of samples per capture frame.
	FrameSize = 4096
)

// InputMIMEType annotates every outbound frame.
var InputMIMEType = fmt.Sprintf("audio/pcm;rate=%d", InputSampleRate)

var (
	// ErrMalformedAudio marks an inbound payload that is not whole 16-bit samples.
	ErrMalformedAudio = errors.New("malformed audio payload")
	// ErrDeviceUnavailable marks a microphone or speaker that could not be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// Buffer is decoded mono audio ready for scheduling.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration is len(Samples) / SampleRate.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Decode turns little-endian mono int16 bytes into a normalized Buffer.
func Decode(data []byte, sampleRate int) (*Buffer, error) {
	samples, err := pcm.BytesToInt16(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	return &Buffer{Samples: pcm.Int16ToFloat(samples), SampleRate: sampleRate}, nil
}

// Resample returns the buffer converted to rate by linear interpolation.
// The receiver is returned unchanged when the rates already match.
func (b *Buffer) Resample(rate int) *Buffer {
	if b.SampleRate == rate || b.SampleRate <= 0 || rate <= 0 || len(b.Samples) == 0 {
		return b
	}
	ratio := float64(rate) / float64(b.SampleRate)
	n := int(float64(len(b.Samples)) * ratio)
	out := make([]float32, n)
	last := len(b.Samples) - 1
	for i := range out {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := min(last, i0+1)
		frac := float32(src - float64(i0))
		out[i] = b.Samples[i0]*(1-frac) + b.Samples[i1]*frac
	}
	return &Buffer{Samples: out, SampleRate: rate}
}

// RMS is the root mean square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level maps a frame to a display volume in [0, 1].
func Level(samples []float32, boost float64) float64 {
	return clamp(RMS(samples)*boost, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
