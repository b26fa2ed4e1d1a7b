package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// stepSpeaker renders one block per tick.
type stepSpeaker struct {
	tick   chan struct{}
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	blocks [][]float32
}

func newStepSpeaker() *stepSpeaker {
	return &stepSpeaker{tick: make(chan struct{}), closed: make(chan struct{})}
}

func (s *stepSpeaker) Write(samples []float32) error {
	select {
	case <-s.tick:
	case <-s.closed:
		return errors.New("closed")
	}
	s.mu.Lock()
	s.blocks = append(s.blocks, append([]float32(nil), samples...))
	s.mu.Unlock()
	return nil
}

func (s *stepSpeaker) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *stepSpeaker) step(n int) {
	for range n {
		s.tick <- struct{}{}
	}
}

func constant(v float32, n, rate int) *Buffer {
	b := &Buffer{Samples: make([]float32, n), SampleRate: rate}
	for i := range b.Samples {
		b.Samples[i] = v
	}
	return b
}

func TestOutputClockAndCallbacks(t *testing.T) {
	defer goleak.VerifyNone(t)

	const rate = 1000 // 20-sample blocks
	sp := newStepSpeaker()
	out := NewOutput(sp, rate)
	defer out.Close()

	var ended atomic.Int32
	_, err := out.Schedule(constant(0.25, 30, rate), 0, func() { ended.Add(1) })
	require.NoError(t, err)
	out.Start(context.Background())

	sp.step(1)
	require.Eventually(t, func() bool { return out.Now() >= 20*time.Millisecond }, time.Second, time.Millisecond)
	require.Zero(t, ended.Load())

	sp.step(1)
	require.Eventually(t, func() bool { return ended.Load() == 1 }, time.Second, time.Millisecond)
	require.Zero(t, out.Pending())

	sp.step(2)
	require.Equal(t, int32(1), ended.Load())

	sp.mu.Lock()
	defer sp.mu.Unlock()
	require.Equal(t, float32(0.25), sp.blocks[0][0])
	require.Equal(t, float32(0.25), sp.blocks[1][9])
	require.Zero(t, sp.blocks[1][10])
}

func TestOutputStopSkipsCallback(t *testing.T) {
	defer goleak.VerifyNone(t)

	const rate = 1000
	sp := newStepSpeaker()
	out := NewOutput(sp, rate)
	defer out.Close()

	var ended atomic.Int32
	h, err := out.Schedule(constant(0.5, 100, rate), 0, func() { ended.Add(1) })
	require.NoError(t, err)
	out.Start(context.Background())

	sp.step(1)
	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
	sp.step(3)
	require.Zero(t, ended.Load())
	require.Zero(t, out.Pending())
}

func TestOutputScheduleAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	out := NewOutput(newStepSpeaker(), 1000)
	out.Start(context.Background())
	require.NoError(t, out.Close())
	require.NoError(t, out.Close())

	_, err := out.Schedule(constant(0.1, 10, 1000), 0, nil)
	require.Error(t, err)
}

func TestOutputMixesOverlap(t *testing.T) {
	defer goleak.VerifyNone(t)

	const rate = 1000
	sp := newStepSpeaker()
	out := NewOutput(sp, rate)
	_, _ = out.Schedule(constant(0.75, 20, rate), 0, nil)
	_, _ = out.Schedule(constant(0.75, 20, rate), 10*time.Millisecond, nil)
	out.Start(context.Background())
	sp.step(2)
	require.NoError(t, out.Close())

	sp.mu.Lock()
	defer sp.mu.Unlock()
	require.Equal(t, float32(0.75), sp.blocks[0][0])
	require.Equal(t, float32(1), sp.blocks[0][15])
	require.Equal(t, float32(0.75), sp.blocks[1][5])
}

func TestOutputBackToBackHasNoSeam(t *testing.T) {
	defer goleak.VerifyNone(t)

	const rate = 24000 // 480-sample blocks
	sp := newStepSpeaker()
	out := NewOutput(sp, rate)

	// 1000 samples is not a whole number of nanoseconds at 24 kHz.
	a := constant(0.4, 1000, rate)
	b := constant(0.4, 1000, rate)
	_, err := out.Schedule(a, 0, nil)
	require.NoError(t, err)
	_, err = out.Schedule(b, a.Duration(), nil)
	require.NoError(t, err)
	out.Start(context.Background())
	sp.step(5)
	require.NoError(t, out.Close())

	sp.mu.Lock()
	defer sp.mu.Unlock()
	var played []float32
	for _, blk := range sp.blocks {
		played = append(played, blk...)
	}
	require.GreaterOrEqual(t, len(played), 2001)
	for i := range 2000 {
		require.Equal(t, float32(0.4), played[i], "frame %d", i)
	}
	require.Zero(t, played[2000])
}
