package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Speaker consumes rendered mono blocks. Write blocks for roughly the
// duration of the block so that the render loop is paced by the device.
type Speaker interface {
	Write(samples []float32) error
	Close() error
}

// Handle cancels one scheduled segment.
type Handle interface {
	Stop() error
}

var errOutputClosed = errors.New("audio output closed")

type segment struct {
	id      uint64
	samples []float32
	start   int64
	ended   func()
}

func (s *segment) end() int64 { return s.start + int64(len(s.samples)) }

// Output is a playback timeline. Its clock counts frames handed to the
// speaker; segments are mixed in at their start time and their ended
// callback fires once the last sample has been written.
type Output struct {
	speaker Speaker
	rate    int
	block   int
	log     *slog.Logger

	mu      sync.Mutex
	written int64
	nextID  uint64
	segs    map[uint64]*segment
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewOutput renders at rate in blocks of 20ms.
func NewOutput(speaker Speaker, rate int) *Output {
	return &Output{
		speaker: speaker,
		rate:    rate,
		block:   rate / 50,
		log:     slog.Default().With("component", "output"),
		segs:    make(map[uint64]*segment),
	}
}

// Start launches the render loop.
func (o *Output) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})
	go o.run(ctx)
}

// Now is the output clock.
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frameTime(o.written)
}

// Schedule places buf on the timeline at the given clock time.
func (o *Output) Schedule(buf *Buffer, at time.Duration, onEnded func()) (Handle, error) {
	buf = buf.Resample(o.rate)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errOutputClosed
	}
	o.nextID++
	seg := &segment{
		id:      o.nextID,
		samples: buf.Samples,
		start:   o.frameAt(at),
		ended:   onEnded,
	}
	o.segs[seg.id] = seg
	return &voice{out: o, id: seg.id}, nil
}

// Pending is the number of segments not yet finished.
func (o *Output) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.segs)
}

// Close stops rendering, drops pending segments without callbacks and closes
// the speaker.
func (o *Output) Close() error {
	var err error
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.segs = make(map[uint64]*segment)
		o.mu.Unlock()
		if o.cancel != nil {
			o.cancel()
		}
		err = o.speaker.Close()
		if o.done != nil {
			<-o.done
		}
	})
	return err
}

func (o *Output) frameTime(frames int64) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(o.rate)
}

// frameAt is the frame nearest to t. Rounding makes frameAt(frameTime(n)) == n
// even though frameTime truncates to whole nanoseconds.
func (o *Output) frameAt(t time.Duration) int64 {
	return (int64(t)*int64(o.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (o *Output) run(ctx context.Context) {
	defer close(o.done)
	mix := make([]float32, o.block)
	for {
		if ctx.Err() != nil {
			return
		}
		finished := o.render(mix)
		if err := o.speaker.Write(mix); err != nil {
			if ctx.Err() == nil {
				o.log.Error("speaker write failed", "err", err)
			}
			return
		}
		for _, fn := range finished {
			fn()
		}
	}
}

// render mixes the next block and returns callbacks of segments it completed.
func (o *Output) render(mix []float32) []func() {
	clear(mix)

	o.mu.Lock()
	defer o.mu.Unlock()
	from := o.written
	to := from + int64(len(mix))
	var finished []func()
	for id, seg := range o.segs {
		lo := max(from, seg.start)
		hi := min(to, seg.end())
		for f := lo; f < hi; f++ {
			mix[f-from] += seg.samples[f-seg.start]
		}
		if seg.end() <= to {
			delete(o.segs, id)
			if seg.ended != nil {
				finished = append(finished, seg.ended)
			}
		}
	}
	for i, s := range mix {
		mix[i] = float32(clamp(float64(s), -1, 1))
	}
	o.written = to
	return finished
}

type voice struct {
	out *Output
	id  uint64
}

// Stop removes the segment. Its ended callback will not run.
func (v *voice) Stop() error {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	delete(v.out.segs, v.id)
	return nil
}

// NullSpeaker discards audio at real-time pace.
type NullSpeaker struct {
	Rate int
}

func (n NullSpeaker) Write(samples []float32) error {
	if n.Rate > 0 {
		time.Sleep(time.Duration(len(samples)) * time.Second / time.Duration(n.Rate))
	}
	return nil
}

func (NullSpeaker) Close() error { return nil }
