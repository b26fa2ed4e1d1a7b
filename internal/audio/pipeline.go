package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/christian-lee/tutorvoice/internal/pcm"
)

// Microphone opens an exclusive capture stream.
type Microphone interface {
	Open(ctx context.Context) (FrameStream, error)
}

// FrameStream yields fixed-size mono frames. Close must unblock a pending
// ReadFrame.
type FrameStream interface {
	ReadFrame() ([]float32, error)
	Close() error
}

// FrameSink accepts encoded frames without blocking.
type FrameSink interface {
	SendFrame(frame []byte)
}

// DefaultVolumeBoost scales frame RMS into a visible meter range.
const DefaultVolumeBoost = 5.0

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithVolumeHandler receives the display volume of every frame.
func WithVolumeHandler(fn func(level float64)) PipelineOption {
	return func(p *Pipeline) { p.onVolume = fn }
}

// WithErrorHandler receives a read failure that ends the capture loop.
func WithErrorHandler(fn func(err error)) PipelineOption {
	return func(p *Pipeline) { p.onError = fn }
}

// WithVolumeBoost overrides DefaultVolumeBoost.
func WithVolumeBoost(boost float64) PipelineOption {
	return func(p *Pipeline) { p.boost = boost }
}

// WithPipelineLogger sets the logger used by the capture loop.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline pulls frames from a microphone, meters them, encodes them to
// 16-bit PCM and hands them to a FrameSink.
type Pipeline struct {
	mic      Microphone
	sink     FrameSink
	boost    float64
	onVolume func(float64)
	onError  func(error)
	log      *slog.Logger

	muted    atomic.Bool
	mu       sync.Mutex
	stream   FrameStream
	stopping atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

func NewPipeline(mic Microphone, sink FrameSink, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		mic:   mic,
		sink:  sink,
		boost: DefaultVolumeBoost,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start opens the microphone and launches the frame loop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return nil
	}
	if p.stopping.Load() {
		return fmt.Errorf("%w: capture already stopped", ErrDeviceUnavailable)
	}

	stream, err := p.mic.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	p.stream = stream
	p.done = make(chan struct{})
	go p.loop(stream, p.done)
	p.log.Info("🎙️ capture started")
	return nil
}

// SetMuted discards frames while muted. The device keeps running.
func (p *Pipeline) SetMuted(muted bool) {
	p.muted.Store(muted)
}

func (p *Pipeline) Muted() bool {
	return p.muted.Load()
}

// Stop closes the device and waits for the loop. Safe to call repeatedly and
// before Start.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		p.mu.Lock()
		stream, done := p.stream, p.done
		p.mu.Unlock()
		if stream == nil {
			return
		}
		if err := stream.Close(); err != nil {
			p.log.Warn("close capture stream", "err", err)
		}
		<-done
		p.log.Info("capture stopped")
	})
}

func (p *Pipeline) loop(stream FrameStream, done chan struct{}) {
	defer close(done)
	for {
		frame, err := stream.ReadFrame()
		if err != nil {
			if p.stopping.Load() {
				return
			}
			p.log.Error("capture read failed", "err", err)
			if p.onError != nil {
				p.onError(fmt.Errorf("%w: %v", ErrDeviceUnavailable, err))
			}
			return
		}
		if p.stopping.Load() {
			return
		}

		if p.muted.Load() {
			p.report(0)
			continue
		}
		p.report(Level(frame, p.boost))
		p.sink.SendFrame(pcm.EncodeFrame(frame))
	}
}

func (p *Pipeline) report(level float64) {
	if p.onVolume != nil {
		p.onVolume(level)
	}
}
