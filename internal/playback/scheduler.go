// Package playback schedules decoded speech segments back to back on an
// output timeline and tracks which of them are still sounding.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/christian-lee/tutorvoice/internal/audio"
)

// Clock reports the output timeline position.
type Clock interface {
	Now() time.Duration
}

// Sink starts a buffer at a timeline position. onEnded runs once the buffer
// has played out, unless its handle was stopped first.
type Sink interface {
	Schedule(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Handle, error)
}

// Output is a timeline that is both clock and sink, such as *audio.Output.
type Output interface {
	Clock
	Sink
}

// Scheduler keeps a cursor at the end of the last scheduled segment so that
// consecutive chunks play gaplessly, and snaps it forward when playback has
// drained.
type Scheduler struct {
	out        Output
	onSpeaking func(bool)
	log        *slog.Logger

	mu sync.Mutex
	// cursor = base + frames/rate, counted in samples of the current run.
	base     time.Duration
	frames   int64
	rate     int
	inFlight map[uint64]audio.Handle
	nextID   uint64
	gen      uint64
	speaking bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSpeakingHandler is told when playback starts and goes idle.
func WithSpeakingHandler(fn func(speaking bool)) Option {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func New(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:      out,
		log:      slog.Default(),
		inFlight: make(map[uint64]audio.Handle),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue schedules buf at the cursor and advances the cursor by its duration.
func (s *Scheduler) Enqueue(buf *audio.Buffer) error {
	s.mu.Lock()
	cursor := s.cursorLocked()
	if now := s.out.Now(); cursor < now {
		s.rebase(now)
	} else if buf.SampleRate > 0 && buf.SampleRate != s.rate {
		s.rebase(cursor)
	}
	if buf.SampleRate > 0 {
		s.rate = buf.SampleRate
	}
	s.nextID++
	id, gen := s.nextID, s.gen

	h, err := s.out.Schedule(buf, s.cursorLocked(), func() { s.ended(gen, id) })
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.rate > 0 {
		s.frames += int64(len(buf.Samples))
	}
	s.inFlight[id] = h
	started := !s.speaking
	s.speaking = true
	s.mu.Unlock()

	if started {
		s.notify(true)
	}
	return nil
}

func (s *Scheduler) rebase(at time.Duration) {
	s.base, s.frames = at, 0
}

func (s *Scheduler) cursorLocked() time.Duration {
	if s.rate <= 0 {
		return s.base
	}
	return s.base + time.Duration(s.frames)*time.Second/time.Duration(s.rate)
}

func (s *Scheduler) ended(gen, id uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	delete(s.inFlight, id)
	idle := len(s.inFlight) == 0 && s.speaking
	if idle {
		s.speaking = false
	}
	s.mu.Unlock()

	if idle {
		s.notify(false)
	}
}

// Stop silences every in-flight segment, resets the cursor to zero and
// signals idle. Stop errors from individual segments are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	handles := s.inFlight
	s.inFlight = make(map[uint64]audio.Handle)
	s.rebase(0)
	s.gen++
	s.speaking = false
	s.mu.Unlock()

	for _, h := range handles {
		if err := h.Stop(); err != nil {
			s.log.Debug("stop segment", "err", err)
		}
	}
	s.notify(false)
}

// InFlight is the number of segments scheduled and not yet ended.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Cursor is where the next segment will start.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursorLocked()
}

func (s *Scheduler) notify(speaking bool) {
	if s.onSpeaking != nil {
		s.onSpeaking(speaking)
	}
}
