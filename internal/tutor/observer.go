package tutor

import (
	"sync"

	"github.com/christian-lee/tutorvoice/internal/transcript"
)

// State is the connection state shown to the learner.
type State string

const (
	StateIdle       State = "disconnected"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateClosing    State = "closing"
)

// Observer receives UI-facing notifications. Calls may come from any
// goroutine and must not block.
type Observer interface {
	ConnectionStateChanged(state State)
	SpeakingChanged(speaking bool)
	VolumeChanged(level float64)
	Error(message string)
	TranscriptChanged(messages []transcript.Message)
	ModeChanged(mode Mode)
}

// NopObserver ignores everything. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ConnectionStateChanged(State)           {}
func (NopObserver) SpeakingChanged(bool)                   {}
func (NopObserver) VolumeChanged(float64)                  {}
func (NopObserver) Error(string)                           {}
func (NopObserver) TranscriptChanged([]transcript.Message) {}
func (NopObserver) ModeChanged(Mode)                       {}

// Fanout forwards to a changing set of observers.
type Fanout struct {
	mu   sync.RWMutex
	subs map[int]Observer
	next int
}

func NewFanout(obs ...Observer) *Fanout {
	f := &Fanout{subs: make(map[int]Observer)}
	for _, o := range obs {
		f.Add(o)
	}
	return f
}

// Add registers o and returns a function that removes it.
func (f *Fanout) Add(o Observer) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = o
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *Fanout) each(fn func(Observer)) {
	f.mu.RLock()
	subs := make([]Observer, 0, len(f.subs))
	for _, o := range f.subs {
		subs = append(subs, o)
	}
	f.mu.RUnlock()
	for _, o := range subs {
		fn(o)
	}
}

func (f *Fanout) ConnectionStateChanged(s State) { f.each(func(o Observer) { o.ConnectionStateChanged(s) }) }
func (f *Fanout) SpeakingChanged(v bool)         { f.each(func(o Observer) { o.SpeakingChanged(v) }) }
func (f *Fanout) VolumeChanged(v float64)        { f.each(func(o Observer) { o.VolumeChanged(v) }) }
func (f *Fanout) Error(msg string)               { f.each(func(o Observer) { o.Error(msg) }) }
func (f *Fanout) ModeChanged(m Mode)             { f.each(func(o Observer) { o.ModeChanged(m) }) }
func (f *Fanout) TranscriptChanged(m []transcript.Message) {
	f.each(func(o Observer) { o.TranscriptChanged(m) })
}
