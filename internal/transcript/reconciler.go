// Package transcript merges streamed transcription fragments into an ordered
// conversation log and records finished messages.
package transcript

import (
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// InterruptedMarker is appended to a model message cut off by the user.
const InterruptedMarker = " ..."

// Message is one speaker turn.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Final     bool      `json:"final"`
}

// NewID returns a random message or session id.
func NewID() string {
	id, _ := gonanoid.New()
	return id
}

// Reconciler owns the transcript. Only the last message may change: a delta
// extends it when it is open and has the same role, otherwise a new message
// is opened.
type Reconciler struct {
	mu       sync.Mutex
	messages []Message
	now      func() time.Time
	onChange func([]Message)
	onFinal  func(Message)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithChangeHandler receives the full log after every mutation.
func WithChangeHandler(fn func([]Message)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

// WithFinalHandler receives each message as it is closed.
func WithFinalHandler(fn func(Message)) Option {
	return func(r *Reconciler) { r.onFinal = fn }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AppendDelta merges a transcription fragment.
func (r *Reconciler) AppendDelta(role Role, text string) {
	r.mu.Lock()
	if n := len(r.messages); n > 0 && !r.messages[n-1].Final && r.messages[n-1].Role == role {
		r.messages[n-1].Text += text
	} else {
		r.messages = append(r.messages, Message{
			ID:        NewID(),
			Role:      role,
			Text:      text,
			Timestamp: r.now(),
		})
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.changed(snap)
}

// Finalize closes the last message if it is open.
func (r *Reconciler) Finalize() {
	r.closeLast(func(Message) bool { return true }, "")
}

// FinalizeWithMarker appends suffix to an open model message and closes it.
// Any other last message is left alone.
func (r *Reconciler) FinalizeWithMarker(suffix string) {
	r.closeLast(func(m Message) bool { return m.Role == RoleModel }, suffix)
}

func (r *Reconciler) closeLast(match func(Message) bool, suffix string) {
	r.mu.Lock()
	n := len(r.messages)
	if n == 0 || r.messages[n-1].Final || !match(r.messages[n-1]) {
		r.mu.Unlock()
		return
	}
	last := &r.messages[n-1]
	last.Text += suffix
	last.Final = true
	closed := *last
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if r.onFinal != nil {
		r.onFinal(closed)
	}
	r.changed(snap)
}

// Messages returns a copy of the log.
func (r *Reconciler) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Reset clears the log.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
	r.changed(nil)
}

func (r *Reconciler) snapshotLocked() []Message {
	return append([]Message(nil), r.messages...)
}

func (r *Reconciler) changed(snap []Message) {
	if r.onChange != nil {
		r.onChange(snap)
	}
}
