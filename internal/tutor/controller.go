// Package tutor runs one voice tutoring session at a time: it opens the
// microphone and speaker, connects to the live service and routes everything
// the service says back to playback, the transcript and the observer.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/christian-lee/tutorvoice/internal/audio"
	"github.com/christian-lee/tutorvoice/internal/live"
	"github.com/christian-lee/tutorvoice/internal/playback"
	"github.com/christian-lee/tutorvoice/internal/transcript"
)

// Settings are read at every Connect.
type Settings struct {
	Model         string
	Voice         string
	Instruction   string
	VolumeBoost   float64
	QueueBytes    int
	TranscriptDir string
	DialTimeout   time.Duration
}

// CredentialSource yields the API key.
type CredentialSource interface {
	Resolve() (key, source string, err error)
}

// Devices opens the local audio endpoints for a session.
type Devices interface {
	Microphone() audio.Microphone
	OpenSpeaker() (audio.Speaker, error)
}

// History persists finished conversations. store.Store implements it.
type History interface {
	StartConversation(id, model string, at time.Time) error
	AddMessage(conversationID string, m transcript.Message) error
	EndConversation(id string, at time.Time) error
}

// Status is a point-in-time snapshot for the UI.
type Status struct {
	State     State  `json:"state"`
	Mode      Mode   `json:"mode"`
	ModeLabel string `json:"mode_label"`
	Speaking  bool   `json:"speaking"`
	Muted     bool   `json:"muted"`
	SessionID string `json:"session_id,omitempty"`
}

type Option func(*Controller)

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.obs = o }
}

func WithHistory(h History) Option {
	return func(c *Controller) { c.history = h }
}

func WithSettings(fn func() Settings) Option {
	return func(c *Controller) { c.settings = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller owns the session lifecycle.
type Controller struct {
	dialer   live.Dialer
	creds    CredentialSource
	devices  Devices
	obs      Observer
	history  History
	settings func() Settings
	log      *slog.Logger

	mu         sync.Mutex
	state      State
	mode       Mode
	speaking   bool
	muted      bool
	cur        *session
	transcript []transcript.Message
}

func New(dialer live.Dialer, creds CredentialSource, devices Devices, opts ...Option) *Controller {
	c := &Controller{
		dialer:   dialer,
		creds:    creds,
		devices:  devices,
		obs:      NopObserver{},
		settings: DefaultSettings,
		log:      slog.Default().With("component", "tutor"),
		state:    StateIdle,
		mode:     ModeIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DefaultSettings match config.Defaults.
func DefaultSettings() Settings {
	return Settings{
		Model:       "gemini-2.5-flash-native-audio-preview-09-2025",
		Voice:       "Puck",
		VolumeBoost: audio.DefaultVolumeBoost,
		QueueBytes:  256 << 10,
	}
}

// session holds everything one Connect opened. Resources are attached as
// they come up so a concurrent teardown closes exactly what exists.
type session struct {
	id     string
	cfg    Settings
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	output     *audio.Output
	scheduler  *playback.Scheduler
	queue      *audio.FrameQueue
	pipeline   *audio.Pipeline
	conn       live.Conn
	recon      *transcript.Reconciler
	logger     *transcript.Logger
	writerDone chan struct{}
	eventsDone chan struct{}
}

// attach runs fn under the session lock unless teardown already started.
func (s *session) attach(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn()
	return true
}

// Connect opens a session. It returns once the service accepted the setup.
// ctx bounds the connect phase only.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	busy := c.cur != nil
	c.mu.Unlock()
	if busy {
		return ErrBusy
	}

	key, source, err := c.creds.Resolve()
	if err != nil {
		c.log.Warn("no credential", "err", err)
		c.obs.Error(UserMessage(err))
		return err
	}

	c.mu.Lock()
	if c.cur != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	cfg := c.settings()
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		id:     transcript.NewID(),
		cfg:    cfg,
		ctx:    sessCtx,
		cancel: cancel,
	}
	c.cur = sess
	c.state = StateConnecting
	muted := c.muted
	c.mu.Unlock()
	c.obs.ConnectionStateChanged(StateConnecting)

	log := c.log.With("session", sess.id)
	log.Info("🔌 connecting", "model", cfg.Model, "credential", source)

	if err := c.open(ctx, sess, key, muted); err != nil {
		if sessCtx.Err() != nil {
			// Disconnect ran while connecting.
			return context.Canceled
		}
		if ctx.Err() != nil {
			c.close(sess, false)
			return ctx.Err()
		}
		log.Error("connect failed", "err", err)
		c.fail(sess, err, false)
		return err
	}

	c.mu.Lock()
	if c.cur != sess || c.state != StateConnecting {
		c.mu.Unlock()
		return context.Canceled
	}
	c.state = StateConnected
	c.mode = ModeConversation
	c.transcript = nil
	c.mu.Unlock()

	c.obs.ConnectionStateChanged(StateConnected)
	c.obs.ModeChanged(ModeConversation)
	c.obs.TranscriptChanged(nil)

	started := sess.attach(func() {
		sess.writerDone = make(chan struct{})
		sess.eventsDone = make(chan struct{})
		go c.pumpAudio(sess, sess.queue, sess.conn, sess.writerDone)
		go c.dispatch(sess, sess.conn, sess.eventsDone)
	})
	if !started {
		return context.Canceled
	}
	log.Info("✅ connected")
	return nil
}

// open brings up output, capture and the connection in that order.
func (c *Controller) open(ctx context.Context, sess *session, key string, muted bool) error {
	log := c.log.With("session", sess.id)

	speaker, err := c.devices.OpenSpeaker()
	if err != nil {
		return fmt.Errorf("%w: speaker: %v", ErrDeviceUnavailable, err)
	}
	out := audio.NewOutput(speaker, audio.OutputSampleRate)
	sched := playback.New(out,
		playback.WithSpeakingHandler(c.setSpeaking),
		playback.WithLogger(log),
	)
	attached := sess.attach(func() {
		sess.output, sess.scheduler = out, sched
		out.Start(sess.ctx)
	})
	if !attached {
		_ = out.Close()
		return context.Canceled
	}

	queue := audio.NewFrameQueue(sess.cfg.QueueBytes)
	pipe := audio.NewPipeline(c.devices.Microphone(), queue,
		audio.WithVolumeHandler(c.obs.VolumeChanged),
		audio.WithVolumeBoost(sess.cfg.VolumeBoost),
		audio.WithPipelineLogger(log),
		audio.WithErrorHandler(func(err error) {
			// The capture loop is still running here; fail from outside it.
			go c.fail(sess, err, false)
		}),
	)
	pipe.SetMuted(muted)
	if !sess.attach(func() { sess.queue, sess.pipeline = queue, pipe }) {
		queue.Close()
		return context.Canceled
	}
	if err := pipe.Start(sess.ctx); err != nil {
		return err
	}

	dialCtx, dialCancel := context.WithCancel(sess.ctx)
	defer dialCancel()
	stop := context.AfterFunc(ctx, dialCancel)
	defer stop()
	if sess.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(dialCtx, sess.cfg.DialTimeout)
		defer cancel()
	}
	conn, err := c.dialer.Dial(dialCtx, key, SessionConfig(sess.cfg))
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	recon := transcript.NewReconciler(
		transcript.WithChangeHandler(c.transcriptChanged),
		transcript.WithFinalHandler(func(m transcript.Message) { c.record(sess, m) }),
	)
	var logger *transcript.Logger
	if sess.cfg.TranscriptDir != "" {
		logger, err = transcript.NewLogger(sess.cfg.TranscriptDir, "lesson_"+sess.id)
		if err != nil {
			log.Warn("transcript file disabled", "err", err)
			logger = nil
		}
	}
	ok := sess.attach(func() {
		sess.conn = conn
		sess.recon = recon
		sess.logger = logger
		if c.history != nil {
			if err := c.history.StartConversation(sess.id, sess.cfg.Model, time.Now()); err != nil {
				log.Warn("history disabled for session", "err", err)
			}
		}
	})
	if !ok {
		if err := conn.Close(); err != nil {
			log.Debug("close after cancel", "err", err)
		}
		if logger != nil {
			logger.Close()
		}
		return context.Canceled
	}
	return nil
}

// pumpAudio forwards captured frames to the connection until the queue closes.
func (c *Controller) pumpAudio(sess *session, queue *audio.FrameQueue, conn live.Conn, done chan struct{}) {
	defer close(done)
	for {
		frame, err := queue.Next(sess.ctx)
		if err != nil {
			return
		}
		if err := conn.SendAudio(frame); err != nil {
			// The read side reports the failure.
			c.log.Debug("send audio", "session", sess.id, "err", err)
		}
	}
}

// dispatch handles inbound events in arrival order.
func (c *Controller) dispatch(sess *session, conn live.Conn, done chan struct{}) {
	defer close(done)
	for ev := range conn.Events() {
		switch ev := ev.(type) {
		case live.ToolCall:
			c.handleToolCall(sess, conn, ev)
		case live.TranscriptDelta:
			sess.recon.AppendDelta(ev.Role, ev.Text)
		case live.TurnComplete:
			sess.recon.Finalize()
		case live.Interrupted:
			sess.recon.FinalizeWithMarker(transcript.InterruptedMarker)
			sess.scheduler.Stop()
		case live.Audio:
			c.handleAudio(sess, ev)
		case live.Closed:
			if ev.Err != nil {
				c.log.Error("connection lost", "session", sess.id, "err", ev.Err)
				c.fail(sess, ev.Err, true)
			}
		default:
			c.log.Warn("unhandled event", "session", sess.id, "type", fmt.Sprintf("%T", ev))
		}
	}
}

func (c *Controller) handleAudio(sess *session, ev live.Audio) {
	buf, err := audio.Decode(ev.Data, sampleRate(ev.MIMEType))
	if err != nil {
		c.log.Warn("dropping audio chunk", "session", sess.id, "err", err)
		return
	}
	if err := sess.scheduler.Enqueue(buf); err != nil {
		c.log.Debug("enqueue audio", "session", sess.id, "err", err)
	}
}

func (c *Controller) handleToolCall(sess *session, conn live.Conn, ev live.ToolCall) {
	var responses []live.ToolResponse
	for _, call := range ev.Calls {
		if call.Name != ModeToolName {
			c.log.Warn("ignoring tool call", "session", sess.id, "name", call.Name, "err", ErrUnrecognizedTool)
			continue
		}
		result := c.applyMode(call.Args["mode"])
		responses = append(responses, live.ToolResponse{ID: call.ID, Name: call.Name, Result: result})
	}
	if len(responses) == 0 {
		return
	}
	if err := conn.SendToolResponse(responses...); err != nil {
		c.log.Warn("send tool response", "session", sess.id, "err", err)
	}
}

func (c *Controller) applyMode(arg any) string {
	mode, ok := ParseMode(arg)
	if !ok || mode == ModeIdle {
		c.log.Warn("model sent unknown teaching mode", "mode", arg)
		return fmt.Sprintf("unknown mode %v, mode unchanged", arg)
	}
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return "session closing, mode unchanged"
	}
	c.mode = mode
	c.mu.Unlock()
	c.log.Info("🎓 teaching mode", "mode", mode)
	c.obs.ModeChanged(mode)
	return "ok, mode is now " + mode.Label()
}

func (c *Controller) record(sess *session, m transcript.Message) {
	if sess.logger != nil {
		sess.logger.Write(m)
	}
	if c.history != nil {
		if err := c.history.AddMessage(sess.id, m); err != nil {
			c.log.Warn("save message", "session", sess.id, "err", err)
		}
	}
}

func (c *Controller) transcriptChanged(msgs []transcript.Message) {
	c.mu.Lock()
	c.transcript = msgs
	c.mu.Unlock()
	c.obs.TranscriptChanged(msgs)
}

func (c *Controller) setSpeaking(v bool) {
	c.mu.Lock()
	changed := c.speaking != v
	c.speaking = v
	c.mu.Unlock()
	if changed {
		c.obs.SpeakingChanged(v)
	}
}

// fail reports err to the learner and tears the session down.
func (c *Controller) fail(sess *session, err error, fromDispatch bool) {
	c.mu.Lock()
	current := c.cur == sess && c.state != StateClosing
	c.mu.Unlock()
	if current {
		c.obs.Error(UserMessage(err))
	}
	c.close(sess, fromDispatch)
}

// Disconnect ends the current session. Safe to call at any time, including
// while Connect is still in progress.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	sess := c.cur
	c.mu.Unlock()
	if sess == nil {
		return
	}
	c.close(sess, false)
}

// close releases the session: capture, playback, output, then the
// connection. Only the first call for a session does anything; later calls
// return at once.
func (c *Controller) close(sess *session, fromDispatch bool) {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	sess.mu.Unlock()

	c.mu.Lock()
	if c.cur == sess {
		c.state = StateClosing
	}
	c.mu.Unlock()
	c.obs.ConnectionStateChanged(StateClosing)
	sess.cancel()

	log := c.log.With("session", sess.id)
	if sess.pipeline != nil {
		sess.pipeline.Stop()
	}
	if sess.queue != nil {
		sess.queue.Close()
	}
	if sess.scheduler != nil {
		sess.scheduler.Stop()
	}
	if sess.output != nil {
		if err := sess.output.Close(); err != nil {
			log.Warn("close output", "err", err)
		}
	}
	if sess.conn != nil {
		if err := sess.conn.Close(); err != nil {
			log.Debug("close connection", "err", err)
		}
		if sess.writerDone != nil {
			<-sess.writerDone
		}
		if sess.eventsDone != nil && !fromDispatch {
			<-sess.eventsDone
		}
		sess.recon.Finalize()
	}
	if sess.logger != nil {
		if err := sess.logger.Close(); err != nil {
			log.Warn("close transcript file", "err", err)
		}
	}
	if c.history != nil && sess.conn != nil {
		if err := c.history.EndConversation(sess.id, time.Now()); err != nil {
			log.Warn("end conversation", "err", err)
		}
	}

	c.mu.Lock()
	if c.cur == sess {
		c.cur = nil
		c.state = StateIdle
		c.mode = ModeIdle
		c.speaking = false
	}
	c.mu.Unlock()
	c.obs.ModeChanged(ModeIdle)
	c.obs.ConnectionStateChanged(StateIdle)
	log.Info("👋 disconnected")
}

// SetMuted gates outgoing audio. It carries over to the next session.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	sess := c.cur
	c.mu.Unlock()
	if sess == nil {
		return
	}
	sess.mu.Lock()
	pipe := sess.pipeline
	sess.mu.Unlock()
	if pipe != nil {
		pipe.SetMuted(muted)
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:     c.state,
		Mode:      c.mode,
		ModeLabel: c.mode.Label(),
		Speaking:  c.speaking,
		Muted:     c.muted,
	}
	if c.cur != nil {
		st.SessionID = c.cur.id
	}
	return st
}

// Transcript returns the current session's messages.
func (c *Controller) Transcript() []transcript.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transcript.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// sampleRate reads rate=N from a MIME type like "audio/pcm;rate=24000".
func sampleRate(mime string) int {
	for _, part := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k != "rate" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return audio.OutputSampleRate
}
