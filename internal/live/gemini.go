package live

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/christian-lee/tutorvoice/internal/audio"
	"github.com/christian-lee/tutorvoice/internal/transcript"
)

// GeminiDialer opens sessions through the genai SDK.
// Falls back to fallbackModel when the primary model is rate limited.
type GeminiDialer struct {
	fallbackModel string
	newClient     func(ctx context.Context, apiKey string) (*genai.Client, error)
}

// GeminiOption configures a GeminiDialer.
type GeminiOption func(*GeminiDialer)

// WithFallbackModel sets the model tried after a rate-limited connect.
func WithFallbackModel(model string) GeminiOption {
	return func(d *GeminiDialer) {
		d.fallbackModel = model
	}
}

func NewGeminiDialer(opts ...GeminiOption) *GeminiDialer {
	d := &GeminiDialer{
		newClient: func(ctx context.Context, apiKey string) (*genai.Client, error) {
			return genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:  apiKey,
				Backend: genai.BackendGeminiAPI,
			})
		},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *GeminiDialer) Dial(ctx context.Context, apiKey string, cfg SessionConfig) (Conn, error) {
	client, err := d.newClient(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %v", ErrTransport, err)
	}

	connectCfg := liveConnectConfig(cfg)
	session, err := client.Live.Connect(ctx, cfg.Model, connectCfg)
	if err != nil && d.fallbackModel != "" && d.fallbackModel != cfg.Model && rateLimited(err) {
		slog.Warn("rate limited, falling back", "from", cfg.Model, "to", d.fallbackModel)
		session, err = client.Live.Connect(ctx, d.fallbackModel, connectCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: live connect: %v", ErrTransport, err)
	}

	slog.Info("live session opened (sdk)", "model", cfg.Model, "voice", cfg.Voice)
	c := &geminiConn{
		session: session,
		events:  make(chan Event, eventBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func rateLimited(err error) bool {
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "RESOURCE_EXHAUSTED") || strings.Contains(s, "UNAVAILABLE")
}

func liveConnectConfig(cfg SessionConfig) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instruction != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.Instruction, genai.RoleUser)
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			decls = append(decls, functionDeclaration(t))
		}
		lc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return lc
}

func functionDeclaration(t Tool) *genai.FunctionDeclaration {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(t.Params)),
	}
	for _, p := range t.Params {
		schema.Properties[p.Name] = &genai.Schema{
			Type:        genai.TypeString,
			Description: p.Description,
			Enum:        p.Enum,
		}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  schema,
	}
}

// serverEvents splits one server message into events in dispatch order:
// tool calls, transcription, speech, interruption, turn end.
func serverEvents(msg *genai.LiveServerMessage) []Event {
	if msg == nil {
		return nil
	}
	var out []Event
	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		call := ToolCall{}
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			call.Calls = append(call.Calls, FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		out = append(out, call)
	}

	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	if tr := sc.InputTranscription; tr != nil && tr.Text != "" {
		out = append(out, TranscriptDelta{Role: transcript.RoleUser, Text: tr.Text})
	}
	if tr := sc.OutputTranscription; tr != nil && tr.Text != "" {
		out = append(out, TranscriptDelta{Role: transcript.RoleModel, Text: tr.Text})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil {
				continue
			}
			if !isAudio(part.InlineData.MIMEType) {
				continue
			}
			out = append(out, Audio{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType})
		}
	}
	if sc.Interrupted {
		out = append(out, Interrupted{})
	}
	if sc.TurnComplete {
		out = append(out, TurnComplete{})
	}
	return out
}

func isAudio(mime string) bool {
	return mime == "" || strings.HasPrefix(mime, "audio/")
}

type geminiConn struct {
	session *genai.Session
	events  chan Event
	stop    chan struct{}
	done    chan struct{}

	sendMu    sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
}

func (c *geminiConn) Events() <-chan Event { return c.events }

func (c *geminiConn) SendAudio(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	err := c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: frame, MIMEType: audio.InputMIMEType},
	})
	if err != nil {
		return fmt.Errorf("%w: send audio: %v", ErrTransport, err)
	}
	return nil
}

func (c *geminiConn) SendToolResponse(responses ...ToolResponse) error {
	fr := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		fr = append(fr, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{"result": r.Result},
		})
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: fr}); err != nil {
		return fmt.Errorf("%w: send tool response: %v", ErrTransport, err)
	}
	return nil
}

func (c *geminiConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.stop)
		err = c.session.Close()
	})
	<-c.done
	return err
}

func (c *geminiConn) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		msg, err := c.session.Receive()
		if err != nil {
			if c.closing.Load() {
				c.emit(Closed{})
			} else {
				c.emit(Closed{Err: fmt.Errorf("%w: %v", ErrTransport, err)})
			}
			return
		}
		for _, ev := range serverEvents(msg) {
			if !c.emit(ev) {
				return
			}
		}
	}
}

func (c *geminiConn) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.stop:
		return false
	}
}
