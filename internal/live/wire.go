package live

import (
	"log/slog"

	"github.com/christian-lee/tutorvoice/internal/audio"
	"github.com/christian-lee/tutorvoice/internal/pcm"
	"github.com/christian-lee/tutorvoice/internal/transcript"
)

// JSON frames of the BidiGenerateContent websocket protocol.

type clientMessage struct {
	Setup         *wireSetup         `json:"setup,omitempty"`
	RealtimeInput *wireRealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *wireToolResponse  `json:"toolResponse,omitempty"`
}

type wireSetup struct {
	Model                    string        `json:"model"`
	GenerationConfig         wireGenConfig `json:"generationConfig"`
	SystemInstruction        *wireContent  `json:"systemInstruction,omitempty"`
	Tools                    []wireTool    `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}     `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}     `json:"outputAudioTranscription,omitempty"`
}

type wireGenConfig struct {
	ResponseModalities []string          `json:"responseModalities"`
	SpeechConfig       *wireSpeechConfig `json:"speechConfig,omitempty"`
}

type wireSpeechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *wireBlob `json:"inlineData,omitempty"`
}

type wireBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireTool struct {
	FunctionDeclarations []wireFunctionDecl `json:"functionDeclarations"`
}

type wireFunctionDecl struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Parameters  wireSchema `json:"parameters"`
}

type wireSchema struct {
	Type        string                `json:"type"`
	Description string                `json:"description,omitempty"`
	Enum        []string              `json:"enum,omitempty"`
	Properties  map[string]wireSchema `json:"properties,omitempty"`
	Required    []string              `json:"required,omitempty"`
}

type wireRealtimeInput struct {
	Media *wireBlob `json:"media"`
}

type wireToolResponse struct {
	FunctionResponses []wireFunctionResponse `json:"functionResponses"`
}

type wireFunctionResponse struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Response map[string]string `json:"response"`
}

type serverMessage struct {
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *wireServerContent `json:"serverContent,omitempty"`
	ToolCall      *wireToolCall      `json:"toolCall,omitempty"`
	GoAway        *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway,omitempty"`
}

type wireServerContent struct {
	ModelTurn           *wireContent       `json:"modelTurn,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
	InputTranscription  *wireTranscription `json:"inputTranscription,omitempty"`
	OutputTranscription *wireTranscription `json:"outputTranscription,omitempty"`
}

type wireTranscription struct {
	Text string `json:"text"`
}

type wireToolCall struct {
	FunctionCalls []struct {
		ID   string         `json:"id"`
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCalls"`
}

func setupMessage(cfg SessionConfig) clientMessage {
	s := &wireSetup{
		Model:                    "models/" + cfg.Model,
		GenerationConfig:         wireGenConfig{ResponseModalities: []string{"AUDIO"}},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if cfg.Voice != "" {
		sc := &wireSpeechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		s.GenerationConfig.SpeechConfig = sc
	}
	if cfg.Instruction != "" {
		s.SystemInstruction = &wireContent{Parts: []wirePart{{Text: cfg.Instruction}}}
	}
	if len(cfg.Tools) > 0 {
		wt := wireTool{}
		for _, t := range cfg.Tools {
			params := wireSchema{Type: "OBJECT", Properties: map[string]wireSchema{}}
			for _, p := range t.Params {
				params.Properties[p.Name] = wireSchema{Type: "STRING", Description: p.Description, Enum: p.Enum}
				if p.Required {
					params.Required = append(params.Required, p.Name)
				}
			}
			wt.FunctionDeclarations = append(wt.FunctionDeclarations, wireFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			})
		}
		s.Tools = []wireTool{wt}
	}
	return clientMessage{Setup: s}
}

func audioMessage(frame []byte) clientMessage {
	return clientMessage{RealtimeInput: &wireRealtimeInput{
		Media: &wireBlob{MIMEType: audio.InputMIMEType, Data: pcm.EncodeText(frame)},
	}}
}

func toolResponseMessage(responses []ToolResponse) clientMessage {
	tr := &wireToolResponse{}
	for _, r := range responses {
		tr.FunctionResponses = append(tr.FunctionResponses, wireFunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]string{"result": r.Result},
		})
	}
	return clientMessage{ToolResponse: tr}
}

// events maps a decoded server frame to events, in the same order as
// serverEvents. Audio with an undecodable text encoding is dropped.
func (m *serverMessage) events(log *slog.Logger) []Event {
	var out []Event
	if m.ToolCall != nil && len(m.ToolCall.FunctionCalls) > 0 {
		call := ToolCall{}
		for _, fc := range m.ToolCall.FunctionCalls {
			call.Calls = append(call.Calls, FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		out = append(out, call)
	}

	sc := m.ServerContent
	if sc == nil {
		return out
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out = append(out, TranscriptDelta{Role: transcript.RoleUser, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, TranscriptDelta{Role: transcript.RoleModel, Text: sc.OutputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil || !isAudio(part.InlineData.MIMEType) {
				continue
			}
			data, err := pcm.DecodeText(part.InlineData.Data)
			if err != nil {
				log.Warn("dropping audio part", "err", err)
				continue
			}
			out = append(out, Audio{Data: data, MIMEType: part.InlineData.MIMEType})
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
