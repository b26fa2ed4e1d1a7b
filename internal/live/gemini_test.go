package live

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/christian-lee/tutorvoice/internal/transcript"
)

func TestLiveConnectConfig(t *testing.T) {
	t.Parallel()

	lc := liveConnectConfig(testConfig)
	require.Equal(t, []genai.Modality{genai.ModalityAudio}, lc.ResponseModalities)
	require.Equal(t, "Puck", lc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.NotNil(t, lc.InputAudioTranscription)
	require.NotNil(t, lc.OutputAudioTranscription)
	require.Equal(t, "You are a tutor.", lc.SystemInstruction.Parts[0].Text)

	require.Len(t, lc.Tools, 1)
	decl := lc.Tools[0].FunctionDeclarations[0]
	require.Equal(t, "update_teaching_mode", decl.Name)
	require.Equal(t, genai.TypeObject, decl.Parameters.Type)
	require.Equal(t, []string{"mode"}, decl.Parameters.Required)
	require.Equal(t, []string{"Conversation", "Correction"}, decl.Parameters.Properties["mode"].Enum)
}

func TestLiveConnectConfigMinimal(t *testing.T) {
	t.Parallel()

	lc := liveConnectConfig(SessionConfig{Model: "m"})
	require.Nil(t, lc.SpeechConfig)
	require.Nil(t, lc.SystemInstruction)
	require.Empty(t, lc.Tools)
}

func TestServerEventsOrder(t *testing.T) {
	t.Parallel()

	msg := &genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "1", Name: "update_teaching_mode", Args: map[string]any{"mode": "Explanation"}},
			nil,
		}},
		ServerContent: &genai.LiveServerContent{
			InputTranscription:  &genai.Transcription{Text: "why"},
			OutputTranscription: &genai.Transcription{Text: "Because"},
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{Text: "ignored"},
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 2}}},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{9}}},
			}},
			Interrupted:  true,
			TurnComplete: true,
		},
	}

	require.Equal(t, []Event{
		ToolCall{Calls: []FunctionCall{{ID: "1", Name: "update_teaching_mode", Args: map[string]any{"mode": "Explanation"}}}},
		TranscriptDelta{Role: transcript.RoleUser, Text: "why"},
		TranscriptDelta{Role: transcript.RoleModel, Text: "Because"},
		Audio{Data: []byte{1, 2}, MIMEType: "audio/pcm;rate=24000"},
		Interrupted{},
		TurnComplete{},
	}, serverEvents(msg))
}

func TestServerEventsEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, serverEvents(nil))
	require.Empty(t, serverEvents(&genai.LiveServerMessage{}))
	require.Empty(t, serverEvents(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		InputTranscription: &genai.Transcription{},
	}}))
}

func TestRateLimited(t *testing.T) {
	t.Parallel()

	require.True(t, rateLimited(errors.New("Error 429, Message: quota")))
	require.True(t, rateLimited(errors.New("RESOURCE_EXHAUSTED")))
	require.False(t, rateLimited(errors.New("permission denied")))
}
