package tutor

import (
	"strings"

	"github.com/christian-lee/tutorvoice/internal/live"
)

// Mode is the tutor's current teaching style, chosen by the model.
type Mode string

const (
	ModeIdle         Mode = "Idle"
	ModeConversation Mode = "Conversation"
	ModeCorrection   Mode = "Correction"
	ModeExplanation  Mode = "Explanation"
)

// ModeToolName is the function the model calls to switch modes.
const ModeToolName = "update_teaching_mode"

var modeNames = map[string]Mode{
	"Conversation":      ModeConversation,
	"Correction":        ModeCorrection,
	"Explanation":       ModeExplanation,
	"Idle":              ModeIdle,
	"Conversation Mode": ModeConversation,
	"Correction Mode":   ModeCorrection,
	"Explanation Mode":  ModeExplanation,
}

// ParseMode accepts the tool enum values and their display names.
func ParseMode(v any) (Mode, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	m, ok := modeNames[strings.TrimSpace(s)]
	return m, ok
}

// Label is the display name of m.
func (m Mode) Label() string {
	if m == ModeIdle || m == "" {
		return "Idle"
	}
	return string(m) + " Mode"
}

const persona = `You are Maya, a warm and patient English tutor talking with a learner by voice.

Keep the conversation natural and encouraging. Speak clearly, at a moderate pace, with short sentences.

You work in three teaching modes and must call update_teaching_mode whenever you switch:
- Conversation: casual practice. Ask open questions about the learner's interests and keep them talking.
- Correction: the learner made a grammar, vocabulary or pronunciation mistake. Repeat their sentence correctly, point out the change briefly, and ask them to try again.
- Explanation: the learner asked how something works or seems confused. Explain the rule simply with one or two examples, then check understanding.

Rules:
- Call update_teaching_mode before you start speaking in a new mode.
- Correct at most one mistake at a time, and only when it matters for being understood.
- Never switch to another language unless the learner is completely stuck.
- If the learner interrupts you, stop and listen.`

// Instruction is the built-in persona used when no override is configured.
func Instruction() string { return persona }

func modeTool() live.Tool {
	return live.Tool{
		Name:        ModeToolName,
		Description: "Report the teaching mode you are switching to so the learner's screen can show it.",
		Params: []live.Param{{
			Name:        "mode",
			Description: "The new teaching mode.",
			Enum:        []string{string(ModeConversation), string(ModeCorrection), string(ModeExplanation)},
			Required:    true,
		}},
	}
}

// SessionConfig is the fixed configuration sent when a session opens.
func SessionConfig(s Settings) live.SessionConfig {
	instruction := s.Instruction
	if strings.TrimSpace(instruction) == "" {
		instruction = persona
	}
	return live.SessionConfig{
		Model:       s.Model,
		Voice:       s.Voice,
		Instruction: instruction,
		Tools:       []live.Tool{modeTool()},
	}
}
