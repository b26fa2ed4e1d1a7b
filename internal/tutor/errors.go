package tutor

import (
	"errors"

	"github.com/christian-lee/tutorvoice/internal/audio"
	"github.com/christian-lee/tutorvoice/internal/credential"
	"github.com/christian-lee/tutorvoice/internal/live"
)

var (
	ErrMissingCredential     = credential.ErrMissing
	ErrDeviceUnavailable     = audio.ErrDeviceUnavailable
	ErrMalformedAudioPayload = audio.ErrMalformedAudio
	ErrTransport             = live.ErrTransport
	ErrUnrecognizedTool      = errors.New("unrecognized tool invocation")

	// ErrBusy is returned by Connect while a session is already open.
	ErrBusy = errors.New("session already active")
)

const reenterHint = " If this keeps happening, re-enter your API key."

// UserMessage turns an error into a short line for the learner. Details stay
// in the logs.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "No API key is set. Please enter your Gemini API key."
	case errors.Is(err, ErrDeviceUnavailable):
		return "Could not open the microphone or speaker. Check that a device is connected and allowed."
	case errors.Is(err, ErrTransport):
		return "The connection to your tutor was lost. Please connect again." + reenterHint
	case errors.Is(err, ErrBusy):
		return "A session is already running."
	default:
		return "Something went wrong. Please try again."
	}
}
