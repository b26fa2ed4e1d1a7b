package main

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/christian-lee/tutorvoice/internal/audio"
	"github.com/christian-lee/tutorvoice/internal/config"
	"github.com/christian-lee/tutorvoice/internal/transcript"
	"github.com/christian-lee/tutorvoice/internal/tutor"
)

// devices picks audio backends from the current config at every lesson.
type devices struct {
	hot *config.HotConfig
}

func (d *devices) Microphone() audio.Microphone {
	a := d.hot.Get().Audio
	switch a.Input {
	case "ffmpeg":
		return audio.NewFFmpegMicrophone(a.InputFormat, a.InputDevice)
	case "none":
		return audio.SilentMicrophone{}
	default:
		return audio.NewPortAudioMicrophone(a.InputDevice)
	}
}

func (d *devices) OpenSpeaker() (audio.Speaker, error) {
	a := d.hot.Get().Audio
	switch a.Output {
	case "ffplay":
		sp := audio.NewFFplaySpeaker(audio.OutputSampleRate)
		if err := sp.Start(); err != nil {
			return nil, fmt.Errorf("start ffplay: %w", err)
		}
		return sp, nil
	case "none":
		return audio.NullSpeaker{Rate: audio.OutputSampleRate}, nil
	default:
		sp, err := audio.OpenPortAudioSpeaker(a.OutputDevice, audio.OutputSampleRate)
		if err != nil {
			return nil, err
		}
		return sp, nil
	}
}

// console prints finished transcript lines and logs the rest.
type console struct {
	tutor.NopObserver

	mu      sync.Mutex
	w       io.Writer
	printed map[string]bool
}

func newConsole(w io.Writer) *console {
	return &console{w: w, printed: make(map[string]bool)}
}

func (c *console) ConnectionStateChanged(s tutor.State) {
	slog.Info("connection", "state", s)
}

func (c *console) ModeChanged(m tutor.Mode) {
	slog.Info("🎓 mode", "mode", m.Label())
}

func (c *console) Error(msg string) {
	slog.Error(msg)
}

func (c *console) TranscriptChanged(msgs []transcript.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		if !m.Final || c.printed[m.ID] {
			continue
		}
		c.printed[m.ID] = true
		who := "You"
		if m.Role == transcript.RoleModel {
			who = "Tutor"
		}
		fmt.Fprintf(c.w, "%s: %s\n", who, m.Text)
	}
}
