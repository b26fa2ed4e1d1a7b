package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/christian-lee/tutorvoice/internal/pcm"
)

// FFplaySpeaker pipes s16le mono into an ffplay subprocess.
type FFplaySpeaker struct {
	Path       string
	SampleRate int
	Volume     int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func NewFFplaySpeaker(sampleRate int) *FFplaySpeaker {
	return &FFplaySpeaker{Path: "ffplay", SampleRate: sampleRate, Volume: 80}
}

// Start launches ffplay.
func (s *FFplaySpeaker) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-volume", fmt.Sprintf("%d", s.Volume),
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", fmt.Sprintf("%d", s.SampleRate),
		"-i", "-",
	}
	cmd := exec.Command(s.Path, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: ffplay stdin: %v", ErrDeviceUnavailable, err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("%w: start ffplay: %v", ErrDeviceUnavailable, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	return nil
}

// Write blocks on the pipe, which ffplay drains at playback speed.
func (s *FFplaySpeaker) Write(samples []float32) error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return errors.New("ffplay is not running")
	}
	_, err := stdin.Write(pcm.EncodeFrame(samples))
	return err
}

func (s *FFplaySpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil
	s.stdin = nil
	return nil
}
