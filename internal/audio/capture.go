package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/christian-lee/tutorvoice/internal/pcm"
)

// FFmpegMicrophone captures a local input device through an ffmpeg
// subprocess emitting raw s16le on stdout.
type FFmpegMicrophone struct {
	Path       string // ffmpeg binary, default "ffmpeg"
	Format     string // input format, e.g. "pulse", "alsa", "avfoundation"
	Device     string // input device name, e.g. "default" or ":0"
	SampleRate int
	FrameSize  int
}

func NewFFmpegMicrophone(format, device string) *FFmpegMicrophone {
	return &FFmpegMicrophone{
		Path:       "ffmpeg",
		Format:     format,
		Device:     device,
		SampleRate: InputSampleRate,
		FrameSize:  FrameSize,
	}
}

func (m *FFmpegMicrophone) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if m.Format != "" {
		args = append(args, "-f", m.Format)
	}
	return append(args,
		"-i", m.Device,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", m.SampleRate),
		"-ac", "1",
		"-f", "s16le",
		"-",
	)
}

// Open starts ffmpeg. The process is killed when ctx ends or the stream is
// closed.
func (m *FFmpegMicrophone) Open(ctx context.Context) (FrameStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, m.Path, m.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	slog.Info("audio capture started (ffmpeg)", "format", m.Format, "device", m.Device, "rate", m.SampleRate)

	s := &ffmpegStream{
		cmd:    cmd,
		stdout: stdout,
		cancel: cancel,
		raw:    make([]byte, m.FrameSize*2),
	}
	return s, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc
	raw    []byte
	once   sync.Once
}

func (s *ffmpegStream) ReadFrame() ([]float32, error) {
	if _, err := io.ReadFull(s.stdout, s.raw); err != nil {
		return nil, fmt.Errorf("read ffmpeg: %w", err)
	}
	samples, err := pcm.BytesToInt16(s.raw)
	if err != nil {
		return nil, err
	}
	return pcm.Int16ToFloat(samples), nil
}

func (s *ffmpegStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.cmd.Wait()
		slog.Info("audio capture stopped (ffmpeg)")
	})
	return nil
}

// SilentMicrophone produces zero frames in real time. It stands in for a
// device on headless hosts.
type SilentMicrophone struct{}

func (SilentMicrophone) Open(context.Context) (FrameStream, error) {
	return &silentStream{closed: make(chan struct{})}, nil
}

type silentStream struct {
	closed chan struct{}
	once   sync.Once
}

func (s *silentStream) ReadFrame() ([]float32, error) {
	t := time.NewTimer(time.Duration(FrameSize) * time.Second / InputSampleRate)
	defer t.Stop()
	select {
	case <-t.C:
		return make([]float32, FrameSize), nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *silentStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
