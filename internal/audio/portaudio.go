package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// findDevice matches a device by case-insensitive substring of its name.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if input && d.MaxInputChannels == 0 || !input && d.MaxOutputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no device matching %q", name)
}

// PortAudioMicrophone captures from a PortAudio input device.
type PortAudioMicrophone struct {
	Device     string // empty = system default
	SampleRate int
	FrameSize  int
}

func NewPortAudioMicrophone(device string) *PortAudioMicrophone {
	return &PortAudioMicrophone{Device: device, SampleRate: InputSampleRate, FrameSize: FrameSize}
}

func (m *PortAudioMicrophone) Open(context.Context) (FrameStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	dev, err := findDevice(m.Device, true)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("input device: %w", err)
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.Output.Channels = 0
	params.SampleRate = float64(m.SampleRate)
	params.FramesPerBuffer = m.FrameSize

	buf := make([]float32, m.FrameSize)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start capture: %w", err)
	}
	slog.Info("audio capture started (portaudio)", "device", dev.Name, "rate", m.SampleRate)
	return &portaudioInput{stream: stream, buf: buf}, nil
}

type portaudioInput struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
	closed bool
}

func (in *portaudioInput) ReadFrame() ([]float32, error) {
	in.mu.Lock()
	closed := in.closed
	in.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("capture stream closed")
	}
	if err := in.stream.Read(); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	frame := make([]float32, len(in.buf))
	copy(frame, in.buf)
	return frame, nil
}

func (in *portaudioInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true
	_ = in.stream.Stop()
	_ = in.stream.Close()
	return portaudio.Terminate()
}

// PortAudioSpeaker writes blocks to a PortAudio output device.
type PortAudioSpeaker struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
}

// OpenPortAudioSpeaker opens an output stream whose buffer holds one render
// block (20ms).
func OpenPortAudioSpeaker(device string, rate int) (*PortAudioSpeaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %v", ErrDeviceUnavailable, err)
	}
	dev, err := findDevice(device, false)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: output device: %v", ErrDeviceUnavailable, err)
	}
	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = rate / 50

	buf := make([]float32, rate/50)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open playback stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: start playback: %v", ErrDeviceUnavailable, err)
	}
	slog.Info("audio playback started (portaudio)", "device", dev.Name, "rate", rate)
	return &PortAudioSpeaker{stream: stream, buf: buf}, nil
}

func (s *PortAudioSpeaker) Write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return fmt.Errorf("playback stream closed")
	}
	for len(samples) > 0 {
		n := copy(s.buf, samples)
		clear(s.buf[n:])
		samples = samples[n:]
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("write playback: %w", err)
		}
	}
	return nil
}

func (s *PortAudioSpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	_ = s.stream.Stop()
	_ = s.stream.Close()
	s.stream = nil
	return portaudio.Terminate()
}
