package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Gemini  GeminiConfig  `yaml:"gemini"`
	Tutor   TutorConfig   `yaml:"tutor"`
	Audio   AudioConfig   `yaml:"audio"`
	Web     WebConfig     `yaml:"web"`
	Storage StorageConfig `yaml:"storage"`
}

type GeminiConfig struct {
	APIKey        string        `yaml:"api_key"`        // last-resort credential
	Model         string        `yaml:"model"`          // live model id
	FallbackModel string        `yaml:"fallback_model"` // used when the model is rate limited
	Transport     string        `yaml:"transport"`      // "sdk" or "websocket"
	Endpoint      string        `yaml:"endpoint"`       // websocket transport only
	DialTimeout   time.Duration `yaml:"dial_timeout"`   // 0 waits for the caller
}

type TutorConfig struct {
	Voice       string `yaml:"voice"`       // prebuilt voice name
	Instruction string `yaml:"instruction"` // overrides the built-in persona
}

type AudioConfig struct {
	Input        string  `yaml:"input"`         // "portaudio", "ffmpeg" or "none"
	InputDevice  string  `yaml:"input_device"`  // device name, empty = default
	InputFormat  string  `yaml:"input_format"`  // ffmpeg -f, e.g. "pulse"
	Output       string  `yaml:"output"`        // "portaudio", "ffplay" or "none"
	OutputDevice string  `yaml:"output_device"` // portaudio only
	VolumeBoost  float64 `yaml:"volume_boost"`
	QueueBytes   int     `yaml:"queue_bytes"` // outbound frame backlog
}

type WebConfig struct {
	Listen       string `yaml:"listen"`        // empty disables the panel
	PasswordHash string `yaml:"password_hash"` // bcrypt; empty = no login
}

type StorageConfig struct {
	Database      string `yaml:"database"`
	TranscriptDir string `yaml:"transcript_dir"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Gemini: GeminiConfig{
			Model:         "gemini-2.5-flash-native-audio-preview-09-2025",
			FallbackModel: "gemini-live-2.5-flash-preview",
			Transport:     "sdk",
			DialTimeout:   15 * time.Second,
		},
		Tutor: TutorConfig{
			Voice: "Puck",
		},
		Audio: AudioConfig{
			Input:       "portaudio",
			InputFormat: "pulse",
			Output:      "portaudio",
			VolumeBoost: 5,
			QueueBytes:  256 * 1024,
		},
		Storage: StorageConfig{
			Database:      "tutor.db",
			TranscriptDir: "transcripts",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Gemini.APIKey = envOrDefault("GEMINI_API_KEY", cfg.Gemini.APIKey)
	cfg.Gemini.Model = envOrDefault("TUTOR_MODEL", cfg.Gemini.Model)
	cfg.Gemini.Transport = envOrDefault("TUTOR_TRANSPORT", cfg.Gemini.Transport)
	cfg.Tutor.Voice = envOrDefault("TUTOR_VOICE", cfg.Tutor.Voice)
	cfg.Audio.Input = envOrDefault("TUTOR_AUDIO_INPUT", cfg.Audio.Input)
	cfg.Audio.InputDevice = envOrDefault("TUTOR_AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.Output = envOrDefault("TUTOR_AUDIO_OUTPUT", cfg.Audio.Output)
	cfg.Audio.QueueBytes = envOrDefaultInt("TUTOR_QUEUE_BYTES", cfg.Audio.QueueBytes)
	cfg.Web.Listen = envOrDefault("TUTOR_WEB_LISTEN", cfg.Web.Listen)
	cfg.Storage.Database = envOrDefault("TUTOR_DB", cfg.Storage.Database)
}

func (c *Config) validate() error {
	var errs []error
	switch c.Gemini.Transport {
	case "sdk", "websocket":
	default:
		errs = append(errs, fmt.Errorf("gemini.transport: unknown %q", c.Gemini.Transport))
	}
	switch c.Audio.Input {
	case "portaudio", "ffmpeg", "none":
	default:
		errs = append(errs, fmt.Errorf("audio.input: unknown %q", c.Audio.Input))
	}
	switch c.Audio.Output {
	case "portaudio", "ffplay", "none":
	default:
		errs = append(errs, fmt.Errorf("audio.output: unknown %q", c.Audio.Output))
	}
	if c.Gemini.DialTimeout < 0 {
		c.Gemini.DialTimeout = 0
	}
	if c.Audio.VolumeBoost <= 0 {
		c.Audio.VolumeBoost = 5
	}
	if c.Audio.QueueBytes < 16*1024 {
		c.Audio.QueueBytes = 16 * 1024
	}
	return errors.Join(errs...)
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
