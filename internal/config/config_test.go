package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "sdk", cfg.Gemini.Transport)
	require.Equal(t, "Puck", cfg.Tutor.Voice)
	require.Equal(t, 5.0, cfg.Audio.VolumeBoost)
	require.Empty(t, cfg.Gemini.APIKey)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	path := writeFile(t, `
gemini:
  api_key: from-file
  transport: websocket
  dial_timeout: 3s
tutor:
  voice: Kore
audio:
  input: ffmpeg
  input_device: default
  output: none
  queue_bytes: 1
web:
  listen: ":8090"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Gemini.APIKey)
	require.Equal(t, "websocket", cfg.Gemini.Transport)
	require.Equal(t, 3*time.Second, cfg.Gemini.DialTimeout)
	require.Equal(t, "Kore", cfg.Tutor.Voice)
	require.Equal(t, "ffmpeg", cfg.Audio.Input)
	require.Equal(t, "none", cfg.Audio.Output)
	require.Equal(t, 16*1024, cfg.Audio.QueueBytes)
	require.Equal(t, ":8090", cfg.Web.Listen)
	// untouched defaults survive
	require.Equal(t, "tutor.db", cfg.Storage.Database)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("TUTOR_VOICE", "Aoede")
	path := writeFile(t, "gemini:\n  api_key: from-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Gemini.APIKey)
	require.Equal(t, "Aoede", cfg.Tutor.Voice)
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	path := writeFile(t, "gemini:\n  transport: carrier-pigeon\naudio:\n  output: tape\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "gemini.transport")
	require.ErrorContains(t, err, "audio.output")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestHotConfigReload(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	path := writeFile(t, "tutor:\n  voice: Puck\n")
	hc, err := NewHotConfig(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 16)
	hc.OnReload(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, hc.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("tutor:\n  voice: Charon\n"), 0o600))
	// a truncating write may surface an intermediate empty file first
	timeout := time.After(3 * time.Second)
	for done := false; !done; {
		select {
		case c := <-reloaded:
			done = c.Tutor.Voice == "Charon"
		case <-timeout:
			t.Fatal("no reload")
		}
	}
	require.Eventually(t, func() bool { return hc.Get().Tutor.Voice == "Charon" }, time.Second, 10*time.Millisecond)
}

func TestStatic(t *testing.T) {
	cfg := Defaults()
	hc := Static(cfg)
	require.Same(t, cfg, hc.Get())
	require.NoError(t, hc.Watch(context.Background()))
}
