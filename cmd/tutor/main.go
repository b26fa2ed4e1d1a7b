package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/christian-lee/tutorvoice/internal/config"
	"github.com/christian-lee/tutorvoice/internal/credential"
	"github.com/christian-lee/tutorvoice/internal/live"
	"github.com/christian-lee/tutorvoice/internal/store"
	"github.com/christian-lee/tutorvoice/internal/tutor"
	"github.com/christian-lee/tutorvoice/internal/web"
)

const defaultConfig = "config.yaml"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfgPath := defaultConfig
	if len(os.Args) > 2 {
		cfgPath = os.Args[2]
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = run(cfgPath)
	case "history":
		id := ""
		if len(os.Args) > 3 {
			id = os.Args[3]
		}
		err = history(cfgPath, id, os.Stdout)
	case "set-key":
		err = setSecret(cfgPath, os.Stdin, os.Stdout, "Gemini API key", func(st *store.Store, v string) error {
			if v == "" {
				return st.DeleteSetting(store.SettingAPIKey)
			}
			return st.SetSetting(store.SettingAPIKey, v)
		})
	case "set-password":
		err = setSecret(cfgPath, os.Stdin, os.Stdout, "panel password", (*store.Store).SetPanelPassword)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "err", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  tutor run [config]                Start the tutor (panel if web.listen is set)")
	fmt.Println("  tutor history [config] [id]       List past lessons, or print one")
	fmt.Println("  tutor set-key [config]            Save the API key read from stdin")
	fmt.Println("  tutor set-password [config]       Save the panel password read from stdin")
}

// loadConfig falls back to defaults plus environment when the default file
// is absent.
func loadConfig(path string) (*config.HotConfig, error) {
	if path == defaultConfig {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg, err := config.Load("")
			if err != nil {
				return nil, err
			}
			slog.Info("no config file, using defaults", "path", path)
			return config.Static(cfg), nil
		}
	}
	return config.NewHotConfig(path)
}

func run(cfgPath string) error {
	hot, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := hot.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	if err := hot.Watch(ctx); err != nil {
		slog.Warn("config watch disabled", "err", err)
	}
	hot.OnReload(func(*config.Config) {
		slog.Info("new settings apply from the next lesson")
	})

	st, err := store.NewStore(cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if cfg.Web.PasswordHash != "" {
		if err := st.SetPanelPasswordHash(cfg.Web.PasswordHash); err != nil {
			return fmt.Errorf("web.password_hash: %w", err)
		}
	}

	creds := credential.NewResolver(
		credential.Static("build", credential.BuildKey),
		credential.Persisted(st, store.SettingAPIKey),
		credential.Layer{Name: "config", Get: func() (string, error) { return hot.Get().Gemini.APIKey, nil }},
	)

	var dialer live.Dialer
	switch cfg.Gemini.Transport {
	case "websocket":
		dialer = live.NewWebsocketDialer(cfg.Gemini.Endpoint)
	default:
		dialer = live.NewGeminiDialer(live.WithFallbackModel(cfg.Gemini.FallbackModel))
	}

	hub := web.NewHub()
	ctrl := tutor.New(dialer, creds, &devices{hot: hot},
		tutor.WithObserver(tutor.NewFanout(hub, newConsole(os.Stdout))),
		tutor.WithHistory(st),
		tutor.WithSettings(func() tutor.Settings { return settingsFrom(hot.Get()) }),
	)
	defer ctrl.Disconnect()

	if cfg.Web.Listen != "" {
		srv := web.NewServer(ctrl, st, creds, hub, cfg.Storage.TranscriptDir)
		if err := srv.Start(cfg.Web.Listen); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			srv.Shutdown(shutdownCtx)
		}()
	} else {
		// No panel: start a lesson right away and run until interrupted.
		if err := ctrl.Connect(ctx); err != nil {
			return err
		}
	}

	slog.Info("tutor started", "transport", cfg.Gemini.Transport, "web", cfg.Web.Listen)
	<-ctx.Done()
	return nil
}

func settingsFrom(cfg *config.Config) tutor.Settings {
	return tutor.Settings{
		Model:         cfg.Gemini.Model,
		Voice:         cfg.Tutor.Voice,
		Instruction:   cfg.Tutor.Instruction,
		VolumeBoost:   cfg.Audio.VolumeBoost,
		QueueBytes:    cfg.Audio.QueueBytes,
		TranscriptDir: cfg.Storage.TranscriptDir,
		DialTimeout:   cfg.Gemini.DialTimeout,
	}
}

func openStore(cfgPath string) (*store.Store, error) {
	hot, err := loadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.NewStore(hot.Get().Storage.Database)
}

func history(cfgPath, id string, w io.Writer) error {
	st, err := openStore(cfgPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if id != "" {
		msgs, err := st.Messages(id)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.Role, m.Text)
		}
		return nil
	}

	convs, err := st.Conversations(50)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(w, "no lessons yet")
		return nil
	}
	for _, c := range convs {
		length := "in progress"
		if c.EndedAt != nil {
			length = c.EndedAt.Sub(c.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s  %s  %-11s  %3d messages\n", c.ID, c.StartedAt.Local().Format("2006-01-02 15:04"), length, c.Messages)
	}
	return nil
}

// setSecret reads one line from r and hands it to save. An empty line clears
// the value.
func setSecret(cfgPath string, r io.Reader, w io.Writer, what string, save func(*store.Store, string) error) error {
	st, err := openStore(cfgPath)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Fprintf(w, "Enter %s (empty to clear): ", what)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	value := strings.TrimSpace(line)
	if err := save(st, value); err != nil {
		return err
	}
	if value == "" {
		fmt.Fprintf(w, "%s cleared\n", what)
	} else {
		fmt.Fprintf(w, "%s saved\n", what)
	}
	return nil
}
