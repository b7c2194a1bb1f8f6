// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     cmd
// Description: Live microphone session with event, journal and metrics servers
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/msto63/bell/internal/bell/audio"
	"github.com/msto63/bell/internal/bell/events"
	"github.com/msto63/bell/internal/bell/metrics"
	"github.com/msto63/bell/internal/bell/ptt"
	"github.com/msto63/bell/internal/bell/session"
	"github.com/msto63/bell/pkg/core/config"
	"github.com/msto63/bell/pkg/core/logging"
)

const (
	restartDelay    = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a live microphone session",
	Long: `Starts a hands-free session on the configured input device.

Speak, pause, and bell answers. The session keeps listening until
Ctrl+C, or ends after one turn when continuous_mode is off.

Optional surfaces, enabled in the config file:
  events.listen   - websocket event stream at /events
  metrics.listen  - Prometheus /metrics and /health
  journal.enabled - SQLite turn journal
  hotkey.enabled  - Ctrl+Shift+<key> ends the current utterance`,
	RunE: runLive,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("failed to load config", err)
		return err
	}
	logger := logging.New("bell")

	b, err := buildBackends(cfg)
	if err != nil {
		printError("failed to configure backends", err)
		return err
	}
	gate, err := detectorGate(cfg)
	if err != nil {
		printError("failed to create WebRTC VAD", err)
		return err
	}

	capture, err := audio.NewCapture(audio.CaptureConfig{
		SampleRate:    cfg.Audio.SampleRate,
		FrameDuration: cfg.Audio.FrameDuration.Duration,
		DeviceName:    cfg.Audio.InputDevice,
	})
	if err != nil {
		printError("failed to initialize audio", err)
		return err
	}
	defer capture.Close()

	checks := readiness(b)
	var (
		exporter *metrics.Exporter
		m        *metrics.Metrics
	)
	if cfg.Metrics.Listen != "" {
		exporter, m = metrics.NewExporter(cfg.Metrics.Listen, checks)
	}

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithReadiness(checks),
		session.WithMetrics(m),
	}
	if gate != nil {
		opts = append(opts, session.WithGate(gate))
	}
	s, err := session.New(sessionConfig(cfg), session.Deps{
		Capture:     capture,
		Player:      audio.NewPlayer(),
		Transcriber: b.stt,
		Generator:   b.llm,
		Synthesizer: b.tts,
	}, opts...)
	if err != nil {
		printError("failed to create session", err)
		return err
	}

	s.Subscribe(events.LogListener(logger))
	s.Subscribe(transcriptPrinter(cmd.OutOrStdout()))
	s.Subscribe(m.EventListener())

	if cfg.Journal.Enabled {
		journal, err := events.NewJournal(events.JournalConfig{Path: cfg.Journal.Path})
		if err != nil {
			printError("failed to open journal", err)
			return err
		}
		defer journal.Close()
		s.Subscribe(journal.Handle)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Events.Listen != "" {
		broadcaster := events.NewBroadcaster()
		defer broadcaster.Close()
		s.Subscribe(broadcaster.Handle)

		if exporter != nil && cfg.Events.Listen == cfg.Metrics.Listen {
			exporter.Handle("/events", broadcaster)
		} else {
			mux := http.NewServeMux()
			mux.Handle("/events", broadcaster)
			serveHTTP(gctx, g, &http.Server{
				Addr:              cfg.Events.Listen,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			})
		}
		logger.Info("Event stream enabled", "addr", cfg.Events.Listen, "path", "/events")
	}

	if exporter != nil {
		g.Go(func() error {
			if err := exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return exporter.Shutdown(shutdownCtx)
		})
		logger.Info("Metrics enabled", "addr", cfg.Metrics.Listen)
	}

	registerHotkey(gctx, g, cfg, s, logger)

	terminal := make(chan events.Event, 1)
	s.Subscribe(func(ev events.Event) {
		if ev.Type.IsTerminal() {
			select {
			case terminal <- ev:
			default:
			}
		}
	})

	if err := s.Start(gctx); err != nil {
		printError("failed to start session", err)
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Listening... (Ctrl+C to quit)")

	g.Go(func() error {
		return supervise(gctx, s, terminal, cancel, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Close()
	})

	return g.Wait()
}

// supervise restarts a continuous session after a failed turn and ends the
// run when the session stops on its own
func supervise(ctx context.Context, s *session.Session, terminal <-chan events.Event, done context.CancelFunc, logger *logging.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-terminal:
			if ev.Type == events.TypeStopped || s.State() == session.StateStopped {
				done()
				return nil
			}

			logger.Warn("Turn failed, restarting session", "error", ev.Err, "delay", restartDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(restartDelay):
			}
			if err := s.Start(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to restart session: %w", err)
			}
		}
	}
}

func registerHotkey(ctx context.Context, g *errgroup.Group, cfg *config.Config, s *session.Session, logger *logging.Logger) {
	if !cfg.Hotkey.Enabled {
		return
	}
	if !ptt.Supported() {
		logger.Info("Hotkey disabled on this platform")
		return
	}

	hk, err := ptt.Register(cfg.Hotkey.Key, s)
	if err != nil {
		logger.Warn("Failed to register hotkey", "error", err)
		return
	}
	g.Go(func() error {
		defer hk.Close()
		return hk.Run(ctx)
	})
}

func serveHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server) {
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("event server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
