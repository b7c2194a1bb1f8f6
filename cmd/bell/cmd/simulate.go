// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     cmd
// Description: Replays a WAV recording through a session
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/msto63/bell/internal/bell/audio"
	"github.com/msto63/bell/internal/bell/capability"
	"github.com/msto63/bell/internal/bell/events"
	"github.com/msto63/bell/internal/bell/session"
	"github.com/msto63/bell/pkg/core/logging"
)

const settlePoll = 250 * time.Millisecond

var (
	simSpeed    float64
	simTrailing time.Duration
	simReplies  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <file.wav>",
	Short: "Replay a WAV file through a session",
	Long: `Feeds a mono 16-bit WAV recording to a session frame by frame, as if it
came from the microphone, and runs every detected utterance against the
configured backends. The recording's sample rate must match audio.sample_rate.

Examples:
  bell simulate question.wav
  bell simulate --speed 10 dialog.wav
  bell simulate --save-replies ./out dialog.wav`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().Float64Var(&simSpeed, "speed", 1, "replay speed (1 = real time)")
	simulateCmd.Flags().DurationVar(&simTrailing, "trailing-silence", 2*time.Second, "silence appended after the recording")
	simulateCmd.Flags().StringVar(&simReplies, "save-replies", "", "write synthesized replies as WAV files to this directory")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("failed to load config", err)
		return err
	}
	if simSpeed <= 0 {
		return fmt.Errorf("--speed must be positive")
	}
	logger := logging.New("bell-simulate")

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	pcm, rate, err := audio.DecodeWAV(f)
	f.Close()
	if err != nil {
		printError("failed to read recording", err)
		return err
	}
	if rate != cfg.Audio.SampleRate {
		return fmt.Errorf("recording is %d Hz, audio.sample_rate is %d Hz", rate, cfg.Audio.SampleRate)
	}

	replay, err := audio.NewReplay(pcm, rate, cfg.Audio.FrameDuration.Duration, simTrailing, simSpeed)
	if err != nil {
		return err
	}

	b, err := buildBackends(cfg)
	if err != nil {
		printError("failed to configure backends", err)
		return err
	}
	gate, err := detectorGate(cfg)
	if err != nil {
		return err
	}

	sc := sessionConfig(cfg)
	sc.ContinuousMode = true
	var player capability.Player
	if simReplies != "" && b.tts != nil {
		sink, err := audio.NewWAVSink(simReplies)
		if err != nil {
			return err
		}
		player = sink
		sc.AutoPlayTTS = true
	} else {
		sc.AutoPlayTTS = false
	}

	opts := []session.Option{
		session.WithClock(replay.Now),
		session.WithLogger(logger),
	}
	if gate != nil {
		opts = append(opts, session.WithGate(gate))
	}
	s, err := session.New(sc, session.Deps{
		Capture:     replay,
		Player:      player,
		Transcriber: b.stt,
		Generator:   b.llm,
		Synthesizer: b.tts,
	}, opts...)
	if err != nil {
		printError("failed to create session", err)
		return err
	}

	var turns, failures atomic.Int32
	s.Subscribe(events.LogListener(logger))
	s.Subscribe(transcriptPrinter(cmd.OutOrStdout()))
	s.Subscribe(func(ev events.Event) {
		switch ev.Type {
		case events.TypeTurnCompleted:
			turns.Add(1)
		case events.TypeError:
			failures.Add(1)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Replaying %s (%s at %gx)\n", args[0],
		audio.BytesDuration(len(pcm), rate).Round(time.Millisecond), simSpeed)
	if err := s.Start(ctx); err != nil {
		printError("failed to start session", err)
		return err
	}

	waitSettled(ctx, s, replay)
	if err := s.Close(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d turn(s) completed, %d failed\n", turns.Load(), failures.Load())
	if failures.Load() > 0 {
		return fmt.Errorf("%d turn(s) failed", failures.Load())
	}
	return nil
}

// waitSettled returns once the recording is exhausted and the session has
// stayed out of Processing/Speaking for two polls, or has failed
func waitSettled(ctx context.Context, s *session.Session, replay *audio.Replay) {
	select {
	case <-ctx.Done():
		return
	case <-replay.Done():
	}

	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()

	quiet := 0
	for quiet < 2 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		switch s.State() {
		case session.StateError, session.StateStopped:
			return
		case session.StateListening:
			quiet++
		default:
			quiet = 0
		}
	}
}
