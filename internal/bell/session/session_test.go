package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msto63/bell/internal/bell/events"
	"github.com/msto63/bell/internal/bell/vad"
	bellerr "github.com/msto63/bell/pkg/core/error"
	"github.com/msto63/bell/pkg/core/health"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond

	// 100 ms at 16 kHz
	frameSamples = 1600
)

type harness struct {
	s       *Session
	clock   *fakeClock
	capture *fakeCapture
	player  *fakePlayer
	stt     *fakeSTT
	llm     *fakeLLM
	tts     *fakeTTS
	rec     *recorder
}

func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()

	clock := newFakeClock()
	h := &harness{
		clock:   clock,
		capture: &fakeCapture{clock: clock, frame: 100 * time.Millisecond},
		player:  &fakePlayer{},
		stt:     &fakeSTT{text: "what time is it"},
		llm:     &fakeLLM{reply: "It is noon."},
		tts:     &fakeTTS{},
		rec:     &recorder{},
	}

	cfg := DefaultConfig()
	cfg.Detector.CalibrateOnStart = false
	if mutate != nil {
		mutate(&cfg)
	}

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := New(cfg, Deps{
		Capture:     h.capture,
		Player:      h.player,
		Transcriber: h.stt,
		Generator:   h.llm,
		Synthesizer: h.tts,
	}, opts...)
	require.NoError(t, err)
	s.Subscribe(h.rec.listen)
	h.s = s

	t.Cleanup(func() { _ = s.Close() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.Start(context.Background()))
	require.Equal(t, StateListening, h.s.State())
}

// speak feeds 600 ms of tone followed by 1.6 s of silence
func (h *harness) speak() {
	h.capture.Feed(repeat(toneFrame(frameSamples), 6)...)
	h.capture.Feed(repeat(silenceFrame(frameSamples), 16)...)
}

func (h *harness) waitEvents(t *testing.T, typ events.Type, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.rec.Count(typ) >= n }, waitFor, tick,
		"waiting for %d %s events", n, typ)
}

func (h *harness) waitListening(t *testing.T, starts int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.s.State() == StateListening && h.capture.Starts() >= starts
	}, waitFor, tick)
}

// feedSilence feeds n silent frames and waits until the last one was processed
func (h *harness) feedSilence(t *testing.T, n int) {
	t.Helper()
	require.Equal(t, n, h.capture.Feed(repeat(silenceFrame(frameSamples), n)...))
	want := h.clock.Now()
	require.Eventually(t, func() bool {
		ev, ok := h.rec.Last(events.TypeListening)
		return ok && !ev.Time.Before(want)
	}, waitFor, tick)
}

func TestNew_Validation(t *testing.T) {
	capture := &fakeCapture{clock: newFakeClock()}
	deps := Deps{
		Capture:     capture,
		Player:      &fakePlayer{},
		Transcriber: &fakeSTT{},
		Generator:   &fakeLLM{},
		Synthesizer: &fakeTTS{},
	}

	t.Run("valid", func(t *testing.T) {
		s, err := New(DefaultConfig(), deps)
		require.NoError(t, err)
		assert.Equal(t, StateIdle, s.State())
		assert.NotEmpty(t, s.ID())
	})

	t.Run("bad config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SampleRate = 0
		_, err := New(cfg, deps)
		assert.True(t, bellerr.HasCode(err, bellerr.CodeInvalidConfig))
	})

	t.Run("missing transcriber", func(t *testing.T) {
		d := deps
		d.Transcriber = nil
		_, err := New(DefaultConfig(), d)
		assert.True(t, bellerr.HasCode(err, bellerr.CodeInvalidConfig))
	})

	t.Run("auto play needs synthesizer", func(t *testing.T) {
		d := deps
		d.Synthesizer = nil
		_, err := New(DefaultConfig(), d)
		assert.True(t, bellerr.HasCode(err, bellerr.CodeInvalidConfig))

		cfg := DefaultConfig()
		cfg.AutoPlayTTS = false
		_, err = New(cfg, d)
		assert.NoError(t, err)
	})
}

func TestSession_OneUtteranceOneTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.speak()
	h.waitEvents(t, events.TypeTurnCompleted, 1)
	h.waitListening(t, 2)

	assert.Equal(t, []events.Type{
		events.TypeSpeechStarted,
		events.TypeProcessing,
		events.TypeTranscribed,
		events.TypeResponded,
		events.TypeSpeaking,
		events.TypeTurnCompleted,
	}, h.rec.Types())
	assert.Equal(t, 1, h.stt.Calls())
	assert.Equal(t, 1, h.player.Played())

	ev, ok := h.rec.Last(events.TypeTurnCompleted)
	require.True(t, ok)
	assert.Equal(t, "what time is it", ev.Transcript)
	assert.Equal(t, "It is noon.", ev.Response)
	assert.Equal(t, h.s.ID(), ev.SessionID)
	assert.NotEmpty(t, ev.TurnID)

	assert.False(t, h.s.Detector().IsPlaybackActive())
}

func TestSession_PassesConfigToBackends(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.LanguageHint = "de"
		c.SystemPrompt = "be brief"
		c.MaxTokens = 42
	})
	h.start(t)

	h.speak()
	h.waitEvents(t, events.TypeTurnCompleted, 1)

	h.stt.mu.Lock()
	assert.Equal(t, "de", h.stt.lang)
	h.stt.mu.Unlock()

	h.llm.mu.Lock()
	defer h.llm.mu.Unlock()
	assert.Equal(t, "what time is it", h.llm.prompt)
	assert.Equal(t, 42, h.llm.opts.MaxTokens)
	assert.Equal(t, "be brief", h.llm.opts.SystemPrompt)
	assert.InDelta(t, 0.7, h.llm.opts.Temperature, 1e-9)
}

func TestSession_SilenceProducesNoTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.capture.Feed(repeat(silenceFrame(frameSamples), 30)...)
	h.waitEvents(t, events.TypeListening, 31)

	assert.Empty(t, h.rec.Types())
	assert.Equal(t, 0, h.stt.Calls())
	assert.Equal(t, StateListening, h.s.State())
}

func TestSession_ShortUtteranceDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.capture.Feed(toneFrame(frameSamples))
	h.capture.Feed(repeat(silenceFrame(frameSamples), 16)...)
	h.waitEvents(t, events.TypeListening, 18)

	require.Eventually(t, func() bool { return h.s.State() == StateListening }, waitFor, tick)
	assert.Equal(t, []events.Type{events.TypeSpeechStarted}, h.rec.Types())
	assert.Equal(t, 0, h.stt.Calls())
	assert.Equal(t, 1, h.capture.Starts())
}

func TestSession_SendNow(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.s.SendNow(), "idle session")
	h.start(t)
	assert.False(t, h.s.SendNow(), "nothing buffered")

	h.capture.Feed(repeat(toneFrame(frameSamples), 2)...)
	require.Eventually(t, func() bool { return h.s.acc.Size() == 2*frameSamples*2 }, waitFor, tick)
	assert.False(t, h.s.SendNow(), "below minimum utterance")

	h.capture.Feed(repeat(toneFrame(frameSamples), 3)...)
	require.Eventually(t, func() bool { return h.s.acc.Size() == 5*frameSamples*2 }, waitFor, tick)
	assert.True(t, h.s.SendNow())

	h.waitEvents(t, events.TypeTurnCompleted, 1)
	h.waitListening(t, 2)
	assert.Equal(t, 1, h.stt.Calls())
}

func TestSession_NonContinuousStopsAfterTurn(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ContinuousMode = false })
	h.start(t)

	h.speak()
	h.waitEvents(t, events.TypeStopped, 1)

	assert.Equal(t, StateStopped, h.s.State())
	types := h.rec.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeTurnCompleted, types[len(types)-2])
	assert.Equal(t, events.TypeStopped, types[len(types)-1])
	assert.Equal(t, 1, h.capture.Starts())
	assert.False(t, h.capture.Running())
}

func TestSession_StopDuringProcessing(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.block = true
	h.stt.entered = make(chan struct{}, 1)
	h.start(t)

	h.speak()
	select {
	case <-h.stt.entered:
	case <-time.After(waitFor):
		t.Fatal("transcription never started")
	}
	require.Equal(t, StateProcessing, h.s.State())

	require.NoError(t, h.s.Stop())
	require.NoError(t, h.s.Close())

	assert.Equal(t, StateStopped, h.s.State())
	assert.Equal(t, []events.Type{
		events.TypeSpeechStarted,
		events.TypeProcessing,
		events.TypeStopped,
	}, h.rec.Types())
	assert.Equal(t, 0, h.player.Played())
	assert.False(t, h.capture.Running())
}

func TestSession_StopDuringPlayback(t *testing.T) {
	h := newHarness(t, nil)
	h.player.block = true
	h.start(t)

	h.speak()
	h.waitEvents(t, events.TypeSpeaking, 1)
	require.Eventually(t, func() bool { return h.player.Played() == 1 }, waitFor, tick)

	require.NoError(t, h.s.Close())
	assert.Equal(t, 0, h.rec.Count(events.TypeTurnCompleted))
	assert.Equal(t, 1, h.rec.Count(events.TypeStopped))
	assert.False(t, h.s.Detector().IsPlaybackActive())
}

func TestSession_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	require.NoError(t, h.s.Stop())
	require.NoError(t, h.s.Stop())
	require.NoError(t, h.s.Close())

	assert.Equal(t, 1, h.rec.Count(events.TypeStopped))
	assert.Equal(t, StateStopped, h.s.State())
}

func TestSession_StopBeforeStart(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.Stop())
	assert.Equal(t, StateStopped, h.s.State())

	err := h.s.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSession_StartTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	err := h.s.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestSession_StartAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	require.NoError(t, h.s.Stop())

	err := h.s.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSession_PermissionDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.capture.denied = true

	err := h.s.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateIdle, h.s.State())
	assert.Equal(t, 0, h.capture.Starts())

	h.capture.denied = false
	h.capture.permission = errBackend
	err = h.s.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, errBackend)
}

func TestSession_NotReady(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.ready = errBackend

	err := h.s.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, StateIdle, h.s.State())

	h.stt.mu.Lock()
	h.stt.ready = nil
	h.stt.mu.Unlock()
	h.start(t)
}

func TestSession_CustomReadiness(t *testing.T) {
	reg := health.NewRegistry()
	reg.Register(health.ErrorCheck("gpu", func(ctx context.Context) error { return errBackend }))

	h := newHarness(t, nil, WithReadiness(reg))
	err := h.s.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSession_ProcessingFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.err = errBackend
	h.start(t)

	h.speak()
	h.waitEvents(t, events.TypeError, 1)
	require.Eventually(t, func() bool { return h.s.State() == StateError }, waitFor, tick)

	ev, _ := h.rec.Last(events.TypeError)
	assert.ErrorIs(t, ev.Err, ErrProcessingFailed)
	assert.ErrorIs(t, ev.Err, errBackend)
	assert.False(t, h.capture.Running())

	// recover by starting again
	h.stt.mu.Lock()
	h.stt.err = nil
	h.stt.mu.Unlock()
	h.start(t)

	h.speak()
	h.waitEvents(t, events.TypeTurnCompleted, 1)
}

func TestSession_ProcessingFailureNonContinuous(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ContinuousMode = false })
	h.llm.err = errBackend
	h.start(t)

	h.speak()
	h.waitEvents(t, events.TypeError, 1)
	require.Eventually(t, func() bool { return h.s.State() == StateStopped }, waitFor, tick)
	require.NoError(t, h.s.Close())

	assert.Equal(t, 0, h.rec.Count(events.TypeStopped))
	types := h.rec.Types()
	assert.Equal(t, events.TypeError, types[len(types)-1])
	assert.ErrorIs(t, h.s.Start(context.Background()), ErrInvalidState)
}

func TestSession_EmptyTranscriptResumes(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.text = "   "
	h.start(t)

	h.speak()
	h.waitListening(t, 2)

	assert.Equal(t, []events.Type{
		events.TypeSpeechStarted,
		events.TypeProcessing,
	}, h.rec.Types())
	assert.Equal(t, 0, h.player.Played())
}

func TestSession_SynthesisFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.tts.err = errBackend
	h.start(t)

	h.speak()
	h.waitEvents(t, events.TypeTurnCompleted, 1)
	h.waitListening(t, 2)

	assert.Equal(t, 0, h.rec.Count(events.TypeSpeaking))
	assert.Equal(t, 0, h.rec.Count(events.TypeError))
	assert.Equal(t, 0, h.player.Played())
}

func TestSession_PlaybackFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.player.err = errBackend
	h.start(t)

	h.speak()
	h.waitEvents(t, events.TypeTurnCompleted, 1)
	h.waitListening(t, 2)
	assert.Equal(t, 0, h.rec.Count(events.TypeError))
}

func TestSession_WithoutAutoPlay(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AutoPlayTTS = false })
	h.start(t)

	h.speak()
	h.waitEvents(t, events.TypeTurnCompleted, 1)
	assert.Equal(t, 0, h.rec.Count(events.TypeSpeaking))
	assert.Equal(t, 0, h.player.Played())
}

func TestSession_TwoTurns(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.speak()
	h.waitEvents(t, events.TypeTurnCompleted, 1)
	h.waitListening(t, 2)

	h.speak()
	h.waitEvents(t, events.TypeTurnCompleted, 2)
	assert.Equal(t, 2, h.stt.Calls())
}

func TestSession_PauseIgnoresSpeech(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.s.Pause()

	h.capture.Feed(repeat(toneFrame(frameSamples), 6)...)
	h.waitEvents(t, events.TypeListening, 7)
	assert.Equal(t, 0, h.rec.Count(events.TypeSpeechStarted))

	h.s.Resume()
	h.speak()
	h.waitEvents(t, events.TypeTurnCompleted, 1)
}

func TestSession_StopFromListener(t *testing.T) {
	h := newHarness(t, nil)
	stopped := make(chan error, 1)
	h.s.Subscribe(func(ev events.Event) {
		if ev.Type == events.TypeSpeechStarted {
			stopped <- h.s.Stop()
		}
	})
	h.start(t)

	h.capture.Feed(toneFrame(frameSamples))
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("listener never stopped the session")
	}
	assert.Equal(t, StateStopped, h.s.State())
}

func TestSession_ListeningEventsCarryLevel(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.capture.Feed(toneFrame(frameSamples))
	h.waitEvents(t, events.TypeListening, 2)

	ev, ok := h.rec.Last(events.TypeListening)
	require.True(t, ok)
	assert.InDelta(t, float64(testAmplitude)/32768, ev.AudioLevel, 1e-3)
}

func TestSession_ErrorsMatchByCode(t *testing.T) {
	err := wrapCode(errors.New("boom"), bellerr.CodeNotReady, "backends not ready", "start")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
}

func TestSession_SendNowWithoutAutoPlayThenSilence(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AutoPlayTTS = false })
	h.start(t)

	h.capture.Feed(repeat(toneFrame(frameSamples), 6)...)
	require.Eventually(t, func() bool { return h.s.acc.Size() == 6*frameSamples*2 }, waitFor, tick)
	require.True(t, h.s.SendNow())
	h.waitEvents(t, events.TypeTurnCompleted, 1)
	h.waitListening(t, 2)

	assert.False(t, h.s.Detector().IsSpeechActive())
	h.feedSilence(t, 3)

	assert.Equal(t, StateListening, h.s.State())
	assert.Equal(t, 1, h.rec.Count(events.TypeSpeechStarted))
	assert.Equal(t, 0, h.s.acc.Size())
}

func TestSession_EmptyTranscriptThenSilence(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.text = ""
	h.start(t)

	h.capture.Feed(repeat(toneFrame(frameSamples), 6)...)
	require.Eventually(t, func() bool { return h.s.acc.Size() == 6*frameSamples*2 }, waitFor, tick)
	require.True(t, h.s.SendNow())
	h.waitListening(t, 2)

	h.feedSilence(t, 3)
	assert.Equal(t, StateListening, h.s.State())
	assert.Equal(t, []events.Type{
		events.TypeSpeechStarted,
		events.TypeProcessing,
	}, h.rec.Types())
}

func TestSession_ShortSilenceWindowResetsDetector(t *testing.T) {
	// 300 ms of silence ends the turn while the detector still holds speech
	h := newHarness(t, func(c *Config) {
		c.SilenceDuration = 300 * time.Millisecond
		c.AutoPlayTTS = false
	})
	h.start(t)

	h.capture.Feed(repeat(toneFrame(frameSamples), 6)...)
	h.capture.Feed(repeat(silenceFrame(frameSamples), 3)...)
	h.waitEvents(t, events.TypeTurnCompleted, 1)
	h.waitListening(t, 2)

	h.feedSilence(t, 4)
	assert.Equal(t, StateListening, h.s.State())
	assert.Equal(t, 1, h.rec.Count(events.TypeSpeechStarted))

	h.speak()
	h.waitEvents(t, events.TypeTurnCompleted, 2)
	assert.Equal(t, 2, h.rec.Count(events.TypeSpeechStarted))
}

func TestSession_ZeroDetectorConfigCalibrates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector = vad.Config{}

	s, err := New(cfg, Deps{
		Capture:     &fakeCapture{clock: newFakeClock()},
		Player:      &fakePlayer{},
		Transcriber: &fakeSTT{},
		Generator:   &fakeLLM{},
		Synthesizer: &fakeTTS{},
	})
	require.NoError(t, err)
	assert.True(t, s.Detector().Config().CalibrateOnStart)
	assert.Equal(t, 20, s.Detector().Config().CalibrationFrames)
}
