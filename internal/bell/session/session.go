// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     session
// Description: Hands-free voice session: capture, turn detection, hand-off
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

// Package session implements the turn-taking voice session. A session owns a
// single worker goroutine that consumes microphone frames, drives the energy
// detector and the state machine, and runs each captured utterance through
// the STT -> LLM -> TTS pipeline while capture is stopped.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/msto63/bell/internal/bell/audio"
	"github.com/msto63/bell/internal/bell/capability"
	"github.com/msto63/bell/internal/bell/events"
	"github.com/msto63/bell/internal/bell/metrics"
	"github.com/msto63/bell/internal/bell/vad"
	bellerr "github.com/msto63/bell/pkg/core/error"
	"github.com/msto63/bell/pkg/core/health"
	"github.com/msto63/bell/pkg/core/logging"
)

// Deps are the capabilities a session consumes. Synthesizer and Player are
// only required when AutoPlayTTS is enabled.
type Deps struct {
	Capture     capability.Capture
	Player      capability.Player
	Transcriber capability.Transcriber
	Generator   capability.Generator
	Synthesizer capability.Synthesizer
}

// Option configures a Session
type Option func(*Session)

// WithClock replaces time.Now for frame timestamps and calibration
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the session logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithEmitter shares an existing event emitter
func WithEmitter(e *events.Emitter) Option {
	return func(s *Session) { s.emitter = e }
}

// WithMetrics records session metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithGate adds a confirmation classifier to the energy detector
func WithGate(g vad.Gate) Option {
	return func(s *Session) { s.gate = g }
}

// WithReadiness replaces the readiness checks run by Start. By default every
// dependency implementing capability.ReadinessChecker is probed.
func WithReadiness(r *health.Registry) Option {
	return func(s *Session) { s.readiness = r }
}

type timedFrame struct {
	data []byte
	at   time.Time
}

// Session is a hands-free voice conversation
type Session struct {
	id   string
	cfg  Config
	deps Deps

	now       func() time.Time
	logger    *logging.Logger
	emitter   *events.Emitter
	metrics   *metrics.Metrics
	gate      vad.Gate
	readiness *health.Registry

	sm           *StateMachine
	detector     *vad.Detector
	acc          *audio.Accumulator
	orchestrator *Orchestrator
	floorBytes   int

	// lifecycle, guarded by mu; the worker never takes mu
	mu      sync.Mutex
	stopped bool
	trigger chan struct{}
	quit    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	// captureMu orders capture restarts against Stop
	captureMu sync.Mutex
	alive     atomic.Bool

	// owned by the worker
	lastSpeechAt time.Time
	voicedBytes  int
}

// New creates a session in StateIdle
func New(cfg Config, deps Deps, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Capture == nil || deps.Transcriber == nil || deps.Generator == nil {
		return nil, bellerr.Newf(bellerr.CodeInvalidConfig, "capture, transcriber and generator are required")
	}
	if cfg.AutoPlayTTS && (deps.Synthesizer == nil || deps.Player == nil) {
		return nil, bellerr.Newf(bellerr.CodeInvalidConfig, "auto_play_tts requires a synthesizer and a player")
	}

	s := &Session{
		id:   uuid.New().String(),
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New("bell-session")
	}
	s.logger = s.logger.With("session_id", s.id)
	if s.emitter == nil {
		s.emitter = events.NewEmitter()
	}
	if s.readiness == nil {
		s.readiness = readinessFromDeps(deps)
	}

	detOpts := []vad.Option{vad.WithClock(s.now)}
	if s.gate != nil {
		detOpts = append(detOpts, vad.WithGate(s.gate))
	}
	s.detector = vad.New(cfg.detectorConfig(), detOpts...)
	s.acc = audio.NewAccumulator(audio.MinUtteranceBytes(cfg.SampleRate, 10*time.Second))
	s.floorBytes = audio.MinUtteranceBytes(cfg.SampleRate, cfg.MinUtterance)

	s.sm = NewStateMachine(s.now)
	s.sm.AddListener(func(oldState, newState State) {
		s.logger.Debug("State transition", "from", oldState.String(), "to", newState.String())
		s.metrics.SetState(oldState.String(), newState.String())
	})
	s.metrics.SetState("", StateIdle.String())

	s.orchestrator = &Orchestrator{
		cfg:      cfg,
		stt:      deps.Transcriber,
		llm:      deps.Generator,
		tts:      deps.Synthesizer,
		player:   deps.Player,
		sm:       s.sm,
		detector: s.detector,
		metrics:  s.metrics,
		logger:   s.logger,
		emit:     s.emit,
		alive:    s.alive.Load,
	}
	return s, nil
}

func readinessFromDeps(deps Deps) *health.Registry {
	reg := health.NewRegistry()
	named := []struct {
		name string
		dep  interface{}
	}{
		{"stt", deps.Transcriber},
		{"llm", deps.Generator},
		{"tts", deps.Synthesizer},
	}
	for _, n := range named {
		if rc, ok := n.dep.(capability.ReadinessChecker); ok {
			reg.Register(health.ErrorCheck(n.name, rc.Ready))
		}
	}
	return reg
}

// ID returns the session's unique identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current state
func (s *Session) State() State {
	return s.sm.Current()
}

// Detector exposes the energy detector for statistics and tuning
func (s *Session) Detector() *vad.Detector {
	return s.detector
}

// Emitter returns the session's event stream
func (s *Session) Emitter() *events.Emitter {
	return s.emitter
}

// Subscribe registers an event listener
func (s *Session) Subscribe(l events.Listener) (unsubscribe func()) {
	return s.emitter.Subscribe(l)
}

// Start probes the backends, checks the microphone permission, begins
// calibration and starts listening. It is valid from Idle and from Error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkStartable(); err != nil {
		s.mu.Unlock()
		return err
	}
	done := s.done
	s.mu.Unlock()

	// a worker that failed its turn may still be shutting down
	if done != nil {
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkStartable(); err != nil {
		return err
	}
	current := s.sm.Current()

	if s.readiness != nil && s.readiness.Len() > 0 {
		report := s.readiness.CheckWithTimeout(ctx, s.cfg.ReadinessTimeout)
		if !report.Healthy() {
			return wrapCode(report.Err(), bellerr.CodeNotReady, "backends not ready", "start")
		}
	}

	granted, err := s.deps.Capture.RequestPermission(ctx)
	if err != nil {
		return wrapCode(err, bellerr.CodePermissionDenied, "microphone permission denied", "start")
	}
	if !granted {
		return ErrPermissionDenied
	}

	if current == StateError {
		s.emitter.Reopen()
	}

	s.detector.Start()
	s.acc.Reset()
	s.voicedBytes = 0

	turnCtx, cancel := context.WithCancel(context.Background())
	frames := make(chan timedFrame, s.cfg.FrameQueueSize)
	s.trigger = make(chan struct{}, 1)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.cancel = cancel
	s.alive.Store(true)

	if !s.sm.Transition(StateListening) {
		cancel()
		return ErrInvalidState
	}
	if err := s.startCapture(frames); err != nil {
		cancel()
		s.alive.Store(false)
		s.sm.Transition(StateError)
		close(s.done)
		return wrapCode(err, bellerr.CodeInternal, "failed to start capture", "start")
	}

	s.logger.Info("Session started", "continuous", s.cfg.ContinuousMode, "calibrating", s.detector.IsCalibrating())
	s.emit(events.Event{Type: events.TypeListening, AudioLevel: 0})

	go s.run(turnCtx, frames, s.trigger, s.quit, s.done)
	return nil
}

func (s *Session) checkStartable() error {
	if s.stopped {
		return ErrInvalidState
	}
	switch s.sm.Current() {
	case StateIdle, StateError:
		return nil
	case StateStopped:
		return ErrInvalidState
	default:
		return ErrAlreadyRunning
	}
}

// SendNow ends the current utterance immediately (push-to-talk). It only
// acts while speech is being accumulated and at least the minimum
// utterance is buffered, and reports whether a turn was triggered.
func (s *Session) SendNow() bool {
	if s.sm.Current() != StateSpeechAccumulating || s.acc.Size() < s.floorBytes {
		return false
	}

	s.mu.Lock()
	trigger := s.trigger
	s.mu.Unlock()
	if trigger == nil {
		return false
	}

	select {
	case trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Pause mutes the detector; frames keep flowing but count as silence
func (s *Session) Pause() {
	s.detector.Pause()
}

// Resume re-enables the detector after Pause
func (s *Session) Resume() {
	s.detector.Resume()
}

// Stop ends the session. It is idempotent and safe while a turn is in
// flight: capture and playback are stopped, in-flight stages are cancelled
// and their results discarded, and a single Stopped event closes the stream.
func (s *Session) Stop() error {
	return s.terminate(true)
}

// Close stops the session and waits for the worker and every event
// listener to finish. It must not be called from an event listener.
func (s *Session) Close() error {
	err := s.Stop()

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.emitter.Wait()
	return err
}

func (s *Session) terminate(emitStopped bool) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	quit := s.quit
	s.quit = nil
	s.trigger = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.captureMu.Lock()
	s.alive.Store(false)
	err := s.deps.Capture.StopCapture()
	s.captureMu.Unlock()

	if s.deps.Player != nil {
		if perr := s.deps.Player.Stop(); perr != nil {
			s.logger.Warn("Failed to stop playback", "error", perr)
		}
	}
	if quit != nil {
		close(quit)
	}

	s.detector.Stop()
	s.detector.NotifyPlaybackFinished()
	s.acc.Reset()
	s.sm.Transition(StateStopped)

	if emitStopped {
		s.emit(events.Event{Type: events.TypeStopped})
	}
	s.emitter.Shutdown()
	s.logger.Info("Session stopped")

	if err != nil {
		return wrapCode(err, bellerr.CodeInternal, "failed to stop capture", "stop")
	}
	return nil
}

func (s *Session) emit(ev events.Event) {
	ev.SessionID = s.id
	if ev.Time.IsZero() {
		ev.Time = s.now()
	}
	s.emitter.Emit(ev)
}

// startCapture opens the microphone unless the session was stopped meanwhile
func (s *Session) startCapture(frames chan timedFrame) error {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	if !s.alive.Load() {
		return nil
	}
	return s.deps.Capture.StartCapture(func(data []byte) {
		select {
		case frames <- timedFrame{data: data, at: s.now()}:
		default:
			s.metrics.FrameDropped()
			s.logger.Warn("Frame queue full, dropping frame", "queue_size", cap(frames))
		}
	})
}

func (s *Session) stopCapture() {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	if err := s.deps.Capture.StopCapture(); err != nil {
		s.logger.Warn("Failed to stop capture", "error", err)
	}
}

// run is the session worker. It exits on Stop, on a failed turn and after
// the final turn of a non-continuous session.
func (s *Session) run(ctx context.Context, frames chan timedFrame, trigger <-chan struct{}, quit <-chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-quit:
			return
		case f := <-frames:
			if !s.handleFrame(ctx, frames, f) {
				return
			}
		case <-trigger:
			if !s.handleTrigger(ctx, frames) {
				return
			}
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frames chan timedFrame, f timedFrame) bool {
	if !s.alive.Load() {
		return false
	}
	state := s.sm.Current()
	if !state.Capturing() {
		// queued before capture stopped
		return true
	}

	res := s.detector.ProcessFrame(f.data)
	s.metrics.FrameProcessed()
	s.metrics.SetThreshold(s.detector.Threshold())
	s.emit(events.Event{Type: events.TypeListening, AudioLevel: res.Energy, Time: f.at})

	switch state {
	case StateListening:
		if res.Transition == vad.TransitionStarted {
			s.acc.Reset()
			s.acc.Append(f.data)
			s.lastSpeechAt = f.at
			s.voicedBytes = s.acc.Size()
			if s.sm.Transition(StateSpeechAccumulating) {
				s.emit(events.Event{Type: events.TypeSpeechStarted, Time: f.at})
			}
		}

	case StateSpeechAccumulating:
		s.acc.Append(f.data)
		if res.IsSpeech {
			s.lastSpeechAt = f.at
			s.voicedBytes = s.acc.Size()
		}

		if f.at.Sub(s.lastSpeechAt) >= s.cfg.SilenceDuration {
			if s.voicedBytes >= s.floorBytes {
				return s.runTurn(ctx, frames)
			}
			s.logger.Debug("Discarding short utterance",
				"voiced_bytes", s.voicedBytes,
				"min_bytes", s.floorBytes)
			s.acc.Reset()
			s.voicedBytes = 0
			s.detector.EndSpeech()
			s.metrics.TurnFinished(metrics.OutcomeDiscarded)
			s.sm.Transition(StateListening)
		}
	}
	return true
}

func (s *Session) handleTrigger(ctx context.Context, frames chan timedFrame) bool {
	if !s.alive.Load() {
		return false
	}
	if s.sm.Current() != StateSpeechAccumulating || s.acc.Size() < s.floorBytes {
		return true
	}
	s.logger.Debug("Push-to-talk send", "bytes", s.acc.Size())
	return s.runTurn(ctx, frames)
}

// runTurn hands the buffered utterance to the orchestrator. It returns
// whether the worker should keep running.
func (s *Session) runTurn(ctx context.Context, frames chan timedFrame) bool {
	s.stopCapture()
	discardQueued(frames)
	pcm := s.acc.Drain()
	s.voicedBytes = 0
	s.detector.EndSpeech()

	if !s.sm.Transition(StateProcessing) {
		return s.alive.Load()
	}

	turnID := uuid.New().String()
	s.logger.Info("Turn started", "turn_id", turnID, "bytes", len(pcm),
		"duration", audio.BytesDuration(len(pcm), s.cfg.SampleRate))

	turn, err := s.orchestrator.ProcessTurn(ctx, turnID, pcm)
	if !s.alive.Load() || errors.Is(err, errTurnCancelled) {
		s.metrics.TurnFinished(metrics.OutcomeCancelled)
		return false
	}
	if err != nil {
		s.fail(err)
		return false
	}

	if !turn.SpeechDetected {
		s.metrics.TurnFinished(metrics.OutcomeEmpty)
	} else {
		s.metrics.TurnFinished(metrics.OutcomeCompleted)
		s.logger.Info("Turn completed", "turn_id", turnID, "spoken", turn.Spoken)
	}
	return s.resume(frames)
}

// discardQueued drops frames captured before the microphone was closed
func discardQueued(frames chan timedFrame) {
	for {
		select {
		case <-frames:
		default:
			return
		}
	}
}

// resume returns to listening after a turn, or ends a non-continuous session
func (s *Session) resume(frames chan timedFrame) bool {
	s.detector.NotifyPlaybackFinished()

	if !s.cfg.ContinuousMode {
		s.terminate(true)
		return false
	}

	s.acc.Reset()
	if !s.sm.Transition(StateListening) {
		return s.alive.Load()
	}
	if err := s.startCapture(frames); err != nil {
		s.fail(wrapCode(err, bellerr.CodeInternal, "failed to restart capture", "resume"))
		return false
	}
	s.emit(events.Event{Type: events.TypeListening, AudioLevel: 0})
	return true
}

// fail reports a turn failure. The Error event closes the stream; a
// non-continuous session additionally releases its resources.
func (s *Session) fail(err error) {
	s.logger.LogError(err)
	s.metrics.TurnFinished(metrics.OutcomeFailed)

	s.detector.NotifyPlaybackFinished()
	s.acc.Reset()
	s.sm.Transition(StateError)
	s.emit(events.Event{Type: events.TypeError, Err: err})

	if !s.cfg.ContinuousMode {
		s.terminate(false)
	}
}
