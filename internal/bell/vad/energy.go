// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     vad
// Description: Energy-based voice activity detection with calibration,
//              hysteresis and playback suppression
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package vad

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"
	"time"
)

// Transition reports a change of the speech-active flag caused by one call
type Transition int

const (
	TransitionNone Transition = iota
	TransitionStarted
	TransitionEnded
)

// String returns the string representation of the transition
func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "none"
	case TransitionStarted:
		return "started"
	case TransitionEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Config holds the detector constants
type Config struct {
	SampleRate    int
	FrameDuration time.Duration

	// InitialThreshold is the RMS threshold used until calibration finishes
	InitialThreshold float64

	CalibrateOnStart      bool
	CalibrationFrames     int
	CalibrationTimeout    time.Duration
	CalibrationMultiplier float64
	FloorMultiplier       float64
	MinThreshold          float64
	MaxThreshold          float64

	PlaybackMultiplier   float64
	PlaybackMaxThreshold float64

	VoiceStartFrames         int
	VoiceEndFrames           int
	PlaybackVoiceStartFrames int
	PlaybackVoiceEndFrames   int

	// HistorySize bounds the energies kept for Statistics
	HistorySize int
}

// DefaultConfig returns the default detector configuration for 16 kHz, 100 ms frames
func DefaultConfig() Config {
	return Config{
		SampleRate:               16000,
		FrameDuration:            100 * time.Millisecond,
		InitialThreshold:         0.1,
		CalibrateOnStart:         true,
		CalibrationFrames:        20,
		CalibrationTimeout:       5 * time.Second,
		CalibrationMultiplier:    2.5,
		FloorMultiplier:          2.5,
		MinThreshold:             0.006,
		MaxThreshold:             0.020,
		PlaybackMultiplier:       3.0,
		PlaybackMaxThreshold:     0.1,
		VoiceStartFrames:         1,
		VoiceEndFrames:           8,
		PlaybackVoiceStartFrames: 10,
		PlaybackVoiceEndFrames:   5,
		HistorySize:              50,
	}
}

// Result is the classification of one frame
type Result struct {
	// IsSpeech is true when this frame is a speech candidate
	IsSpeech bool

	// Confidence in [0, 1], derived from energy relative to the threshold
	Confidence float64

	// Energy is the frame's RMS energy in [0, 1]
	Energy float64

	// SpeechActive is the hysteresis state after this frame
	SpeechActive bool

	Transition Transition
}

// Statistics is a snapshot of the detector's energy view
type Statistics struct {
	Current   float64
	Threshold float64
	Ambient   float64
	RecentAvg float64
	RecentMax float64
}

// Gate confirms an energy speech candidate with a second classifier
type Gate interface {
	IsVoice(frame []byte) (bool, error)
}

// Option configures a Detector
type Option func(*Detector)

// WithClock replaces time.Now for the calibration timeout
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithGate adds a confirmation classifier to the energy test
func WithGate(g Gate) Option {
	return func(d *Detector) { d.gate = g }
}

// Detector classifies PCM16 frames as speech or silence. It is safe for
// concurrent use, but a session drives it from a single goroutine.
type Detector struct {
	mu   sync.Mutex
	cfg  Config
	now  func() time.Time
	gate Gate

	threshold     float64
	baseThreshold float64
	ambient       float64

	calibrating        bool
	calibrationStart   time.Time
	calibrationSamples []float64

	speechFrames  int
	silenceFrames int
	speechActive  bool
	playback      bool
	paused        bool

	lastEnergy float64
	history    []float64
}

// New creates a detector. A zero Config means DefaultConfig; otherwise
// zero-valued constants take their defaults. CalibrateOnStart has no zero
// default, so partial configs should start from DefaultConfig.
func New(cfg Config, opts ...Option) *Detector {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	cfg = withDefaults(cfg)
	d := &Detector{
		cfg:           cfg,
		now:           time.Now,
		threshold:     cfg.InitialThreshold,
		baseThreshold: cfg.InitialThreshold,
		history:       make([]float64, 0, cfg.HistorySize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = def.FrameDuration
	}
	if cfg.CalibrationFrames <= 0 {
		cfg.CalibrationFrames = def.CalibrationFrames
	}
	if cfg.CalibrationMultiplier <= 0 {
		cfg.CalibrationMultiplier = def.CalibrationMultiplier
	}
	if cfg.FloorMultiplier <= 0 {
		cfg.FloorMultiplier = def.FloorMultiplier
	}
	if cfg.MinThreshold <= 0 {
		cfg.MinThreshold = def.MinThreshold
	}
	if cfg.MaxThreshold <= 0 {
		cfg.MaxThreshold = def.MaxThreshold
	}
	if cfg.PlaybackMultiplier <= 0 {
		cfg.PlaybackMultiplier = def.PlaybackMultiplier
	}
	if cfg.PlaybackMaxThreshold <= 0 {
		cfg.PlaybackMaxThreshold = def.PlaybackMaxThreshold
	}
	if cfg.VoiceStartFrames <= 0 {
		cfg.VoiceStartFrames = def.VoiceStartFrames
	}
	if cfg.VoiceEndFrames <= 0 {
		cfg.VoiceEndFrames = def.VoiceEndFrames
	}
	if cfg.PlaybackVoiceStartFrames <= 0 {
		cfg.PlaybackVoiceStartFrames = def.PlaybackVoiceStartFrames
	}
	if cfg.PlaybackVoiceEndFrames <= 0 {
		cfg.PlaybackVoiceEndFrames = def.PlaybackVoiceEndFrames
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	return cfg
}

// Config returns the effective configuration
func (d *Detector) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Start resets the per-run state and, if configured, begins calibration
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resetCounters()
	d.speechActive = false
	d.paused = false
	d.history = d.history[:0]
	d.lastEnergy = 0
	if d.cfg.CalibrateOnStart {
		d.beginCalibration()
	}
}

// StartCalibration discards collected samples and starts measuring ambient noise
func (d *Detector) StartCalibration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beginCalibration()
}

func (d *Detector) beginCalibration() {
	d.calibrating = true
	d.calibrationStart = d.now()
	d.calibrationSamples = d.calibrationSamples[:0]
}

// ProcessFrame classifies one PCM16 frame. Malformed frames count as silence.
func (d *Detector) ProcessFrame(frame []byte) Result {
	energy := RMS(frame)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastEnergy = energy
	d.record(energy)

	if d.calibrating {
		d.calibrationSamples = append(d.calibrationSamples, energy)
		timedOut := d.cfg.CalibrationTimeout > 0 && d.now().Sub(d.calibrationStart) >= d.cfg.CalibrationTimeout
		if len(d.calibrationSamples) >= d.cfg.CalibrationFrames || timedOut {
			d.finishCalibration()
		}
		return Result{Energy: energy, Confidence: Confidence(energy, d.threshold), SpeechActive: d.speechActive}
	}

	if d.paused {
		return Result{Energy: energy, Confidence: Confidence(energy, d.threshold)}
	}

	candidate := energy > d.threshold
	if candidate && d.gate != nil {
		// a failing gate leaves the energy decision in place
		if voiced, err := d.gate.IsVoice(frame); err == nil {
			candidate = voiced
		}
	}

	res := Result{
		IsSpeech:   candidate,
		Energy:     energy,
		Confidence: Confidence(energy, d.threshold),
	}

	startFrames, endFrames := d.cfg.VoiceStartFrames, d.cfg.VoiceEndFrames
	if d.playback {
		startFrames, endFrames = d.cfg.PlaybackVoiceStartFrames, d.cfg.PlaybackVoiceEndFrames
	}

	if candidate {
		d.speechFrames++
		d.silenceFrames = 0
		if !d.speechActive && d.speechFrames >= startFrames {
			d.speechActive = true
			res.Transition = TransitionStarted
		}
	} else {
		d.silenceFrames++
		d.speechFrames = 0
		if d.speechActive && d.silenceFrames >= endFrames {
			d.speechActive = false
			res.Transition = TransitionEnded
		}
	}

	res.SpeechActive = d.speechActive
	return res
}

// finishCalibration derives the threshold from the 90th percentile of the samples
func (d *Detector) finishCalibration() {
	d.calibrating = false
	if len(d.calibrationSamples) == 0 {
		return
	}

	sorted := make([]float64, len(d.calibrationSamples))
	copy(sorted, d.calibrationSamples)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * 0.9)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	d.ambient = sorted[idx]

	floor := math.Max(d.ambient*d.cfg.FloorMultiplier, d.cfg.MinThreshold)
	threshold := math.Max(d.ambient*d.cfg.CalibrationMultiplier, floor)
	threshold = math.Min(threshold, d.cfg.MaxThreshold)

	d.threshold = threshold
	d.baseThreshold = threshold
	d.calibrationSamples = d.calibrationSamples[:0]
}

// NotifyPlaybackStarted raises the threshold while the assistant is speaking.
// Active speech is forced off and reported as TransitionEnded.
func (d *Detector) NotifyPlaybackStarted() Transition {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.playback {
		return TransitionNone
	}

	d.baseThreshold = d.threshold
	d.threshold = math.Min(d.baseThreshold*d.cfg.PlaybackMultiplier, d.cfg.PlaybackMaxThreshold)
	d.playback = true
	d.resetCounters()
	return d.endSpeech()
}

// NotifyPlaybackFinished restores the pre-playback threshold and clears the
// hysteresis state, including speech that started during playback.
func (d *Detector) NotifyPlaybackFinished() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.playback {
		d.threshold = d.baseThreshold
		d.playback = false
	}
	d.resetCounters()
	d.speechActive = false
}

// Pause ignores all input until Resume. Active speech is reported as ended.
func (d *Detector) Pause() Transition {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.paused = true
	d.resetCounters()
	return d.endSpeech()
}

// Resume re-enables detection after Pause
func (d *Detector) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
}

// EndSpeech clears the hysteresis state without touching calibration or
// playback. The next speech candidate reports TransitionStarted again.
func (d *Detector) EndSpeech() Transition {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resetCounters()
	return d.endSpeech()
}

// Stop ends active speech and clears the hysteresis counters
func (d *Detector) Stop() Transition {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calibrating = false
	d.resetCounters()
	return d.endSpeech()
}

// SetThreshold sets both the active and the base threshold
func (d *Detector) SetThreshold(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = v
	d.baseThreshold = v
}

// SetCalibrationMultiplier sets the calibration multiplier, clamped to [1.5, 4.0]
func (d *Detector) SetCalibrationMultiplier(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.CalibrationMultiplier = clamp(v, 1.5, 4.0)
}

// SetPlaybackMultiplier sets the playback multiplier, clamped to [2.0, 5.0].
// It takes effect at the next NotifyPlaybackStarted.
func (d *Detector) SetPlaybackMultiplier(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.PlaybackMultiplier = clamp(v, 2.0, 5.0)
}

// Threshold returns the active threshold
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// BaseThreshold returns the threshold restored after playback
func (d *Detector) BaseThreshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseThreshold
}

// IsCalibrating reports whether ambient noise is still being measured
func (d *Detector) IsCalibrating() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calibrating
}

// IsSpeechActive reports the hysteresis state
func (d *Detector) IsSpeechActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speechActive
}

// IsPlaybackActive reports whether playback suppression is in effect
func (d *Detector) IsPlaybackActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playback
}

// Statistics returns a snapshot over the recent energy history
func (d *Detector) Statistics() Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := Statistics{
		Current:   d.lastEnergy,
		Threshold: d.threshold,
		Ambient:   d.ambient,
	}
	if len(d.history) == 0 {
		return stats
	}

	var sum float64
	for _, e := range d.history {
		sum += e
		if e > stats.RecentMax {
			stats.RecentMax = e
		}
	}
	stats.RecentAvg = sum / float64(len(d.history))
	return stats
}

func (d *Detector) record(energy float64) {
	if len(d.history) >= d.cfg.HistorySize {
		copy(d.history, d.history[1:])
		d.history = d.history[:len(d.history)-1]
	}
	d.history = append(d.history, energy)
}

func (d *Detector) resetCounters() {
	d.speechFrames = 0
	d.silenceFrames = 0
}

func (d *Detector) endSpeech() Transition {
	if !d.speechActive {
		return TransitionNone
	}
	d.speechActive = false
	return TransitionEnded
}

// RMS returns the root-mean-square energy of little-endian PCM16 samples,
// normalized to [0, 1]. Empty or odd-length frames yield 0.
func RMS(frame []byte) float64 {
	if len(frame) < 2 || len(frame)%2 != 0 {
		return 0
	}

	n := len(frame) / 2
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Confidence maps energy relative to threshold onto [0, 1], piecewise linear:
// below half the threshold it rises to 0.3, up to twice the threshold to 0.7,
// and saturates at 1.0 at five times the threshold. The middle slope is
// 0.4/1.5 rather than the rounded 0.267, which overshoots 0.7 at ratio 2 and
// would make the mapping decrease there.
func Confidence(energy, threshold float64) float64 {
	if threshold <= 0 {
		if energy > 0 {
			return 1
		}
		return 0
	}

	ratio := energy / threshold
	var c float64
	switch {
	case ratio < 0.5:
		c = ratio * 0.6
	case ratio < 2.0:
		c = 0.3 + (ratio-0.5)*(0.4/1.5)
	default:
		c = 0.7 + math.Min((ratio-2.0)/3.0, 1.0)*0.3
	}
	return clamp(c, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
