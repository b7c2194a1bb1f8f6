// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     metrics
// Description: Prometheus metrics for voice sessions
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/msto63/bell/internal/bell/events"
)

const namespace = "bell"

// Turn outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeEmpty     = "empty"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Pipeline stages
const (
	StageSTT      = "stt"
	StageLLM      = "llm"
	StageTTS      = "tts"
	StagePlayback = "playback"
)

// Metrics holds the session collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesProcessed prometheus.Counter
	framesDropped   prometheus.Counter
	turnsTotal      *prometheus.CounterVec
	eventsTotal     *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	sessionState    *prometheus.GaugeVec
	threshold       prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Total number of audio frames classified",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of audio frames dropped on a full queue",
		}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turns by outcome",
		}, []string{"outcome"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of session events by type",
		}, []string{"type"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Histogram of turn stage duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage", "status"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the session's current state, 0 otherwise",
		}, []string{"state"}),
		threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detector_threshold",
			Help:      "Current speech energy threshold",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors returns every collector for registration
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.framesProcessed,
		m.framesDropped,
		m.turnsTotal,
		m.eventsTotal,
		m.stageDuration,
		m.sessionState,
		m.threshold,
	}
}

// FrameProcessed counts one classified frame
func (m *Metrics) FrameProcessed() {
	if m == nil {
		return
	}
	m.framesProcessed.Inc()
}

// FrameDropped counts one frame lost to queue overflow
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

// TurnFinished counts a turn by outcome
func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records a stage duration; err selects the status label
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// SetState marks state as current and clears the previous one
func (m *Metrics) SetState(previous, current string) {
	if m == nil {
		return
	}
	if previous != "" {
		m.sessionState.WithLabelValues(previous).Set(0)
	}
	m.sessionState.WithLabelValues(current).Set(1)
}

// SetThreshold records the detector threshold
func (m *Metrics) SetThreshold(v float64) {
	if m == nil {
		return
	}
	m.threshold.Set(v)
}

// EventListener counts emitted events by type
func (m *Metrics) EventListener() events.Listener {
	return func(ev events.Event) {
		if m == nil {
			return
		}
		m.eventsTotal.WithLabelValues(string(ev.Type)).Inc()
	}
}
