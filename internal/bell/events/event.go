// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     events
// Description: Session event types
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package events

import (
	"encoding/json"
	"time"

	bellerr "github.com/msto63/bell/pkg/core/error"
)

// Type identifies a session event
type Type string

const (
	TypeListening     Type = "listening"
	TypeSpeechStarted Type = "speech_started"
	TypeProcessing    Type = "processing"
	TypeTranscribed   Type = "transcribed"
	TypeResponded     Type = "responded"
	TypeSpeaking      Type = "speaking"
	TypeTurnCompleted Type = "turn_completed"
	TypeStopped       Type = "stopped"
	TypeError         Type = "error"
)

// IsTerminal reports whether the event closes the stream
func (t Type) IsTerminal() bool {
	return t == TypeStopped || t == TypeError
}

// Event is a single notification from a session
type Event struct {
	Type      Type
	SessionID string
	TurnID    string
	Time      time.Time

	// AudioLevel is the frame energy for Listening events
	AudioLevel float64

	// Text carries the transcript for Transcribed and the reply for Responded
	Text string

	// Transcript and Response are set on TurnCompleted
	Transcript string
	Response   string

	Err error
}

type wireEvent struct {
	Type       Type      `json:"type"`
	SessionID  string    `json:"session_id"`
	TurnID     string    `json:"turn_id,omitempty"`
	Time       time.Time `json:"time"`
	AudioLevel *float64  `json:"audio_level,omitempty"`
	Text       string    `json:"text,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Response   string    `json:"response,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// MarshalJSON renders the event for websocket observers
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Type:       e.Type,
		SessionID:  e.SessionID,
		TurnID:     e.TurnID,
		Time:       e.Time,
		Text:       e.Text,
		Transcript: e.Transcript,
		Response:   e.Response,
	}
	if e.Type == TypeListening {
		level := e.AudioLevel
		w.AudioLevel = &level
	}
	if e.Err != nil {
		w.Error = e.Err.Error()
		w.ErrorCode = ErrorCode(e.Err)
	}
	return json.Marshal(w)
}

// ErrorCode returns the coded error's code, or empty for nil
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	return string(bellerr.GetCode(err))
}
