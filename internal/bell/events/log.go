// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     events
// Description: Structured-log subscriber
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package events

import "github.com/msto63/bell/pkg/core/logging"

// LogListener logs each event at debug level, errors at error level
func LogListener(logger *logging.Logger) Listener {
	return func(ev Event) {
		kv := []interface{}{"type", string(ev.Type), "session_id", ev.SessionID}
		if ev.TurnID != "" {
			kv = append(kv, "turn_id", ev.TurnID)
		}

		switch ev.Type {
		case TypeListening:
			logger.Debug("Audio level", append(kv, "level", ev.AudioLevel)...)
		case TypeTranscribed:
			logger.Debug("Transcribed", append(kv, "text", ev.Text)...)
		case TypeResponded:
			logger.Debug("Responded", append(kv, "text", ev.Text)...)
		case TypeError:
			logger.Error("Session error", append(kv, "error", ev.Err, "code", ErrorCode(ev.Err))...)
		default:
			logger.Debug("Session event", kv...)
		}
	}
}
