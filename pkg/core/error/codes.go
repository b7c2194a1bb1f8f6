// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     error
// Description: Error codes and severities
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package error

// Code categorizes an error
type Code string

const (
	CodeUnknown  Code = "UNKNOWN"
	CodeInternal Code = "INTERNAL"

	// Session lifecycle
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeNotReady         Code = "NOT_READY"
	CodeAlreadyRunning   Code = "ALREADY_RUNNING"
	CodeInvalidState     Code = "INVALID_STATE"

	// Turn pipeline
	CodeProcessingFailed Code = "PROCESSING_FAILED"
	CodePlaybackFailed   Code = "PLAYBACK_FAILED"

	// Configuration
	CodeInvalidConfig Code = "INVALID_CONFIG"
)

// String returns the string representation of the error code
func (c Code) String() string {
	return string(c)
}

// Category returns the high-level category of the error code
func (c Code) Category() string {
	switch c {
	case CodePermissionDenied, CodeNotReady, CodeAlreadyRunning, CodeInvalidState:
		return "session"
	case CodeProcessingFailed, CodePlaybackFailed:
		return "turn"
	case CodeInvalidConfig:
		return "configuration"
	default:
		return "generic"
	}
}

// Severity represents the severity level of an error
type Severity int

const (
	// SeverityLow - recoverable, the session keeps running
	SeverityLow Severity = iota

	// SeverityMedium - the current operation failed
	SeverityMedium

	// SeverityHigh - the session cannot continue without a restart
	SeverityHigh

	// SeverityCritical - the process cannot continue
	SeverityCritical
)

// String returns the string representation of the severity level
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SeverityFromCode returns the default severity for a code
func SeverityFromCode(code Code) Severity {
	switch code {
	case CodePlaybackFailed, CodeAlreadyRunning, CodeInvalidState:
		return SeverityLow
	case CodeNotReady, CodePermissionDenied, CodeInvalidConfig:
		return SeverityHigh
	case CodeProcessingFailed:
		return SeverityMedium
	case CodeInternal:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}
