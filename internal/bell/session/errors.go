// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     session
// Description: Session error values
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package session

import (
	bellerr "github.com/msto63/bell/pkg/core/error"
)

// Errors returned by Session. They match with errors.Is by code, so a
// wrapped error carrying the same code also matches.
var (
	ErrPermissionDenied = bellerr.New("microphone permission denied").WithCode(bellerr.CodePermissionDenied)
	ErrNotReady         = bellerr.New("backends not ready").WithCode(bellerr.CodeNotReady)
	ErrAlreadyRunning   = bellerr.New("session already running").WithCode(bellerr.CodeAlreadyRunning)
	ErrInvalidState     = bellerr.New("invalid session state").WithCode(bellerr.CodeInvalidState)
	ErrProcessingFailed = bellerr.New("turn processing failed").WithCode(bellerr.CodeProcessingFailed)
	ErrPlaybackFailed   = bellerr.New("playback failed").WithCode(bellerr.CodePlaybackFailed)
)

func wrapCode(err error, code bellerr.Code, msg, op string) *bellerr.Error {
	return bellerr.Wrap(err, msg).WithCode(code).WithOperation(op)
}
