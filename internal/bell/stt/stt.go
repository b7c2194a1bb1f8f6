// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     stt
// Description: HTTP speech-to-text backends
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds STT backend configuration
type Config struct {
	// BaseURL of the server, without the /v1 path
	BaseURL string

	// Model is sent by OpenAICompatible; WhisperHTTP ignores it
	Model string

	// SampleRate of the PCM16 audio handed to Transcribe
	SampleRate int

	Timeout time.Duration
}

// DefaultConfig returns default configuration for a local whisper.cpp server
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:8178",
		SampleRate: 16000,
		Timeout:    30 * time.Second,
	}
}

const transcriptionsPath = "/v1/audio/transcriptions"

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &http.Client{Timeout: timeout}
}

// ready probes baseURL+path and treats any non-5xx answer as reachable
func ready(ctx context.Context, client *http.Client, baseURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("STT server unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("STT server returned %d", resp.StatusCode)
	}
	return nil
}

func trimBaseURL(u string) string {
	return strings.TrimRight(u, "/")
}
