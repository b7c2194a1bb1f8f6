// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     audio
// Description: Player that writes every reply to a numbered WAV file
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// WAVSink stands in for a speaker when replaying recordings offline
type WAVSink struct {
	dir string

	mu    sync.Mutex
	count int
	files []string
}

// NewWAVSink creates dir if needed
func NewWAVSink(dir string) (*WAVSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &WAVSink{dir: dir}, nil
}

// Play writes pcm to reply-NNN.wav
func (s *WAVSink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeWAV(pcm, sampleRate)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.count++
	path := filepath.Join(s.dir, fmt.Sprintf("reply-%03d.wav", s.count))
	s.mu.Unlock()

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}

	s.mu.Lock()
	s.files = append(s.files, path)
	s.mu.Unlock()
	return nil
}

// Stop is a no-op; writes are not interruptible
func (s *WAVSink) Stop() error {
	return nil
}

// Files returns the paths written so far
func (s *WAVSink) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}
