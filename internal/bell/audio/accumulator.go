// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     audio
// Description: Utterance accumulator for PCM16 frames
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package audio

import (
	"sync"
	"time"
)

// Accumulator collects the PCM16 frames of one utterance
type Accumulator struct {
	mu   sync.Mutex
	data []byte
}

// NewAccumulator creates an accumulator with room for capacityHint bytes
func NewAccumulator(capacityHint int) *Accumulator {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Accumulator{data: make([]byte, 0, capacityHint)}
}

// Append adds a frame to the end of the buffer
func (a *Accumulator) Append(frame []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = append(a.data, frame...)
}

// Drain returns the buffered bytes and empties the buffer.
// An empty accumulator yields an empty, non-nil slice.
func (a *Accumulator) Drain() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]byte, len(a.data))
	copy(out, a.data)
	a.data = a.data[:0]
	return out
}

// Reset discards the buffered bytes
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = a.data[:0]
}

// Size returns the number of buffered bytes
func (a *Accumulator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}

// Duration returns the buffered audio length at the given sample rate
func (a *Accumulator) Duration(sampleRate int) time.Duration {
	return BytesDuration(a.Size(), sampleRate)
}

// MinUtteranceBytes converts a minimum utterance length to PCM16 mono bytes
func MinUtteranceBytes(sampleRate int, d time.Duration) int {
	if sampleRate <= 0 || d <= 0 {
		return 0
	}
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return samples * 2
}

// BytesDuration converts a PCM16 mono byte count to its playing time
func BytesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n/2) * int64(time.Second) / int64(sampleRate))
}
