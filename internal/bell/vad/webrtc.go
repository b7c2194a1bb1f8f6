// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     vad
// Description: WebRTC VAD confirmation gate
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package vad

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// WebRTCGate confirms energy candidates with WebRTC's GMM voice classifier
type WebRTCGate struct {
	mu         sync.Mutex
	vad        *webrtcvad.VAD
	sampleRate int
	mode       int
}

var validRates = []int{8000, 16000, 32000, 48000}

// NewWebRTCGate creates a gate. The mode (0-3) is clamped; higher is more aggressive.
func NewWebRTCGate(sampleRate, mode int) (*WebRTCGate, error) {
	valid := false
	for _, r := range validRates {
		if sampleRate == r {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("invalid sample rate %d, must be one of %v", sampleRate, validRates)
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC VAD: %w", err)
	}

	mode = int(clamp(float64(mode), 0, 3))
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set VAD mode: %w", err)
	}

	return &WebRTCGate{vad: v, sampleRate: sampleRate, mode: mode}, nil
}

// IsVoice reports whether any 10 ms sub-frame of the PCM16 frame is voiced.
// Short frames are zero-padded to one sub-frame.
func (g *WebRTCGate) IsVoice(frame []byte) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	size := g.subFrameBytes()
	if len(frame) < size {
		padded := make([]byte, size)
		copy(padded, frame)
		frame = padded
	}

	for i := 0; i+size <= len(frame); i += size {
		active, err := g.vad.Process(g.sampleRate, frame[i:i+size])
		if err != nil {
			return false, fmt.Errorf("VAD processing failed: %w", err)
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

// Mode returns the effective aggressiveness mode
func (g *WebRTCGate) Mode() int {
	return g.mode
}

// subFrameBytes is 10 ms of PCM16 at the gate's sample rate
func (g *WebRTCGate) subFrameBytes() int {
	return g.sampleRate / 100 * 2
}
