// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     audio
// Description: PCM16 conversion helpers
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package audio

import (
	"encoding/binary"
	"time"
)

// Int16ToBytes converts samples to little-endian PCM16
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 converts little-endian PCM16 to samples. A trailing odd byte is ignored.
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// Int16ToFloat32 converts samples to [-1, 1) floats for PortAudio output
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// FrameBytes returns the PCM16 mono size of one frame
func FrameBytes(sampleRate int, frame time.Duration) int {
	return MinUtteranceBytes(sampleRate, frame)
}

// Frames splits pcm into frameBytes-sized frames. The last frame may be shorter.
func Frames(pcm []byte, frameBytes int) [][]byte {
	if frameBytes <= 0 || len(pcm) == 0 {
		return nil
	}

	frames := make([][]byte, 0, (len(pcm)+frameBytes-1)/frameBytes)
	for start := 0; start < len(pcm); start += frameBytes {
		end := start + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		frames = append(frames, pcm[start:end])
	}
	return frames
}
