// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     audio
// Description: Capture source that replays recorded PCM frame by frame
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Replay feeds recorded PCM to a session as if it came from a microphone.
// Frames not delivered while capture is stopped are kept for the next start,
// so a recording is replayed once regardless of how often a session pauses
// capture for processing.
type Replay struct {
	mu         sync.Mutex
	frames     [][]byte
	next       int
	frameDur   time.Duration
	speed      float64
	running    bool
	stop       chan struct{}
	loopDone   chan struct{}
	exhausted  chan struct{}
	exhaustOne sync.Once
	epoch      time.Time
}

// NewReplay splits pcm into frames and appends trailing silence so the last
// utterance is allowed to end. speed scales playback: 1 is real time, 0
// delivers frames as fast as the consumer accepts them.
func NewReplay(pcm []byte, sampleRate int, frameDur time.Duration, trailing time.Duration, speed float64) (*Replay, error) {
	if sampleRate <= 0 || frameDur <= 0 {
		return nil, fmt.Errorf("invalid replay format: %d Hz, %s frames", sampleRate, frameDur)
	}
	if speed < 0 {
		return nil, fmt.Errorf("invalid replay speed: %v", speed)
	}

	frameBytes := FrameBytes(sampleRate, frameDur)
	frames := Frames(pcm, frameBytes)
	if n := len(frames); n > 0 && len(frames[n-1]) < frameBytes {
		padded := make([]byte, frameBytes)
		copy(padded, frames[n-1])
		frames[n-1] = padded
	}
	for d := time.Duration(0); d < trailing; d += frameDur {
		frames = append(frames, make([]byte, frameBytes))
	}

	return &Replay{
		frames:    frames,
		frameDur:  frameDur,
		speed:     speed,
		exhausted: make(chan struct{}),
		epoch:     time.Now(),
	}, nil
}

// RequestPermission always succeeds for recorded audio
func (r *Replay) RequestPermission(ctx context.Context) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

// StartCapture resumes delivery from the first undelivered frame
func (r *Replay) StartCapture(onFrame func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("replay already running")
	}
	r.running = true
	r.stop = make(chan struct{})
	r.loopDone = make(chan struct{})
	go r.loop(onFrame, r.stop, r.loopDone)
	return nil
}

// StopCapture pauses delivery and waits for the loop to exit
func (r *Replay) StopCapture() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	stop, done := r.stop, r.loopDone
	r.mu.Unlock()

	close(stop)
	<-done
	return nil
}

// Done is closed once every frame has been delivered
func (r *Replay) Done() <-chan struct{} {
	return r.exhausted
}

// Now is the recording's clock: the start time plus the audio delivered so
// far. Sessions driven by a Replay should use it so silence is measured in
// recording time at any replay speed.
func (r *Replay) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch.Add(time.Duration(r.next) * r.frameDur)
}

// Remaining returns the number of frames not yet delivered
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames) - r.next
}

func (r *Replay) loop(onFrame func([]byte), stop <-chan struct{}, done chan struct{}) {
	defer close(done)

	var ticker *time.Ticker
	if r.speed > 0 {
		ticker = time.NewTicker(time.Duration(float64(r.frameDur) / r.speed))
		defer ticker.Stop()
	}

	for {
		r.mu.Lock()
		if r.next >= len(r.frames) {
			r.mu.Unlock()
			r.exhaustOne.Do(func() { close(r.exhausted) })
			return
		}
		frame := r.frames[r.next]
		r.mu.Unlock()

		if ticker != nil {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}

		r.mu.Lock()
		r.next++
		r.mu.Unlock()
		onFrame(frame)
	}
}
