// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     audio
// Description: Microphone capture using PortAudio
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

	"github.com/gordonklaus/portaudio"
)

const (
	// DefaultSampleRate is the capture rate expected by Whisper-style STT
	DefaultSampleRate = 16000

	// DefaultFrameDuration is the length of one frame handed to onFrame
	DefaultFrameDuration = 100 * time.Millisecond
)

// CaptureConfig holds configuration for audio capture
type CaptureConfig struct {
	SampleRate    int
	FrameDuration time.Duration
	DeviceName    string // empty or "default" selects the default input
}

// DefaultCaptureConfig returns default capture configuration
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:    DefaultSampleRate,
		FrameDuration: DefaultFrameDuration,
	}
}

// Capture reads mono PCM16 frames from a PortAudio input device
type Capture struct {
	mu          sync.Mutex
	cfg         CaptureConfig
	stream      *portaudio.Stream
	running     bool
	done        chan struct{}
	initialized bool
}

// NewCapture initializes PortAudio and creates a capture instance
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &Capture{cfg: cfg, initialized: true}, nil
}

// RequestPermission opens and closes the input device so that a refused
// microphone permission surfaces before the session starts.
func (c *Capture) RequestPermission(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	buffer := make([]int16, c.framesPerBuffer())
	stream, err := c.open(buffer)
	if err != nil {
		return false, err
	}
	if err := stream.Close(); err != nil {
		return false, fmt.Errorf("failed to close audio stream: %w", err)
	}
	return true, nil
}

// StartCapture starts the read loop. onFrame receives a fresh PCM16 slice
// per frame and is called from the loop goroutine.
func (c *Capture) StartCapture(onFrame func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("capture already running")
	}

	buffer := make([]int16, c.framesPerBuffer())
	stream, err := c.open(buffer)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	c.stream = stream
	c.running = true
	c.done = make(chan struct{})
	go c.captureLoop(stream, buffer, onFrame, c.done)
	return nil
}

func (c *Capture) open(buffer []int16) (*portaudio.Stream, error) {
	var (
		stream *portaudio.Stream
		err    error
	)

	name := c.cfg.DeviceName
	if name != "" && name != "default" {
		device, findErr := findInputDevice(name)
		if findErr == nil {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   device,
					Channels: 1,
					Latency:  device.DefaultLowInputLatency,
				},
				SampleRate:      float64(c.cfg.SampleRate),
				FramesPerBuffer: len(buffer),
			}
			stream, err = portaudio.OpenStream(params, buffer)
		} else {
			// unknown device falls back to the default input
			stream, err = portaudio.OpenDefaultStream(1, 0, float64(c.cfg.SampleRate), len(buffer), buffer)
		}
	} else {
		stream, err = portaudio.OpenDefaultStream(1, 0, float64(c.cfg.SampleRate), len(buffer), buffer)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	return stream, nil
}

func (c *Capture) captureLoop(stream *portaudio.Stream, buffer []int16, onFrame func([]byte), done chan struct{}) {
	defer close(done)

	for {
		if err := stream.Read(); err != nil {
			if !c.IsRunning() {
				return
			}
			// input overflow; keep reading
			continue
		}
		if !c.IsRunning() {
			return
		}
		onFrame(Int16ToBytes(buffer))
	}
}

// StopCapture stops the read loop and closes the stream. Safe to call when stopped.
func (c *Capture) StopCapture() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stream := c.stream
	done := c.done
	c.stream = nil
	c.mu.Unlock()

	// Stop unblocks a pending Read
	_ = stream.Stop()
	<-done

	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to close audio stream: %w", err)
	}
	return nil
}

// Close stops capture and terminates PortAudio
func (c *Capture) Close() error {
	if err := c.StopCapture(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		if err := portaudio.Terminate(); err != nil {
			return fmt.Errorf("failed to terminate PortAudio: %w", err)
		}
		c.initialized = false
	}
	return nil
}

// IsRunning returns whether capture is currently running
func (c *Capture) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Capture) framesPerBuffer() int {
	return FrameBytes(c.cfg.SampleRate, c.cfg.FrameDuration) / 2
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// DeviceInfo holds information about an input device
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}

// ListInputDevices returns the available input devices
func ListInputDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var inputs []DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}
		inputs = append(inputs, DeviceInfo{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefault:         dev.Name == defaultName,
		})
	}
	return inputs, nil
}
