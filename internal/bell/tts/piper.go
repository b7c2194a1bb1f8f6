// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     tts
// Description: Piper text-to-speech backend
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/msto63/bell/internal/bell/capability"
)

// DefaultSampleRate is Piper's output rate for medium-quality voices
const DefaultSampleRate = 22050

// Config holds Piper configuration
type Config struct {
	BinaryPath string
	ModelPath  string

	// SampleRate overrides the rate read from the model config
	SampleRate int
}

// Piper runs the Piper CLI and returns raw PCM16
type Piper struct {
	binaryPath string
	modelPath  string
	configPath string
	sampleRate int
	espeakData string
}

// NewPiper verifies the binary, model and model config exist
func NewPiper(cfg Config) (*Piper, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("piper binary path is required")
	}
	if _, err := os.Stat(cfg.BinaryPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("piper binary not found: %s", cfg.BinaryPath)
	}

	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	configPath := cfg.ModelPath + ".json"
	modelRate, err := readModelSampleRate(configPath)
	if err != nil {
		return nil, err
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = modelRate
	}
	if rate <= 0 {
		rate = DefaultSampleRate
	}

	espeakData := filepath.Join(filepath.Dir(cfg.BinaryPath), "espeak-ng-data")
	if _, err := os.Stat(espeakData); err != nil {
		espeakData = ""
	}

	return &Piper{
		binaryPath: cfg.BinaryPath,
		modelPath:  cfg.ModelPath,
		configPath: configPath,
		sampleRate: rate,
		espeakData: espeakData,
	}, nil
}

// readModelSampleRate reads audio.sample_rate from the voice's JSON config
func readModelSampleRate(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("model config not found: %s", path)
	}

	var cfg struct {
		Audio struct {
			SampleRate int `json:"sample_rate"`
		} `json:"audio"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("invalid model config %s: %w", path, err)
	}
	return cfg.Audio.SampleRate, nil
}

// Synthesize pipes text into Piper and returns its raw output
func (p *Piper) Synthesize(ctx context.Context, text string) (capability.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return capability.Speech{Audio: []byte{}, SampleRate: p.sampleRate}, nil
	}

	cmd := exec.CommandContext(ctx, p.binaryPath, p.args()...)
	cmd.Stdin = strings.NewReader(text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// shared libraries ship next to the binary
	cmd.Dir = filepath.Dir(p.binaryPath)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("DYLD_LIBRARY_PATH=%s", cmd.Dir),
		fmt.Sprintf("LD_LIBRARY_PATH=%s", cmd.Dir),
	)

	if err := cmd.Run(); err != nil {
		return capability.Speech{}, fmt.Errorf("piper failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return capability.Speech{Audio: stdout.Bytes(), SampleRate: p.sampleRate}, nil
}

func (p *Piper) args() []string {
	args := []string{
		"--model", p.modelPath,
		"--config", p.configPath,
		"--output_raw",
	}
	if p.espeakData != "" {
		args = append(args, "--espeak_data", p.espeakData)
	}
	return args
}

// SampleRate returns the output sample rate
func (p *Piper) SampleRate() int {
	return p.sampleRate
}

// Ready checks that the binary is still present and executable
func (p *Piper) Ready(ctx context.Context) error {
	info, err := os.Stat(p.binaryPath)
	if err != nil {
		return fmt.Errorf("piper binary not found: %s", p.binaryPath)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("piper binary not executable: %s", p.binaryPath)
	}
	return nil
}
