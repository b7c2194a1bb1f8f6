// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     ptt
// Description: Global push-to-talk hotkey that ends the current utterance
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

// Package ptt binds a global Ctrl+Shift hotkey to Session.SendNow
package ptt

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.design/x/hotkey"

	bellerr "github.com/msto63/bell/pkg/core/error"
	"github.com/msto63/bell/pkg/core/logging"
)

// Trigger is what a key press fires
type Trigger interface {
	SendNow() bool
}

var keys = map[string]hotkey.Key{
	"space": hotkey.KeySpace,
	"enter": hotkey.KeyReturn,
	"m":     hotkey.KeyM,
	"t":     hotkey.KeyT,
}

// ParseKey maps a configured key name to a hotkey key
func ParseKey(name string) (hotkey.Key, error) {
	k, ok := keys[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, bellerr.Newf(bellerr.CodeInvalidConfig, "unsupported push-to-talk key %q", name)
	}
	return k, nil
}

// Shortcut describes the key combination for display
func Shortcut(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ""
	}
	return "Ctrl+Shift+" + strings.ToUpper(n[:1]) + n[1:]
}

// Hotkey listens for the push-to-talk shortcut
type Hotkey struct {
	hk       *hotkey.Hotkey
	target   Trigger
	shortcut string
	logger   *logging.Logger

	once sync.Once
	done chan struct{}
}

// Supported reports whether global hotkeys can be registered on this platform.
// Registration crashes outside the main thread on macOS, so it is disabled there.
func Supported() bool {
	return runtime.GOOS != "darwin"
}

// Register grabs Ctrl+Shift+<key> and returns a Hotkey bound to target
func Register(key string, target Trigger) (*Hotkey, error) {
	if !Supported() {
		return nil, bellerr.Newf(bellerr.CodeInvalidState, "global hotkeys are not supported on %s", runtime.GOOS)
	}
	k, err := ParseKey(key)
	if err != nil {
		return nil, err
	}

	hk := hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, k)
	if err := hk.Register(); err != nil {
		return nil, fmt.Errorf("failed to register hotkey: %w", err)
	}

	h := &Hotkey{
		hk:       hk,
		target:   target,
		shortcut: Shortcut(key),
		logger:   logging.New("bell-ptt"),
		done:     make(chan struct{}),
	}
	h.logger.Info("Hotkey registered", "shortcut", h.shortcut)
	return h, nil
}

// Run forwards key presses to the target until ctx is done or Close is called
func (h *Hotkey) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case <-h.hk.Keydown():
			sent := h.target.SendNow()
			h.logger.Debug("Hotkey pressed", "shortcut", h.shortcut, "sent", sent)
		}
	}
}

// Close releases the shortcut
func (h *Hotkey) Close() error {
	var err error
	h.once.Do(func() {
		close(h.done)
		err = h.hk.Unregister()
	})
	return err
}
