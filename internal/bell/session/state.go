// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     session
// Description: Turn-taking state machine
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package session

import (
	"sync"
	"time"
)

// State represents the current state of a voice session
type State int

const (
	// StateIdle - created, not yet started
	StateIdle State = iota

	// StateListening - capturing, waiting for speech
	StateListening

	// StateSpeechAccumulating - user is speaking, frames are buffered
	StateSpeechAccumulating

	// StateProcessing - STT and LLM in flight, capture stopped
	StateProcessing

	// StateSpeaking - reply is being played
	StateSpeaking

	// StateStopped - terminal
	StateStopped

	// StateError - a turn failed; Start may be called again
	StateError
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSpeechAccumulating:
		return "speech_accumulating"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Capturing reports whether the microphone is open in this state
func (s State) Capturing() bool {
	return s == StateListening || s == StateSpeechAccumulating
}

var validTransitions = map[State][]State{
	StateIdle:               {StateListening, StateStopped, StateError},
	StateListening:          {StateSpeechAccumulating, StateStopped, StateError},
	StateSpeechAccumulating: {StateListening, StateProcessing, StateStopped, StateError},
	StateProcessing:         {StateSpeaking, StateListening, StateStopped, StateError},
	StateSpeaking:           {StateListening, StateStopped, StateError},
	StateError:              {StateListening, StateStopped},
	StateStopped:            {},
}

// StateChangeListener is called after every successful transition
type StateChangeListener func(oldState, newState State)

// StateMachine guards state transitions
type StateMachine struct {
	mu            sync.RWMutex
	currentState  State
	previousState State
	stateTime     time.Time
	now           func() time.Time
	listeners     []StateChangeListener
}

// NewStateMachine creates a state machine in StateIdle
func NewStateMachine(now func() time.Time) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{
		currentState: StateIdle,
		stateTime:    now(),
		now:          now,
	}
}

// Current returns the current state
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// Previous returns the previous state
func (sm *StateMachine) Previous() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.previousState
}

// StateDuration returns how long the current state has lasted
func (sm *StateMachine) StateDuration() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.now().Sub(sm.stateTime)
}

// Transition moves to newState. It returns false for an illegal move.
func (sm *StateMachine) Transition(newState State) bool {
	sm.mu.Lock()
	oldState := sm.currentState
	if !isValidTransition(oldState, newState) {
		sm.mu.Unlock()
		return false
	}

	sm.previousState = oldState
	sm.currentState = newState
	sm.stateTime = sm.now()
	listeners := sm.listeners
	sm.mu.Unlock()

	for _, listener := range listeners {
		listener(oldState, newState)
	}
	return true
}

// AddListener adds a state change listener
func (sm *StateMachine) AddListener(listener StateChangeListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

func isValidTransition(from, to State) bool {
	for _, valid := range validTransitions[from] {
		if valid == to {
			return true
		}
	}
	return false
}
