// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     events
// Description: Ordered, non-blocking fan-out of session events
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package events

import (
	"sync"

	"github.com/msto63/bell/pkg/core/logging"
)

// Listener receives events in emission order
type Listener func(Event)

// Emitter delivers events to subscribers. Each subscriber has its own
// unbounded queue and goroutine, so Emit never blocks on a listener.
// A Stopped or Error event closes the stream; later events are dropped
// until Reopen.
type Emitter struct {
	mu       sync.Mutex
	subs     map[uint64]*subscriber
	nextID   uint64
	closed   bool
	shutdown bool
	draining []*subscriber
	logger   *logging.Logger
}

// NewEmitter creates an open emitter
func NewEmitter() *Emitter {
	return &Emitter{
		subs:   make(map[uint64]*subscriber),
		logger: logging.New("bell-events"),
	}
}

// Subscribe registers a listener and returns a function that removes it.
// Events already queued for the listener are still delivered.
func (e *Emitter) Subscribe(fn Listener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown || fn == nil {
		return func() {}
	}

	id := e.nextID
	e.nextID++
	sub := newSubscriber(fn, e.logger)
	e.subs[id] = sub
	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			s, ok := e.subs[id]
			delete(e.subs, id)
			e.mu.Unlock()
			if ok {
				s.close()
			}
		})
	}
}

// Emit queues ev for every subscriber. It returns false if the stream is closed.
func (e *Emitter) Emit(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.shutdown {
		e.logger.Debug("Dropping event on closed stream", "type", string(ev.Type))
		return false
	}

	for _, sub := range e.subs {
		sub.push(ev)
	}
	if ev.Type.IsTerminal() {
		e.closed = true
	}
	return true
}

// Reopen re-arms a stream closed by a terminal event. It has no effect after Close.
func (e *Emitter) Reopen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown {
		return false
	}
	e.closed = false
	return true
}

// IsClosed reports whether events are currently being dropped
func (e *Emitter) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed || e.shutdown
}

// Shutdown closes the stream for good and lets every subscriber drain its
// queue. It does not wait, so it is safe to call from a listener.
func (e *Emitter) Shutdown() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true
	e.closed = true
	subs := make([]*subscriber, 0, len(e.subs))
	for id, sub := range e.subs {
		subs = append(subs, sub)
		delete(e.subs, id)
	}
	e.draining = append(e.draining, subs...)
	e.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// Wait blocks until every listener drained by Shutdown has returned
func (e *Emitter) Wait() {
	e.mu.Lock()
	subs := e.draining
	e.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}

// Close shuts the stream down and waits for the listeners to return.
// It must not be called from inside a listener.
func (e *Emitter) Close() {
	e.Shutdown()
	e.Wait()
}

type subscriber struct {
	fn     Listener
	logger *logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	closing bool
	done    chan struct{}
}

func newSubscriber(fn Listener, logger *logging.Logger) *subscriber {
	s := &subscriber{fn: fn, logger: logger, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if !s.closing {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closing {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliver(ev)
	}
}

func (s *subscriber) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Event listener panicked", "type", string(ev.Type), "panic", r)
		}
	}()
	s.fn(ev)
}
