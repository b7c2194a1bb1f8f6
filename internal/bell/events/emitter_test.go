package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bellerr "github.com/msto63/bell/pkg/core/error"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func TestEmitter_DeliversInOrder(t *testing.T) {
	e := NewEmitter()
	rec := &recorder{}
	e.Subscribe(rec.Handle)

	want := []Type{TypeSpeechStarted, TypeProcessing, TypeTranscribed, TypeResponded, TypeSpeaking, TypeTurnCompleted}
	for _, typ := range want {
		require.True(t, e.Emit(Event{Type: typ}))
	}
	e.Close()

	assert.Equal(t, want, rec.types())
}

func TestEmitter_TerminalClosesStream(t *testing.T) {
	e := NewEmitter()
	rec := &recorder{}
	e.Subscribe(rec.Handle)

	assert.True(t, e.Emit(Event{Type: TypeError, Err: errors.New("boom")}))
	assert.True(t, e.IsClosed())
	assert.False(t, e.Emit(Event{Type: TypeListening}))

	require.True(t, e.Reopen())
	assert.False(t, e.IsClosed())
	assert.True(t, e.Emit(Event{Type: TypeListening}))
	assert.True(t, e.Emit(Event{Type: TypeStopped}))
	assert.False(t, e.Emit(Event{Type: TypeStopped}))
	e.Close()

	assert.Equal(t, []Type{TypeError, TypeListening, TypeStopped}, rec.types())
	assert.False(t, e.Reopen(), "Reopen after Close")
}

func TestEmitter_PanickingListenerIsolated(t *testing.T) {
	e := NewEmitter()
	rec := &recorder{}
	e.Subscribe(func(Event) { panic("listener bug") })
	e.Subscribe(rec.Handle)

	e.Emit(Event{Type: TypeSpeechStarted})
	e.Emit(Event{Type: TypeProcessing})
	e.Close()

	assert.Equal(t, []Type{TypeSpeechStarted, TypeProcessing}, rec.types())
}

func TestEmitter_BlockedListenerDoesNotBlockOthers(t *testing.T) {
	e := NewEmitter()
	release := make(chan struct{})
	e.Subscribe(func(Event) { <-release })

	got := make(chan Type, 10)
	e.Subscribe(func(ev Event) { got <- ev.Type })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			e.Emit(Event{Type: TypeListening})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow listener")
	}

	for i := 0; i < 5; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatalf("fast listener received %d of 5 events", i)
		}
	}

	close(release)
	e.Close()
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter()
	rec := &recorder{}
	unsubscribe := e.Subscribe(rec.Handle)

	e.Emit(Event{Type: TypeListening})
	unsubscribe()
	unsubscribe()
	e.Emit(Event{Type: TypeSpeechStarted})
	e.Close()

	assert.Equal(t, []Type{TypeListening}, rec.types())
}

func TestEmitter_SubscribeAfterClose(t *testing.T) {
	e := NewEmitter()
	e.Close()
	e.Close()

	unsubscribe := e.Subscribe(func(Event) { t.Error("listener called after Close") })
	unsubscribe()
	assert.False(t, e.Emit(Event{Type: TypeListening}))
}

func TestEvent_MarshalJSON(t *testing.T) {
	ts := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	err := bellerr.New("stt down").WithCode(bellerr.CodeProcessingFailed)

	data, mErr := json.Marshal(Event{Type: TypeError, SessionID: "s1", Time: ts, Err: err})
	require.NoError(t, mErr)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "error", m["type"])
	assert.Equal(t, "s1", m["session_id"])
	assert.Equal(t, "PROCESSING_FAILED", m["error_code"])
	assert.Contains(t, m["error"], "stt down")
	assert.NotContains(t, m, "audio_level")

	data, mErr = json.Marshal(Event{Type: TypeListening, Time: ts})
	require.NoError(t, mErr)
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, 0.0, m["audio_level"])
}

func TestEmitter_ShutdownFromListener(t *testing.T) {
	e := NewEmitter()
	got := make(chan Type, 4)
	e.Subscribe(func(ev Event) {
		got <- ev.Type
		if ev.Type == TypeSpeechStarted {
			e.Shutdown()
		}
	})

	e.Emit(Event{Type: TypeSpeechStarted})
	require.Eventually(t, e.IsClosed, time.Second, 5*time.Millisecond)
	assert.False(t, e.Emit(Event{Type: TypeProcessing}))
	assert.False(t, e.Reopen())

	e.Wait()
	close(got)
	var types []Type
	for typ := range got {
		types = append(types, typ)
	}
	assert.Equal(t, []Type{TypeSpeechStarted}, types)
}
