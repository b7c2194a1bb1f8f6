package audio

import (
	"context"
	"sync"
	"testing"
	"time"
)

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) add(f []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *frameSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestNewReplay_Validation(t *testing.T) {
	if _, err := NewReplay(nil, 0, 100*time.Millisecond, 0, 1); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := NewReplay(nil, 16000, 100*time.Millisecond, 0, -1); err == nil {
		t.Error("expected error for negative speed")
	}
}

func TestReplay_PadsAndAppendsSilence(t *testing.T) {
	// 2.5 frames of audio plus 300ms of silence
	pcm := make([]byte, 3200*2+1600)
	r, err := NewReplay(pcm, 16000, 100*time.Millisecond, 300*time.Millisecond, 0)
	if err != nil {
		t.Fatal(err)
	}
	if r.Remaining() != 6 {
		t.Errorf("Remaining() = %d, want 6", r.Remaining())
	}

	sink := &frameSink{}
	if err := r.StartCapture(sink.add); err != nil {
		t.Fatal(err)
	}
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("replay never finished")
	}
	_ = r.StopCapture()

	if sink.len() != 6 {
		t.Fatalf("delivered %d frames, want 6", sink.len())
	}
	for i, f := range sink.frames {
		if len(f) != 3200 {
			t.Errorf("frame %d has %d bytes, want 3200", i, len(f))
		}
	}
}

func TestReplay_ResumesAfterStop(t *testing.T) {
	pcm := make([]byte, 3200*50)
	r, err := NewReplay(pcm, 16000, 100*time.Millisecond, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	start := r.Now()

	sink := &frameSink{}
	if err := r.StartCapture(sink.add); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for sink.len() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := r.StopCapture(); err != nil {
		t.Fatal(err)
	}

	delivered := sink.len()
	if got := r.Remaining(); got != 50-delivered {
		t.Errorf("Remaining() = %d, want %d", got, 50-delivered)
	}
	if got := r.Now().Sub(start); got != time.Duration(delivered)*100*time.Millisecond {
		t.Errorf("clock advanced %v, want %v", got, time.Duration(delivered)*100*time.Millisecond)
	}

	if err := r.StartCapture(sink.add); err != nil {
		t.Fatal(err)
	}
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replay never finished")
	}
	_ = r.StopCapture()
	if sink.len() != 50 {
		t.Errorf("delivered %d frames in total, want 50", sink.len())
	}
}

func TestReplay_Permission(t *testing.T) {
	r, _ := NewReplay(nil, 16000, 100*time.Millisecond, 0, 1)
	ok, err := r.RequestPermission(context.Background())
	if !ok || err != nil {
		t.Errorf("RequestPermission() = %v, %v", ok, err)
	}
}
