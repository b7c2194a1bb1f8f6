package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/msto63/bell/internal/bell/audio"
	"github.com/msto63/bell/internal/bell/capability"
	"github.com/msto63/bell/internal/bell/events"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeCapture hands frames to the session when the test feeds them.
// Each fed frame advances the clock by one frame duration.
type fakeCapture struct {
	clock *fakeClock
	frame time.Duration

	mu         sync.Mutex
	onFrame    func([]byte)
	starts     int
	denied     bool
	permission error
}

func (c *fakeCapture) RequestPermission(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.permission != nil {
		return false, c.permission
	}
	return !c.denied, nil
}

func (c *fakeCapture) StartCapture(onFrame func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = onFrame
	c.starts++
	return nil
}

func (c *fakeCapture) StopCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = nil
	return nil
}

func (c *fakeCapture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onFrame != nil
}

func (c *fakeCapture) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// Feed delivers frames while capture is running and returns how many were taken
func (c *fakeCapture) Feed(frames ...[]byte) int {
	n := 0
	for _, f := range frames {
		c.mu.Lock()
		fn := c.onFrame
		c.mu.Unlock()
		if fn == nil {
			return n
		}
		c.clock.Advance(c.frame)
		fn(f)
		n++
	}
	return n
}

type fakePlayer struct {
	mu     sync.Mutex
	played [][]byte
	err    error
	block  bool
	stops  int
}

func (p *fakePlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	p.mu.Lock()
	p.played = append(p.played, pcm)
	err, block := p.err, p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

type fakeSTT struct {
	mu      sync.Mutex
	text    string
	err     error
	block   bool
	entered chan struct{}
	calls   int
	lang    string
	ready   error
}

func (f *fakeSTT) Transcribe(ctx context.Context, pcm []byte, lang string) (capability.Transcription, error) {
	f.mu.Lock()
	f.calls++
	f.lang = lang
	text, err, block, entered := f.text, f.err, f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block {
		<-ctx.Done()
		return capability.Transcription{}, ctx.Err()
	}
	if err != nil {
		return capability.Transcription{}, err
	}
	return capability.Transcription{Text: text, Language: lang, Confidence: 0.9}, nil
}

func (f *fakeSTT) Ready(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSTT) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLLM struct {
	mu     sync.Mutex
	reply  string
	err    error
	prompt string
	opts   capability.GenerateOptions
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts capability.GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompt = prompt
	f.opts = opts
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeTTS struct {
	err error
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) (capability.Speech, error) {
	if f.err != nil {
		return capability.Speech{}, f.err
	}
	return capability.Speech{Audio: make([]byte, 4410), SampleRate: 22050}, nil
}

var errBackend = errors.New("backend exploded")

// recorder collects every event delivered to it
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) listen(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Types returns the recorded event types without Listening updates
func (r *recorder) Types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, ev := range r.events {
		if ev.Type == events.TypeListening {
			continue
		}
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) Count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) Last(t events.Type) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return events.Event{}, false
}

const testAmplitude = 8000

func toneFrame(samples int) []byte {
	pcm := make([]int16, samples)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = testAmplitude
		} else {
			pcm[i] = -testAmplitude
		}
	}
	return audio.Int16ToBytes(pcm)
}

func silenceFrame(samples int) []byte {
	return make([]byte, samples*2)
}

func repeat(frame []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = frame
	}
	return out
}
