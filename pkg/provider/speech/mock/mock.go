// Package mock provides test doubles for the speech device interfaces.
//
// Recognizer hands out scripted Capture handles whose Results/Errs channels
// the test drives directly via Emit and EmitErr. Synthesizer records every
// utterance and returns Playback values the test resolves via Start and
// Complete (or automatically, with AutoComplete).
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxprep/voxprep/pkg/provider/speech"
)

// ---- Recognizer ----

// StartCaptureCall records a single invocation of StartCapture.
type StartCaptureCall struct {
	// Config is the CaptureConfig passed to StartCapture.
	Config speech.CaptureConfig
}

// Recognizer is a mock implementation of speech.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// StartCaptureErr, if non-nil, is returned by every StartCapture call.
	StartCaptureErr error

	// Handles is a queue of capture handles returned in order. When empty,
	// StartCapture creates and returns a fresh *Capture.
	Handles []*Capture

	// StartCaptureCalls records every invocation in order.
	StartCaptureCalls []StartCaptureCall

	// created collects auto-created handles so tests can reach them.
	created []*Capture
}

// Compile-time interface assertion.
var _ speech.Recognizer = (*Recognizer)(nil)

// StartCapture implements speech.Recognizer.
func (r *Recognizer) StartCapture(_ context.Context, cfg speech.CaptureConfig) (speech.CaptureHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.StartCaptureCalls = append(r.StartCaptureCalls, StartCaptureCall{Config: cfg})
	if r.StartCaptureErr != nil {
		return nil, r.StartCaptureErr
	}
	if len(r.Handles) > 0 {
		h := r.Handles[0]
		r.Handles = r.Handles[1:]
		return h, nil
	}
	h := NewCapture()
	r.created = append(r.created, h)
	return h, nil
}

// CaptureCount returns the number of StartCapture invocations.
func (r *Recognizer) CaptureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.StartCaptureCalls)
}

// LastCapture returns the most recently auto-created handle, or nil.
func (r *Recognizer) LastCapture() *Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.created) == 0 {
		return nil
	}
	return r.created[len(r.created)-1]
}

// Capture is a scripted speech.CaptureHandle.
type Capture struct {
	results chan speech.Result
	errs    chan error

	mu     sync.Mutex
	closed bool
	audio  [][]byte

	// CloseCount is the number of Close invocations.
	CloseCount int
}

// Compile-time interface assertions.
var (
	_ speech.CaptureHandle = (*Capture)(nil)
	_ speech.AudioSink     = (*Capture)(nil)
)

// NewCapture creates a Capture with buffered event channels.
func NewCapture() *Capture {
	return &Capture{
		results: make(chan speech.Result, 16),
		errs:    make(chan error, 16),
	}
}

// Emit delivers a transcription result to the handle's consumer.
func (c *Capture) Emit(res speech.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.results <- res
}

// EmitErr delivers a device error to the handle's consumer.
func (c *Capture) EmitErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.errs <- err
}

// SendAudio implements speech.AudioSink, recording each relayed chunk.
func (c *Capture) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("mock: capture is closed")
	}
	c.audio = append(c.audio, append([]byte(nil), chunk...))
	return nil
}

// AudioChunks returns the PCM chunks relayed via SendAudio, in order.
func (c *Capture) AudioChunks() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.audio...)
}

// Results implements speech.CaptureHandle.
func (c *Capture) Results() <-chan speech.Result { return c.results }

// Errs implements speech.CaptureHandle.
func (c *Capture) Errs() <-chan error { return c.errs }

// Close implements speech.CaptureHandle. The event channels are closed so
// consumer loops terminate.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.results)
	close(c.errs)
	return nil
}

// Closed reports whether Close has been called.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ---- Synthesizer ----

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the utterance text passed to Synthesize.
	Text string

	// Voice is the VoiceOptions passed to Synthesize.
	Voice speech.VoiceOptions
}

// Synthesizer is a mock implementation of speech.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// SynthesizeErr, if non-nil, is returned by every Synthesize call.
	SynthesizeErr error

	// AutoComplete, when true, resolves each returned playback immediately:
	// Started closes and Done delivers nil without test intervention.
	AutoComplete bool

	// SynthesizeCalls records every invocation in order.
	SynthesizeCalls []SynthesizeCall

	// Playbacks collects the playbacks returned, in order.
	Playbacks []*Playback
}

// Compile-time interface assertion.
var _ speech.Synthesizer = (*Synthesizer)(nil)

// Synthesize implements speech.Synthesizer.
func (s *Synthesizer) Synthesize(_ context.Context, text string, voice speech.VoiceOptions) (speech.Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if s.SynthesizeErr != nil {
		return nil, s.SynthesizeErr
	}

	pb := NewPlayback()
	s.Playbacks = append(s.Playbacks, pb)
	if s.AutoComplete {
		pb.Start()
		pb.Complete(nil)
	}
	return pb, nil
}

// CallCount returns the number of Synthesize invocations.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SynthesizeCalls)
}

// LastPlayback returns the most recently returned playback, or nil.
func (s *Synthesizer) LastPlayback() *Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Playbacks) == 0 {
		return nil
	}
	return s.Playbacks[len(s.Playbacks)-1]
}

// Texts returns the utterance texts passed to Synthesize, in order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SynthesizeCalls))
	for i, c := range s.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Playback is a test-controlled speech.Playback. Its Audio channel is
// unbuffered, so EmitAudio blocks until a consumer takes the chunk.
type Playback struct {
	started chan struct{}
	done    chan error
	audio   chan []byte

	startOnce sync.Once
	doneOnce  sync.Once

	mu          sync.Mutex
	cancelCount int
}

// Compile-time interface assertions.
var (
	_ speech.Playback    = (*Playback)(nil)
	_ speech.AudioSource = (*Playback)(nil)
)

// NewPlayback creates an unresolved Playback.
func NewPlayback() *Playback {
	return &Playback{
		started: make(chan struct{}),
		done:    make(chan error, 1),
		audio:   make(chan []byte),
	}
}

// Start marks audio output as begun. Idempotent.
func (p *Playback) Start() {
	p.startOnce.Do(func() { close(p.started) })
}

// EmitAudio delivers one PCM chunk on the audio channel, blocking until it is
// consumed. Must not be called after Complete.
func (p *Playback) EmitAudio(pcm []byte) {
	p.audio <- pcm
}

// Complete delivers the terminal status and closes the audio channel.
// Idempotent; only the first call wins.
func (p *Playback) Complete(err error) {
	p.doneOnce.Do(func() {
		close(p.audio)
		p.done <- err
		close(p.done)
	})
}

// Audio implements speech.AudioSource.
func (p *Playback) Audio() <-chan []byte { return p.audio }

// Started implements speech.Playback.
func (p *Playback) Started() <-chan struct{} { return p.started }

// Done implements speech.Playback.
func (p *Playback) Done() <-chan error { return p.done }

// Cancel implements speech.Playback. Cancelled playbacks complete with nil.
func (p *Playback) Cancel() {
	p.mu.Lock()
	p.cancelCount++
	p.mu.Unlock()
	p.Complete(nil)
}

// CancelCount returns the number of Cancel invocations.
func (p *Playback) CancelCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelCount
}
