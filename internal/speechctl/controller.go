// Package speechctl implements the speech coordination controller: the
// half-duplex gate between "the system is listening" and "the system is
// talking" for one interview session.
//
// Three independent flags combine into the effective capture predicate
// (recording, muted-for-response, speaking); capture is only ever open when
// recording is on and both gates are off, so the system never transcribes its
// own synthesized voice. The controller owns three independent timers
// (debounce, restart, resume), each individually cancelable, and is the only
// component that touches the speech device handles.
package speechctl

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/pkg/provider/speech"
)

// ErrClosed is returned by operations on a controller after Close.
var ErrClosed = errors.New("speechctl: controller closed")

// Config holds the controller's timing and chunking tunables. The zero value
// is usable; empty fields take the defaults below.
type Config struct {
	// Language is the BCP-47 recognition language tag.
	Language string

	// Voice selects the synthesis voice.
	Voice speech.VoiceOptions

	// DebounceWindow is the inactivity window after a final transcript before
	// the buffered text is promoted to an utterance. Default 3s.
	DebounceWindow time.Duration

	// QuietDelay is the pause between synthesis finishing and capture
	// resuming, so the audio tail is not transcribed. Default 2s.
	QuietDelay time.Duration

	// QuietDelayShort replaces QuietDelay when the device reports that raw
	// audio output has actually ended. Default 500ms.
	QuietDelayShort time.Duration

	// RestartMaxAttempts bounds consecutive capture restart attempts before
	// the session is abandoned. Default 3.
	RestartMaxAttempts int

	// RestartDelay is the pause before each restart attempt. Default 1s.
	RestartDelay time.Duration

	// ChunkMaxChars caps each synthesis chunk. Default 5000.
	ChunkMaxChars int
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 3 * time.Second
	}
	if c.QuietDelay <= 0 {
		c.QuietDelay = 2 * time.Second
	}
	if c.QuietDelayShort <= 0 {
		c.QuietDelayShort = 500 * time.Millisecond
	}
	if c.RestartMaxAttempts <= 0 {
		c.RestartMaxAttempts = 3
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = time.Second
	}
	if c.ChunkMaxChars <= 0 {
		c.ChunkMaxChars = 5000
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	return c
}

// Callbacks are the controller's outbound events. Nil callbacks are skipped.
// Callbacks are invoked from the controller's internal goroutines without the
// controller lock held, so they may call back into the controller.
type Callbacks struct {
	// OnInterim delivers partial transcripts for live display. Interim text
	// never enters the transcript buffer.
	OnInterim func(text string)

	// OnUtterance delivers a debounced final utterance, the candidate answer
	// handed to the pipeline.
	OnUtterance func(text string)

	// OnSpeechStart fires when the first audio of an utterance starts playing.
	OnSpeechStart func()

	// OnSpeechEnd fires once after the last chunk of an utterance finishes.
	OnSpeechEnd func()

	// OnAudio delivers synthesized PCM chunks for transport relay, in play
	// order. Playbacks that expose audio are drained even when OnAudio is nil.
	OnAudio func(pcm []byte)

	// OnError reports a categorised device failure in human-readable form.
	OnError func(category speech.ErrorCategory, message string)

	// OnSessionEnd fires when capture is abandoned because the restart budget
	// was exhausted or a fatal device condition occurred.
	OnSessionEnd func()
}

// Controller coordinates capture and synthesis for one session.
type Controller struct {
	recognizer speech.Recognizer
	synth      speech.Synthesizer
	cfg        Config
	cb         Callbacks
	clock      Clock
	log        *slog.Logger
	metrics    *observe.Metrics

	mu sync.Mutex

	recording bool
	muted     bool
	speaking  bool
	closed    bool

	capture speech.CaptureHandle

	transcript []string

	debounceTimer Timer
	restartTimer  Timer
	resumeTimer   Timer

	restartAttempts int

	// speakGen invalidates stale playback goroutines and pending resumes when
	// a newer Speak call takes over.
	speakGen int
	playback speech.Playback
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock replaces the timer source. Tests use this for virtual time.
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a Controller over the given devices.
func New(recognizer speech.Recognizer, synth speech.Synthesizer, cfg Config, cb Callbacks, opts ...Option) *Controller {
	c := &Controller{
		recognizer: recognizer,
		synth:      synth,
		cfg:        cfg.withDefaults(),
		cb:         cb,
		clock:      realClock{},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// captureAllowed is the effective capture predicate. All three flags matter:
// recording is the caller's intent, the other two are the half-duplex gates.
func captureAllowed(recording, muted, speaking bool) bool {
	return recording && !muted && !speaking
}

// Capturing reports whether the capture predicate currently holds.
func (c *Controller) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return captureAllowed(c.recording, c.muted, c.speaking)
}

// StartListening begins (or records the intent to begin) speech capture.
// A no-op when capture is already open. When the synthesis gates are up the
// device is not touched; capture opens automatically once the quiet delay
// after speech elapses. An unsupported device is reported as fatal and
// returned as an error.
func (c *Controller) StartListening(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.recording = true
	if c.capture != nil || c.muted || c.speaking {
		c.mu.Unlock()
		return nil
	}
	err := c.openCaptureLocked(ctx)
	c.mu.Unlock()

	if err != nil {
		c.handleDeviceError(err)
	}
	return err
}

// StopListening stops capture and cancels the pending restart and debounce
// timers. Idempotent. The post-speech resume timer is untouched; with
// recording off a resume becomes a no-op.
func (c *Controller) StopListening() {
	c.mu.Lock()
	c.recording = false
	c.restartAttempts = 0
	c.stopTimerLocked(&c.restartTimer)
	c.stopTimerLocked(&c.debounceTimer)
	c.transcript = nil
	c.closeCaptureLocked()
	c.mu.Unlock()
}

// SendAudio relays one PCM chunk from the transport into the open capture
// stream. Chunks arriving while capture is closed or gated, or while the
// device acquires audio on its own, are dropped; half-duplex means the
// candidate's microphone is ignored while the system speaks.
func (c *Controller) SendAudio(chunk []byte) error {
	c.mu.Lock()
	capture := c.capture
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if capture == nil {
		return nil
	}
	sink, ok := capture.(speech.AudioSink)
	if !ok {
		return nil
	}
	return sink.SendAudio(chunk)
}

// Speak synthesizes text, gating capture off for the duration plus the quiet
// delay. Any in-flight utterance is cancelled first; at most one utterance is
// audible at a time. Long text is chunked at sentence boundaries and played
// strictly in order; OnSpeechStart fires on the first chunk, OnSpeechEnd once
// after the last.
func (c *Controller) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.speakGen++
	gen := c.speakGen

	if c.playback != nil {
		c.playback.Cancel()
		c.playback = nil
	}
	c.stopTimerLocked(&c.resumeTimer)

	c.speaking = true
	c.muted = true
	c.closeCaptureLocked()

	chunks := chunkText(text, c.cfg.ChunkMaxChars)
	c.mu.Unlock()

	if len(chunks) == 0 {
		c.scheduleResume(gen, c.cfg.QuietDelay)
		return nil
	}
	go c.playChunks(ctx, gen, chunks)
	return nil
}

// NotifyAudioEnded tells the controller that the device reported raw audio
// output has ended, which shortens the pending capture resume to the short
// quiet delay.
func (c *Controller) NotifyAudioEnded() {
	c.mu.Lock()
	gen := c.speakGen
	pending := c.resumeTimer != nil
	c.mu.Unlock()
	if pending {
		c.scheduleResume(gen, c.cfg.QuietDelayShort)
	}
}

// Close tears the controller down: all timers cancelled, in-flight playback
// cancelled, capture closed. The controller is unusable afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.recording = false
	c.speakGen++
	c.stopTimerLocked(&c.restartTimer)
	c.stopTimerLocked(&c.debounceTimer)
	c.stopTimerLocked(&c.resumeTimer)
	if c.playback != nil {
		c.playback.Cancel()
		c.playback = nil
	}
	c.closeCaptureLocked()
	return nil
}

// ---- capture internals ----

// openCaptureLocked opens the device and starts the event loop. Resets the
// restart budget on success. Caller holds c.mu.
func (c *Controller) openCaptureLocked(ctx context.Context) error {
	handle, err := c.recognizer.StartCapture(ctx, speech.CaptureConfig{
		Language:       c.cfg.Language,
		Continuous:     true,
		InterimResults: true,
	})
	if err != nil {
		return err
	}
	c.capture = handle
	c.restartAttempts = 0
	go c.captureLoop(handle)
	return nil
}

// closeCaptureLocked releases the device stream. Caller holds c.mu.
func (c *Controller) closeCaptureLocked() {
	if c.capture == nil {
		return
	}
	if err := c.capture.Close(); err != nil {
		c.log.Warn("capture close failed", "error", err)
	}
	c.capture = nil
}

// captureLoop consumes one capture handle until its channels close.
func (c *Controller) captureLoop(handle speech.CaptureHandle) {
	results, errs := handle.Results(), handle.Errs()
	for results != nil || errs != nil {
		select {
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			c.handleResult(res)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.handleDeviceError(err)
		}
	}
}

// handleResult surfaces interim results immediately and buffers final ones
// behind the debounce window.
func (c *Controller) handleResult(res speech.Result) {
	if res.Text == "" {
		return
	}
	if !res.IsFinal {
		if c.cb.OnInterim != nil {
			c.cb.OnInterim(res.Text)
		}
		return
	}

	c.mu.Lock()
	c.transcript = append(c.transcript, res.Text)
	c.stopTimerLocked(&c.debounceTimer)
	c.debounceTimer = c.clock.AfterFunc(c.cfg.DebounceWindow, c.promote)
	c.mu.Unlock()
}

// promote hands the debounced transcript buffer to the utterance callback.
func (c *Controller) promote() {
	c.mu.Lock()
	c.debounceTimer = nil
	text := strings.Join(c.transcript, " ")
	c.transcript = nil
	c.mu.Unlock()

	if text == "" {
		return
	}
	if c.metrics.Utterances != nil {
		c.metrics.Utterances.Add(context.Background(), 1)
	}
	if c.cb.OnUtterance != nil {
		c.cb.OnUtterance(text)
	}
}

// handleDeviceError applies the per-category recovery policy.
func (c *Controller) handleDeviceError(err error) {
	var devErr *speech.DeviceError
	if !errors.As(err, &devErr) {
		devErr = &speech.DeviceError{Category: speech.CategoryNetwork, Message: err.Error(), Err: err}
	}

	switch devErr.Category {
	case speech.CategoryNoSpeech:
		// Transient and expected during silence. Restart without reporting.
		c.log.Debug("no speech detected, restarting capture")
		c.scheduleRestart()
	case speech.CategoryNotAllowed, speech.CategoryUnsupported:
		c.log.Error("fatal capture error", "category", devErr.Category, "error", devErr)
		c.recordDeviceError(devErr.Category)
		c.abandonCapture()
		if c.cb.OnError != nil {
			c.cb.OnError(devErr.Category, devErr.Message)
		}
		if c.cb.OnSessionEnd != nil {
			c.cb.OnSessionEnd()
		}
	default:
		c.log.Warn("capture error, restarting", "category", devErr.Category, "error", devErr)
		c.recordDeviceError(devErr.Category)
		if c.cb.OnError != nil {
			c.cb.OnError(devErr.Category, devErr.Message)
		}
		c.scheduleRestart()
	}
}

// scheduleRestart arms the restart timer if the budget allows; otherwise the
// capture is abandoned and session end is signalled. At most one restart
// timer is pending at a time.
func (c *Controller) scheduleRestart() {
	c.mu.Lock()
	if c.closed || !c.recording || c.restartTimer != nil {
		c.mu.Unlock()
		return
	}
	if c.restartAttempts >= c.cfg.RestartMaxAttempts {
		c.mu.Unlock()
		c.log.Error("restart budget exhausted, abandoning capture",
			"attempts", c.restartAttempts)
		c.abandonCapture()
		if c.cb.OnSessionEnd != nil {
			c.cb.OnSessionEnd()
		}
		return
	}
	c.restartAttempts++
	attempt := c.restartAttempts
	c.restartTimer = c.clock.AfterFunc(c.cfg.RestartDelay, c.restart)
	c.mu.Unlock()

	c.log.Info("capture restart scheduled", "attempt", attempt)
	if c.metrics.CaptureRestarts != nil {
		c.metrics.CaptureRestarts.Add(context.Background(), 1)
	}
}

// restart reopens the device if capture is still wanted and ungated.
func (c *Controller) restart() {
	c.mu.Lock()
	c.restartTimer = nil
	if c.closed || !captureAllowed(c.recording, c.muted, c.speaking) {
		c.mu.Unlock()
		return
	}
	c.closeCaptureLocked()
	err := c.openCaptureLocked(context.Background())
	c.mu.Unlock()

	if err != nil {
		c.handleDeviceError(err)
	}
}

// abandonCapture stops capture permanently without touching the speak path.
func (c *Controller) abandonCapture() {
	c.mu.Lock()
	c.recording = false
	c.stopTimerLocked(&c.restartTimer)
	c.stopTimerLocked(&c.debounceTimer)
	c.closeCaptureLocked()
	c.mu.Unlock()
}

// ---- synthesis internals ----

// playChunks plays the utterance chunks strictly in order, then schedules the
// capture resume. A stale generation exits silently; the newer Speak call has
// already cancelled its playback.
func (c *Controller) playChunks(ctx context.Context, gen int, chunks []string) {
	start := time.Now()
	started := false
	var failed bool

	for _, chunk := range chunks {
		pb, err := c.synth.Synthesize(ctx, chunk, c.cfg.Voice)
		if err != nil {
			c.log.Error("synthesis failed", "error", err)
			if c.cb.OnError != nil {
				c.cb.OnError(speech.CategoryNetwork, "speech synthesis failed")
			}
			failed = true
			break
		}

		c.mu.Lock()
		if c.speakGen != gen || c.closed {
			c.mu.Unlock()
			pb.Cancel()
			<-pb.Done()
			return
		}
		c.playback = pb
		c.mu.Unlock()

		if src, ok := pb.(speech.AudioSource); ok {
			go c.relayAudio(src)
		}

		var playErr error
		if started {
			playErr = <-pb.Done()
		} else {
			select {
			case <-pb.Started():
				started = true
				if c.cb.OnSpeechStart != nil {
					c.cb.OnSpeechStart()
				}
				playErr = <-pb.Done()
			case playErr = <-pb.Done():
				// Ended before audio began: cancelled, or failed on open.
			case <-ctx.Done():
				pb.Cancel()
				playErr = <-pb.Done()
			}
		}
		if c.stale(gen) {
			return
		}
		if playErr != nil {
			c.log.Warn("playback ended with error", "error", playErr)
			failed = true
			break
		}
	}

	if started && c.cb.OnSpeechEnd != nil {
		c.cb.OnSpeechEnd()
	}
	if c.metrics.SynthesisDuration != nil && !failed {
		c.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.Int("chunks", len(chunks))))
	}
	c.scheduleResume(gen, c.cfg.QuietDelay)
}

// relayAudio drains one playback's PCM stream, forwarding chunks to the
// transport callback. Draining is unconditional so a playback never parks on
// a full audio buffer when no transport consumer is attached.
func (c *Controller) relayAudio(src speech.AudioSource) {
	for pcm := range src.Audio() {
		if c.cb.OnAudio != nil {
			c.cb.OnAudio(pcm)
		}
	}
}

// stale reports whether gen has been superseded by a newer Speak call.
func (c *Controller) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speakGen != gen || c.closed
}

// scheduleResume arms (or re-arms) the post-speech capture resume timer.
func (c *Controller) scheduleResume(gen int, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.speakGen != gen || c.closed {
		return
	}
	c.stopTimerLocked(&c.resumeTimer)
	c.resumeTimer = c.clock.AfterFunc(delay, func() { c.resume(gen) })
}

// resume lowers the synthesis gates and reopens capture if still wanted.
func (c *Controller) resume(gen int) {
	c.mu.Lock()
	c.resumeTimer = nil
	if c.speakGen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.speaking = false
	c.muted = false
	var err error
	if c.recording && c.capture == nil {
		err = c.openCaptureLocked(context.Background())
	}
	c.mu.Unlock()

	if err != nil {
		c.handleDeviceError(err)
	}
}

// stopTimerLocked cancels *t if pending and nils it. Caller holds c.mu.
func (c *Controller) stopTimerLocked(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Controller) recordDeviceError(cat speech.ErrorCategory) {
	if c.metrics.DeviceErrors == nil {
		return
	}
	c.metrics.DeviceErrors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("category", string(cat))))
}
