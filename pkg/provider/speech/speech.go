// Package speech defines the device interfaces for speech capture and
// synthesis backends.
//
// A [Recognizer] wraps a streaming transcription service (e.g., Deepgram, or a
// browser-relayed recognition stream) and emits interim and final transcript
// results over a channel. A [Synthesizer] wraps a text-to-speech service
// (e.g., ElevenLabs, or a local Coqui server) and exposes a per-utterance
// playback lifecycle.
//
// The speech coordination controller is the only component that touches these
// device handles; everything else consumes its callbacks. Implementations must
// be safe for concurrent use.
package speech

import (
	"context"
	"fmt"
)

// CaptureConfig describes the recognition parameters for a new capture session.
type CaptureConfig struct {
	// Language is the BCP-47 language tag for recognition. Defaults to "en-US"
	// when empty.
	Language string

	// Continuous keeps the capture session open across silence instead of
	// finalising after the first utterance.
	Continuous bool

	// InterimResults enables low-latency partial transcripts in addition to
	// final ones.
	InterimResults bool

	// MaxAlternatives is the number of alternative transcriptions requested
	// per result. Zero means the provider default (1).
	MaxAlternatives int
}

// Result is a single transcription event emitted during capture.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) result or a
	// partial (interim) one. Only final results may enter the transcript log.
	IsFinal bool

	// Confidence is the provider's confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64
}

// CaptureHandle represents an open capture session. Callers must call Close
// when the session is no longer needed; failing to do so may leak goroutines
// and network connections inside the provider implementation.
//
// All methods must be safe for concurrent use.
type CaptureHandle interface {
	// Results returns a read-only channel that emits Result values as the
	// provider produces them. The channel is closed when the session ends.
	Results() <-chan Result

	// Errs returns a read-only channel that emits device errors. Recoverable
	// conditions are reported as *DeviceError with a Category the caller can
	// branch on. The channel is closed when the session ends.
	Errs() <-chan error

	// Close terminates the session and releases the underlying audio stream,
	// analyser, and network resources together. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// AudioSink is implemented by capture handles that take relayed PCM audio
// from the transport layer, such as a browser microphone stream forwarded
// over the session WebSocket. Backends that acquire audio themselves do not
// implement it.
type AudioSink interface {
	// SendAudio queues one PCM chunk for recognition. Returns an error once
	// the capture session is closed.
	SendAudio(chunk []byte) error
}

// Recognizer is the abstraction over any streaming speech-capture backend.
type Recognizer interface {
	// StartCapture opens a new streaming recognition session. The returned
	// handle is live immediately; the caller owns it and must call Close.
	//
	// Returns a *DeviceError with CategoryUnsupported if the backend is not
	// available in the current environment. That condition is fatal and must
	// not be retried.
	StartCapture(ctx context.Context, cfg CaptureConfig) (CaptureHandle, error)
}

// VoiceOptions selects the synthesis voice and its delivery parameters.
type VoiceOptions struct {
	// Voice is the provider-specific voice identifier.
	Voice string

	// Rate adjusts speaking rate (0.5–2.0, 1.0 = default, 0 = default).
	Rate float64

	// Pitch adjusts voice pitch (-10 to +10, 0 = default).
	Pitch float64

	// Volume scales output volume (0.0–1.0, 0 = provider default).
	Volume float64
}

// Playback represents one in-flight synthesis utterance.
//
// The Started channel is closed when audio output begins; the Done channel
// receives exactly one value (nil on clean completion, non-nil on failure) and
// is then closed. Cancel aborts playback; a cancelled playback still delivers
// on Done.
type Playback interface {
	// Started is closed when the first audio of this utterance starts playing.
	Started() <-chan struct{}

	// Done delivers the terminal playback status exactly once.
	Done() <-chan error

	// Cancel aborts the utterance. Safe to call multiple times.
	Cancel()
}

// AudioSource is implemented by playbacks that expose their synthesized PCM
// for relay to the client. The channel is closed when the utterance ends;
// consumers must drain it or the playback stalls on a full buffer.
type AudioSource interface {
	// Audio returns the channel of raw PCM chunks, in play order.
	Audio() <-chan []byte
}

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Synthesize begins speaking text with the given voice options and returns
	// a Playback tracking the utterance lifecycle. At most one utterance per
	// returned Playback; serialising utterances is the caller's concern.
	Synthesize(ctx context.Context, text string, voice VoiceOptions) (Playback, error)
}

// ErrorCategory classifies device failures so the coordination controller can
// apply the right recovery policy without string-matching provider messages.
type ErrorCategory string

const (
	// CategoryNoSpeech signals that the provider detected no speech in the
	// capture window. Transient: restart silently, never surface to the user.
	CategoryNoSpeech ErrorCategory = "no-speech"

	// CategoryNotAllowed signals that microphone permission was denied.
	// Fatal: report once, never retry.
	CategoryNotAllowed ErrorCategory = "not-allowed"

	// CategoryAudioCapture signals a hardware or stream acquisition failure.
	// Transient: report and restart within the bounded retry budget.
	CategoryAudioCapture ErrorCategory = "audio-capture"

	// CategoryNetwork signals a transport failure between device and provider.
	// Transient: report and restart within the bounded retry budget.
	CategoryNetwork ErrorCategory = "network"

	// CategoryUnsupported signals that no recognition backend exists in the
	// current environment. Fatal: report once, never retry.
	CategoryUnsupported ErrorCategory = "unsupported"
)

// DeviceError is a categorised device failure.
type DeviceError struct {
	// Category drives the controller's recovery policy.
	Category ErrorCategory

	// Message is a human-readable description suitable for the status channel.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech: %s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("speech: %s: %s", e.Category, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }

// Transient reports whether the error category is eligible for bounded
// auto-restart. Unsupported and permission errors are permanent.
func (e *DeviceError) Transient() bool {
	switch e.Category {
	case CategoryNoSpeech, CategoryAudioCapture, CategoryNetwork:
		return true
	}
	return false
}
