// Package elevenlabs provides an ElevenLabs-backed speech synthesizer using
// the ElevenLabs streaming WebSocket API. It implements the
// speech.Synthesizer interface.
//
// Synthesized PCM is exposed on the concrete playback's Audio channel so the
// transport layer can relay it to the candidate's browser; the coordination
// controller only observes the Started/Done lifecycle.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxprep/voxprep/pkg/provider/speech"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		s.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(s *Synthesizer) {
		s.outputFormat = format
	}
}

// Synthesizer implements speech.Synthesizer backed by the ElevenLabs
// streaming API.
type Synthesizer struct {
	apiKey       string
	model        string
	outputFormat string
}

// Compile-time interface assertion.
var _ speech.Synthesizer = (*Synthesizer)(nil)

// New creates a new ElevenLabs Synthesizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	s := &Synthesizer{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Synthesize opens a WebSocket to ElevenLabs, sends the full utterance text,
// and returns a Playback whose Audio channel emits raw PCM chunks.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice speech.VoiceOptions) (speech.Playback, error) {
	if voice.Voice == "" {
		return nil, errors.New("elevenlabs: voice.Voice must not be empty")
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, voice.Voice, s.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.Rate > 0 {
		vs.Speed = voice.Rate
	}

	// BOI handshake: authenticate and configure the stream. ElevenLabs
	// requires a non-empty first text value.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: vs,
		XiAPIKey:      s.apiKey,
		OutputFormat:  s.outputFormat,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	pb := newPlayback()
	go pb.run(ctx, conn, text)
	return pb, nil
}

// Playback tracks one in-flight ElevenLabs utterance. The Audio channel emits
// raw PCM chunks; it is closed when the utterance ends.
type Playback struct {
	started chan struct{}
	done    chan error
	audio   chan []byte

	startOnce  sync.Once
	doneOnce   sync.Once
	cancelOnce sync.Once
	cancelled  chan struct{}
}

// Compile-time interface assertions.
var (
	_ speech.Playback    = (*Playback)(nil)
	_ speech.AudioSource = (*Playback)(nil)
)

func newPlayback() *Playback {
	return &Playback{
		started:   make(chan struct{}),
		done:      make(chan error, 1),
		audio:     make(chan []byte, 256),
		cancelled: make(chan struct{}),
	}
}

// Started implements speech.Playback.
func (p *Playback) Started() <-chan struct{} { return p.started }

// Done implements speech.Playback.
func (p *Playback) Done() <-chan error { return p.done }

// Audio returns the channel of raw PCM chunks for transport relay.
func (p *Playback) Audio() <-chan []byte { return p.audio }

// Cancel implements speech.Playback. It aborts the utterance; Done still
// delivers a terminal status.
func (p *Playback) Cancel() {
	p.cancelOnce.Do(func() {
		close(p.cancelled)
	})
}

// finish delivers the terminal status exactly once.
func (p *Playback) finish(err error) {
	p.doneOnce.Do(func() {
		p.done <- err
		close(p.done)
	})
}

// run drives the utterance: writes the text plus end-of-sequence marker, then
// drains audio messages until ElevenLabs reports the final chunk.
func (p *Playback) run(ctx context.Context, conn *websocket.Conn, text string) {
	defer close(p.audio)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Writer: utterance text followed by the flush marker.
	msgBytes, _ := json.Marshal(textMessage{Text: text})
	if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
		p.finish(fmt.Errorf("elevenlabs: send text: %w", err))
		return
	}
	flushBytes, _ := json.Marshal(textMessage{Text: ""})
	if err := conn.Write(ctx, websocket.MessageText, flushBytes); err != nil {
		p.finish(fmt.Errorf("elevenlabs: send flush: %w", err))
		return
	}

	// Reader: decode audio chunks until isFinal.
	for {
		select {
		case <-p.cancelled:
			p.finish(nil)
			return
		case <-ctx.Done():
			p.finish(ctx.Err())
			return
		default:
		}

		_, msg, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-p.cancelled:
				p.finish(nil)
			default:
				p.finish(fmt.Errorf("elevenlabs: read: %w", err))
			}
			return
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil {
				p.startOnce.Do(func() { close(p.started) })
				select {
				case p.audio <- pcm:
				case <-p.cancelled:
					p.finish(nil)
					return
				case <-ctx.Done():
					p.finish(ctx.Err())
					return
				}
			}
		}
		if resp.IsFinal {
			// Fire Started even for zero-audio utterances so the controller's
			// lifecycle callbacks stay paired.
			p.startOnce.Do(func() { close(p.started) })
			p.finish(nil)
			return
		}
	}
}
