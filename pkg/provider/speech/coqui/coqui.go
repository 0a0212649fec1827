// Package coqui provides a speech synthesizer backed by a local Coqui TTS
// server's REST API. It implements the speech.Synthesizer interface.
//
// Coqui runs on-device (or on-premises) with no external API dependency,
// which makes it the designated fallback voice when the primary hosted
// synthesizer is unavailable: lower fidelity, but the interview can continue.
//
// The server operates in batch mode — one HTTP call per utterance via
// GET /api/tts — so playback starts once the full WAV response arrives.
package coqui

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/voxprep/voxprep/pkg/provider/speech"
)

const (
	ttsEndpoint    = "/api/tts"
	defaultTimeout = 30 * time.Second

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// Option is a functional option for configuring the Coqui Synthesizer.
type Option func(*Synthesizer)

// WithTimeout sets the per-utterance HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.httpClient.Timeout = d
	}
}

// WithLanguage sets the language ID sent with each request.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) {
		s.language = lang
	}
}

// Synthesizer implements speech.Synthesizer backed by a standard Coqui TTS
// server (ghcr.io/coqui-ai/tts-cpu).
type Synthesizer struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

// Compile-time interface assertion.
var _ speech.Synthesizer = (*Synthesizer)(nil)

// New creates a Synthesizer targeting the Coqui server at baseURL
// (e.g., "http://localhost:5002").
func New(baseURL string, opts ...Option) (*Synthesizer, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: baseURL must not be empty")
	}
	s := &Synthesizer{
		baseURL:    baseURL,
		language:   "en",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Synthesize requests the full utterance from the Coqui server and returns a
// Playback that streams the decoded PCM in fixed-size chunks.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice speech.VoiceOptions) (speech.Playback, error) {
	if text == "" {
		return nil, errors.New("coqui: text must not be empty")
	}

	q := url.Values{}
	q.Set("text", text)
	q.Set("language_id", s.language)
	if voice.Voice != "" {
		q.Set("speaker_id", voice.Voice)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+ttsEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}

	pb := newPlayback()
	go pb.run(s.httpClient, req)
	return pb, nil
}

// Playback tracks one in-flight Coqui utterance.
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
		audio:     make(chan []byte, 64),
		cancelled: make(chan struct{}),
	}
}

// Started implements speech.Playback.
func (p *Playback) Started() <-chan struct{} { return p.started }

// Done implements speech.Playback.
func (p *Playback) Done() <-chan error { return p.done }

// Audio returns the channel of raw PCM chunks for transport relay.
func (p *Playback) Audio() <-chan []byte { return p.audio }

// Cancel implements speech.Playback.
func (p *Playback) Cancel() {
	p.cancelOnce.Do(func() {
		close(p.cancelled)
	})
}

func (p *Playback) finish(err error) {
	p.doneOnce.Do(func() {
		p.done <- err
		close(p.done)
	})
}

// run performs the HTTP request and chunks the WAV payload onto the audio
// channel.
func (p *Playback) run(client *http.Client, req *http.Request) {
	defer close(p.audio)

	resp, err := client.Do(req)
	if err != nil {
		p.finish(fmt.Errorf("coqui: synthesis request: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.finish(fmt.Errorf("coqui: synthesis: unexpected status %d", resp.StatusCode))
		return
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		p.finish(fmt.Errorf("coqui: read response: %w", err))
		return
	}

	pcm, err := stripWAVHeader(wav)
	if err != nil {
		p.finish(fmt.Errorf("coqui: decode: %w", err))
		return
	}

	p.startOnce.Do(func() { close(p.started) })

	for off := 0; off < len(pcm); off += pcmChunkSize {
		end := off + pcmChunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		select {
		case p.audio <- pcm[off:end]:
		case <-p.cancelled:
			p.finish(nil)
			return
		}
	}
	p.finish(nil)
}

// stripWAVHeader locates the "data" chunk in a RIFF/WAVE payload and returns
// the raw PCM samples.
func stripWAVHeader(wav []byte) ([]byte, error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE payload")
	}

	// Walk chunks starting after the 12-byte RIFF header.
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if id == "data" {
			if body+size > len(wav) {
				size = len(wav) - body
			}
			return wav[body : body+size], nil
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunks are word-aligned
		}
	}
	return nil, errors.New("no data chunk found")
}
