// Package deepgram provides a Deepgram-backed speech recognizer using the
// Deepgram streaming WebSocket API. It implements the speech.Recognizer
// interface.
//
// The capture handle exposes a concrete SendAudio method so the transport
// layer that receives candidate audio (e.g., the session WebSocket bridge)
// can relay PCM chunks into the recognition stream. The coordination
// controller itself only consumes the Results and Errs channels.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxprep/voxprep/pkg/provider/speech"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Deepgram Recognizer.
type Option func(*Recognizer)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(r *Recognizer) {
		r.model = model
	}
}

// WithSampleRate sets the audio sample rate in Hz of the relayed PCM stream.
func WithSampleRate(rate int) Option {
	return func(r *Recognizer) {
		r.sampleRate = rate
	}
}

// Recognizer implements speech.Recognizer backed by the Deepgram streaming API.
type Recognizer struct {
	apiKey     string
	model      string
	sampleRate int
}

// Compile-time interface assertion.
var _ speech.Recognizer = (*Recognizer)(nil)

// New creates a new Deepgram Recognizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	r := &Recognizer{
		apiKey:     apiKey,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// StartCapture opens a streaming recognition session with Deepgram.
// Dial failures are reported as network device errors so the controller's
// bounded restart policy applies.
func (r *Recognizer) StartCapture(ctx context.Context, cfg speech.CaptureConfig) (speech.CaptureHandle, error) {
	wsURL, err := r.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, &speech.DeviceError{
			Category: speech.CategoryNetwork,
			Message:  "cannot reach recognition service",
			Err:      err,
		}
	}

	c := &Capture{
		conn:    conn,
		results: make(chan speech.Result, 64),
		errs:    make(chan error, 8),
		audio:   make(chan []byte, 256),
		done:    make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.writeLoop(ctx)

	return c, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (r *Recognizer) buildURL(cfg speech.CaptureConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = defaultLanguage
	}

	q := u.Query()
	q.Set("model", r.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("sample_rate", strconv.Itoa(r.sampleRate))
	if cfg.MaxAlternatives > 1 {
		q.Set("alternatives", strconv.Itoa(cfg.MaxAlternatives))
	}
	if cfg.Continuous {
		// Keep the stream open across silence; Deepgram segments utterances
		// itself and reports them via is_final.
		q.Set("endpointing", "false")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- capture session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Capture is a live Deepgram recognition session. It implements
// speech.CaptureHandle and additionally accepts relayed audio via SendAudio.
type Capture struct {
	conn    *websocket.Conn
	results chan speech.Result
	errs    chan error
	audio   chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Compile-time interface assertions.
var (
	_ speech.CaptureHandle = (*Capture)(nil)
	_ speech.AudioSink     = (*Capture)(nil)
)

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (c *Capture) SendAudio(chunk []byte) error {
	select {
	case <-c.done:
		return errors.New("deepgram: capture is closed")
	default:
	}
	select {
	case c.audio <- chunk:
		return nil
	case <-c.done:
		return errors.New("deepgram: capture is closed")
	}
}

// Results returns the channel of transcription events.
func (c *Capture) Results() <-chan speech.Result { return c.results }

// Errs returns the channel of categorised device errors.
func (c *Capture) Errs() <-chan error { return c.errs }

// Close terminates the session cleanly, flushing pending audio first.
func (c *Capture) Close() error {
	c.once.Do(func() {
		close(c.done)
		// Ask Deepgram to flush pending audio before the socket drops.
		_ = c.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		c.wg.Wait()
		c.conn.Close(websocket.StatusNormalClosure, "capture closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (c *Capture) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case chunk := <-c.audio:
			if err := c.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-c.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case chunk := <-c.audio:
					_ = c.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// results channel. Read failures while the session is still open are surfaced
// as network device errors.
func (c *Capture) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.results)
	defer close(c.errs)

	for {
		_, msg, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
				// Closed locally; not an error.
			default:
				c.reportErr(&speech.DeviceError{
					Category: speech.CategoryNetwork,
					Message:  "recognition stream lost",
					Err:      err,
				})
			}
			return
		}

		res, ok := parseResponse(msg)
		if !ok {
			continue
		}

		// Deepgram reports a committed-but-empty segment when it heard only
		// silence. Map that to the no-speech category so the controller can
		// restart silently.
		if res.IsFinal && res.Text == "" {
			c.reportErr(&speech.DeviceError{
				Category: speech.CategoryNoSpeech,
				Message:  "no speech detected",
			})
			continue
		}

		select {
		case c.results <- res:
		case <-c.done:
			return
		}
	}
}

// reportErr delivers a device error without blocking the read loop.
func (c *Capture) reportErr(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// parseResponse parses a raw Deepgram WebSocket message into a Result.
// Returns (zero, false) if the message should be ignored.
func parseResponse(data []byte) (speech.Result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return speech.Result{}, false
	}
	if resp.Type != "Results" {
		return speech.Result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return speech.Result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	return speech.Result{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
	}, true
}
