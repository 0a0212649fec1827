package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voxprep/voxprep/internal/interview"
	"github.com/voxprep/voxprep/internal/interview/pipeline"
	"github.com/voxprep/voxprep/internal/session"
	"github.com/voxprep/voxprep/internal/speechctl"
	"github.com/voxprep/voxprep/internal/store"
	"github.com/voxprep/voxprep/pkg/provider/speech"
)

// startTimeout bounds how long a client may take to send its start message.
const startTimeout = 30 * time.Second

// inboundMessage is a client-to-server session message, carried in a text
// frame. Binary frames are not messages: they carry raw microphone PCM and
// are relayed straight into the recognition stream.
type inboundMessage struct {
	// Type is one of "start", "answer", "audio_ended", "end".
	Type string `json:"type"`

	// Start fields.
	CandidateID     string `json:"candidateId,omitempty"`
	TargetRole      string `json:"targetRole,omitempty"`
	TargetIndustry  string `json:"targetIndustry,omitempty"`
	ExperienceLevel string `json:"experienceLevel,omitempty"`
	SessionGoal     string `json:"sessionGoal,omitempty"`

	// Text is the answer text for "answer" messages.
	Text string `json:"text,omitempty"`
}

// outboundMessage is a server-to-client session message.
type outboundMessage struct {
	// Type is one of "question", "evaluation", "summary", "status".
	Type string `json:"type"`

	Text     string `json:"text,omitempty"`
	FollowUp bool   `json:"followUp,omitempty"`

	Evaluation *interview.AnswerEvaluation `json:"evaluation,omitempty"`
	Summary    *session.Summary            `json:"summary,omitempty"`

	// Event qualifies "status" messages: "interim", "speaking", "quiet",
	// "rejected", "device_error", "session_end".
	Event   string `json:"event,omitempty"`
	Message string `json:"message,omitempty"`
}

// outboundFrame is one queued WebSocket write: a JSON message, or a raw PCM
// chunk sent as a binary frame when audio is non-nil.
type outboundFrame struct {
	msg   outboundMessage
	audio []byte
}

// sessionBridge fans orchestrator and speech controller events into the
// WebSocket writer. Sends never block: a slow client drops status events and
// audio rather than stalling the engine.
type sessionBridge struct {
	mu     sync.Mutex
	out    chan outboundFrame
	closed bool
	done   chan struct{}
	once   sync.Once
}

func newSessionBridge() *sessionBridge {
	return &sessionBridge{
		out:  make(chan outboundFrame, 64),
		done: make(chan struct{}),
	}
}

func (b *sessionBridge) send(m outboundMessage) bool {
	return b.enqueue(outboundFrame{msg: m})
}

// sendAudio queues one synthesized PCM chunk for delivery as a binary frame.
func (b *sessionBridge) sendAudio(pcm []byte) bool {
	return b.enqueue(outboundFrame{audio: pcm})
}

func (b *sessionBridge) enqueue(f outboundFrame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.out <- f:
		return true
	default:
		return false
	}
}

func (b *sessionBridge) status(event, message string) {
	b.send(outboundMessage{Type: "status", Event: event, Message: message})
}

// finish marks the session as over, waking the read loop.
func (b *sessionBridge) finish() {
	b.once.Do(func() { close(b.done) })
}

// closeOut stops the writer after pending messages drain.
func (b *sessionBridge) closeOut() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.out)
	}
}

// handleSession runs one interview session over a WebSocket connection.
// The client opens with a "start" message carrying the candidate identity,
// then exchanges answers for questions and evaluations until the session
// completes or either side ends it. On the voice path the same connection
// carries audio both ways as binary frames: inbound microphone PCM feeds the
// recognition stream, outbound synthesized PCM is the question being spoken.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("session accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session aborted")

	ctx := r.Context()

	// First message must be "start".
	startCtx, cancelStart := context.WithTimeout(ctx, startTimeout)
	var start inboundMessage
	err = wsjson.Read(startCtx, conn, &start)
	cancelStart()
	if err != nil {
		s.log.Warn("session start not received", "err", err)
		return
	}
	if start.Type != "start" {
		conn.Close(websocket.StatusPolicyViolation, "first message must be start")
		return
	}

	seed := s.seedSession(ctx, start)
	log := s.log.With("candidate_id", seed.CandidateID)

	bridge := newSessionBridge()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		failed := false
		for f := range bridge.out {
			if failed {
				continue
			}
			var err error
			if f.audio != nil {
				err = conn.Write(ctx, websocket.MessageBinary, f.audio)
			} else {
				err = wsjson.Write(ctx, conn, f.msg)
			}
			if err != nil {
				failed = true
			}
		}
	}()

	// The controller is built after the orchestrator (its utterances feed
	// SubmitAnswer), so callbacks reach it through an atomic pointer rather
	// than relying on assignment order.
	var ctrl atomic.Pointer[speechctl.Controller]

	orch := session.New(s.newPipeline(), seed, s.sessionConfig(), session.Callbacks{
		OnQuestion: func(text string, followUp bool) {
			bridge.send(outboundMessage{Type: "question", Text: text, FollowUp: followUp})
			if c := ctrl.Load(); c != nil {
				go func() {
					if err := c.Speak(ctx, text); err != nil && !errors.Is(err, speechctl.ErrClosed) {
						log.Warn("speak failed", "err", err)
					}
				}()
			}
		},
		OnEvaluation: func(eval interview.AnswerEvaluation) {
			bridge.send(outboundMessage{Type: "evaluation", Evaluation: &eval})
		},
		OnComplete: func(sum session.Summary) {
			bridge.send(outboundMessage{Type: "summary", Summary: &sum})
			s.saveSummary(sum)
			bridge.finish()
		},
	}, session.WithLogger(log), session.WithMetrics(s.metrics))

	submit := func(text string) {
		go func() {
			if _, err := orch.SubmitAnswer(ctx, text); err != nil {
				bridge.status("rejected", err.Error())
			}
		}()
	}

	if s.deps.Recognizer != nil && s.deps.Synthesizer != nil {
		c := speechctl.New(s.deps.Recognizer, s.deps.Synthesizer, s.speechConfig(), speechctl.Callbacks{
			OnInterim:     func(text string) { bridge.status("interim", text) },
			OnUtterance:   submit,
			OnSpeechStart: func() { bridge.status("speaking", "") },
			OnSpeechEnd:   func() { bridge.status("quiet", "") },
			OnAudio:       func(pcm []byte) { bridge.sendAudio(pcm) },
			OnError: func(cat speech.ErrorCategory, msg string) {
				bridge.status("device_error", string(cat)+": "+msg)
			},
			OnSessionEnd: func() {
				bridge.status("session_end", "speech capture abandoned")
				bridge.finish()
			},
		}, speechctl.WithLogger(log), speechctl.WithMetrics(s.metrics))
		ctrl.Store(c)
		defer c.Close()
	}

	if err := orch.Initialize(ctx); err != nil {
		log.Error("session initialize failed", "err", err)
		bridge.status("rejected", "could not start session")
		bridge.closeOut()
		<-writerDone
		return
	}
	defer orch.End()

	if c := ctrl.Load(); c != nil {
		if err := c.StartListening(ctx); err != nil {
			log.Warn("capture start failed", "err", err)
		}
	}

	// Read loop. A finished session cancels the read so the handler returns.
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		select {
		case <-bridge.done:
		case <-ctx.Done():
		}
		cancelRead()
	}()

	for {
		typ, data, err := conn.Read(readCtx)
		if err != nil {
			break
		}
		if typ == websocket.MessageBinary {
			if c := ctrl.Load(); c != nil {
				if err := c.SendAudio(data); err != nil && !errors.Is(err, speechctl.ErrClosed) {
					log.Warn("audio relay failed", "err", err)
				}
			}
			continue
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			bridge.status("rejected", "malformed message")
			continue
		}
		switch msg.Type {
		case "answer":
			submit(msg.Text)
		case "audio_ended":
			if c := ctrl.Load(); c != nil {
				c.NotifyAudioEnded()
			}
		case "end":
			orch.End()
			bridge.finish()
		default:
			bridge.status("rejected", "unknown message type "+msg.Type)
		}
	}

	orch.End()
	bridge.closeOut()
	<-writerDone
	conn.Close(websocket.StatusNormalClosure, "session complete")
}

// newPipeline builds a per-session interview pipeline.
func (s *Server) newPipeline() *pipeline.Pipeline {
	opts := append([]pipeline.Option{
		pipeline.WithLogger(s.log),
		pipeline.WithMetrics(s.metrics),
	}, s.pipelineOptions()...)
	return pipeline.New(s.deps.Provider, opts...)
}

// seedSession builds the starting profile for a session. Stored profile data
// wins over the start message for carried-over areas; identity fields from
// the message win so a candidate can retarget roles between sessions.
func (s *Server) seedSession(ctx context.Context, start inboundMessage) interview.SeedProfile {
	seed := interview.SeedProfile{
		CandidateID:     start.CandidateID,
		TargetRole:      start.TargetRole,
		TargetIndustry:  start.TargetIndustry,
		ExperienceLevel: interview.ExperienceLevel(start.ExperienceLevel),
		SessionGoal:     start.SessionGoal,
	}
	if s.deps.Store == nil || seed.CandidateID == "" {
		return seed
	}

	stored, err := s.deps.Store.SeedProfile(ctx, seed.CandidateID)
	switch {
	case err == nil:
		seed.WeakAreas = stored.WeakAreas
		seed.StrongAreas = stored.StrongAreas
		if seed.TargetRole == "" {
			seed.TargetRole = stored.TargetRole
		}
		if seed.TargetIndustry == "" {
			seed.TargetIndustry = stored.TargetIndustry
		}
		if seed.ExperienceLevel == "" {
			seed.ExperienceLevel = stored.ExperienceLevel
		}
	case errors.Is(err, store.ErrNotFound):
		// First session for this candidate: fall back to prior summaries if
		// any exist, then record the profile for next time.
		if n := s.deps.RecentSummaries; n > 0 {
			if sums, serr := s.deps.Store.RecentSummaries(ctx, seed.CandidateID, n); serr == nil && len(sums) > 0 {
				seed.WeakAreas = sums[0].FinalContext.WeakAreas
				seed.StrongAreas = sums[0].FinalContext.StrongAreas
			}
		}
		if err := s.deps.Store.SaveProfile(ctx, seed); err != nil {
			s.log.Warn("profile save failed", "candidate_id", seed.CandidateID, "err", err)
		}
	default:
		s.log.Warn("profile load failed", "candidate_id", seed.CandidateID, "err", err)
	}
	return seed
}

// saveSummary persists a finished session without blocking the callback path.
func (s *Server) saveSummary(sum session.Summary) {
	if s.deps.Store == nil || sum.CandidateID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.deps.Store.SaveSummary(ctx, sum); err != nil {
			s.log.Error("summary save failed", "candidate_id", sum.CandidateID, "err", err)
		}
	}()
}
