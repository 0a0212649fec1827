package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voxprep/voxprep/internal/httpserver"
	"github.com/voxprep/voxprep/internal/interview"
	"github.com/voxprep/voxprep/internal/interview/pipeline"
	"github.com/voxprep/voxprep/internal/session"
	"github.com/voxprep/voxprep/internal/speechctl"
	smock "github.com/voxprep/voxprep/internal/store/mock"
	"github.com/voxprep/voxprep/pkg/provider/speech"
	spmock "github.com/voxprep/voxprep/pkg/provider/speech/mock"
	tmock "github.com/voxprep/voxprep/pkg/provider/textgen/mock"
)

const (
	analyzeJSON = `{"readinessLevel":5,"currentNeed":"practice","recommendedDifficulty":"medium","bestCategory":"behavioral","focusArea":"communication"}`
	selectJSON  = `{"question":"Tell me about a recent project you led.","category":"behavioral","difficulty":"medium","expectedAnswerLength":"medium"}`
	evalJSON    = `{"overallScore":80,"relevance":20,"clarity":20,"depth":20,"examples":20,"strengths":["clear"],"improvements":["detail"]}`
)

// sessionMessage mirrors the bridge's wire format for tests.
type sessionMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	FollowUp bool   `json:"followUp,omitempty"`

	CandidateID string `json:"candidateId,omitempty"`
	TargetRole  string `json:"targetRole,omitempty"`

	Evaluation *interview.AnswerEvaluation `json:"evaluation,omitempty"`
	Summary    *session.Summary            `json:"summary,omitempty"`

	Event   string `json:"event,omitempty"`
	Message string `json:"message,omitempty"`
}

func newTestServer(t *testing.T, deps httpserver.Deps) *httptest.Server {
	t.Helper()
	s, err := httpserver.New(httpserver.Config{}, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialSession(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) sessionMessage {
	t.Helper()
	var msg sessionMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

// waitForType reads frames until a JSON message of the wanted type arrives,
// skipping binary audio frames and status messages.
func waitForType(t *testing.T, ctx context.Context, conn *websocket.Conn, want string) sessionMessage {
	t.Helper()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read while waiting for %q: %v", want, err)
		}
		if typ == websocket.MessageBinary {
			continue
		}
		var m sessionMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if m.Type == want {
			return m
		}
	}
}

// nextBinary reads frames until a binary audio frame arrives.
func nextBinary(t *testing.T, ctx context.Context, conn *websocket.Conn) []byte {
	t.Helper()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read while waiting for audio: %v", err)
		}
		if typ == websocket.MessageBinary {
			return data
		}
	}
}

func TestNew_RequiresProvider(t *testing.T) {
	t.Parallel()
	_, err := httpserver.New(httpserver.Config{}, httpserver.Deps{})
	if err == nil {
		t.Fatal("expected error for nil provider, got nil")
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, httpserver.Deps{Provider: &tmock.Provider{}})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: got status %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestHealthResponseCarriesCorrelationID(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, httpserver.Deps{Provider: &tmock.Provider{}})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("expected X-Correlation-ID header on response")
	}
}

func TestSession_RejectsNonStartFirstMessage(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ts := newTestServer(t, httpserver.Deps{Provider: &tmock.Provider{}})
	conn := dialSession(t, ctx, ts)

	if err := wsjson.Write(ctx, conn, sessionMessage{Type: "answer", Text: "hello"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var msg sessionMessage
	err := wsjson.Read(ctx, conn, &msg)
	if err == nil {
		t.Fatal("expected close after non-start first message, got a message")
	}
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Errorf("close status: got %v, want %v", got, websocket.StatusPolicyViolation)
	}
}

func TestSession_FullTextFlow(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	provider := &tmock.Provider{Responses: []string{analyzeJSON, selectJSON, evalJSON}}
	st := &smock.Store{}
	ts := newTestServer(t, httpserver.Deps{
		Provider:        provider,
		Store:           st,
		SessionConfig:   session.Config{SessionLength: 1},
		PipelineOptions: []pipeline.Option{pipeline.WithCoinFlip(func() bool { return false })},
	})
	conn := dialSession(t, ctx, ts)

	start := sessionMessage{Type: "start", CandidateID: "cand-1", TargetRole: "backend engineer"}
	if err := wsjson.Write(ctx, conn, start); err != nil {
		t.Fatalf("write start: %v", err)
	}

	q := readMessage(t, ctx, conn)
	if q.Type != "question" {
		t.Fatalf("first message: got type %q, want question", q.Type)
	}
	if q.Text != "Tell me about a recent project you led." {
		t.Errorf("question text: got %q", q.Text)
	}
	if q.FollowUp {
		t.Error("opening question must not be a follow-up")
	}

	answer := sessionMessage{Type: "answer", Text: "I led the migration of our billing service to an event-driven design."}
	if err := wsjson.Write(ctx, conn, answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	eval := readMessage(t, ctx, conn)
	if eval.Type != "evaluation" {
		t.Fatalf("second message: got type %q, want evaluation", eval.Type)
	}
	if eval.Evaluation == nil || eval.Evaluation.OverallScore != 80 {
		t.Errorf("evaluation: got %+v, want overall score 80", eval.Evaluation)
	}

	sum := readMessage(t, ctx, conn)
	if sum.Type != "summary" {
		t.Fatalf("third message: got type %q, want summary", sum.Type)
	}
	if sum.Summary == nil || sum.Summary.QuestionsAsked != 1 {
		t.Errorf("summary: got %+v, want 1 question asked", sum.Summary)
	}
	if sum.Summary.CandidateID != "cand-1" {
		t.Errorf("summary candidate: got %q, want cand-1", sum.Summary.CandidateID)
	}

	// A new candidate gets a profile record; the summary save is async.
	if len(st.SavedProfiles) != 1 {
		t.Errorf("saved profiles: got %d, want 1", len(st.SavedProfiles))
	}
	deadline := time.Now().Add(5 * time.Second)
	for st.SummaryCount("cand-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("summary was not saved within timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSession_SeedsFromStoredProfile(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider := &tmock.Provider{Responses: []string{analyzeJSON, selectJSON}}
	st := &smock.Store{Profiles: map[string]interview.SeedProfile{
		"cand-9": {
			CandidateID: "cand-9",
			TargetRole:  "site reliability engineer",
			WeakAreas:   []string{"incident communication"},
		},
	}}
	ts := newTestServer(t, httpserver.Deps{Provider: provider, Store: st})
	conn := dialSession(t, ctx, ts)

	if err := wsjson.Write(ctx, conn, sessionMessage{Type: "start", CandidateID: "cand-9"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readMessage(t, ctx, conn)

	if len(st.SavedProfiles) != 0 {
		t.Errorf("known candidate should not be re-saved on start, got %d saves", len(st.SavedProfiles))
	}
	got := provider.Calls[0].Prompt
	if !strings.Contains(got, "site reliability engineer") {
		t.Errorf("analyze prompt should carry the stored target role, got:\n%s", got)
	}
	if !strings.Contains(got, "incident communication") {
		t.Errorf("analyze prompt should carry the stored weak areas, got:\n%s", got)
	}
}

func TestSession_EndMessageClosesNormally(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider := &tmock.Provider{Responses: []string{analyzeJSON, selectJSON}}
	ts := newTestServer(t, httpserver.Deps{Provider: provider})
	conn := dialSession(t, ctx, ts)

	if err := wsjson.Write(ctx, conn, sessionMessage{Type: "start", CandidateID: "cand-2"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readMessage(t, ctx, conn)

	if err := wsjson.Write(ctx, conn, sessionMessage{Type: "end"}); err != nil {
		t.Fatalf("write end: %v", err)
	}

	var msg sessionMessage
	err := wsjson.Read(ctx, conn, &msg)
	if err == nil {
		t.Fatal("expected close after end message, got a message")
	}
	if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
		t.Errorf("close status: got %v, want %v", got, websocket.StatusNormalClosure)
	}
}

func TestSession_UnknownMessageTypeIsRejected(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider := &tmock.Provider{Responses: []string{analyzeJSON, selectJSON}}
	ts := newTestServer(t, httpserver.Deps{Provider: provider})
	conn := dialSession(t, ctx, ts)

	if err := wsjson.Write(ctx, conn, sessionMessage{Type: "start", CandidateID: "cand-3"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readMessage(t, ctx, conn)

	if err := wsjson.Write(ctx, conn, sessionMessage{Type: "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readMessage(t, ctx, conn)
	if msg.Type != "status" || msg.Event != "rejected" {
		t.Errorf("got %+v, want a rejected status", msg)
	}
}

func TestSession_VoiceFlow(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	provider := &tmock.Provider{Responses: []string{analyzeJSON, selectJSON, evalJSON}}
	rec := &spmock.Recognizer{}
	synth := &spmock.Synthesizer{}
	ts := newTestServer(t, httpserver.Deps{
		Provider:      provider,
		Recognizer:    rec,
		Synthesizer:   synth,
		SessionConfig: session.Config{SessionLength: 1},
		SpeechConfig: speechctl.Config{
			DebounceWindow:  20 * time.Millisecond,
			QuietDelay:      10 * time.Millisecond,
			QuietDelayShort: 10 * time.Millisecond,
		},
		PipelineOptions: []pipeline.Option{pipeline.WithCoinFlip(func() bool { return false })},
	})
	conn := dialSession(t, ctx, ts)

	if err := wsjson.Write(ctx, conn, sessionMessage{Type: "start", CandidateID: "cand-7"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	q := waitForType(t, ctx, conn, "question")
	if q.Text != "Tell me about a recent project you led." {
		t.Errorf("question text: got %q", q.Text)
	}

	// The question is spoken: drive the playback and expect its PCM to come
	// back as a binary frame.
	deadline := time.Now().Add(5 * time.Second)
	for synth.CallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("question was never synthesized")
		}
		time.Sleep(5 * time.Millisecond)
	}
	pcm := []byte{0x10, 0x20, 0x30}
	pb := synth.LastPlayback()
	pb.Start()
	pb.EmitAudio(pcm)
	pb.Complete(nil)
	if got := nextBinary(t, ctx, conn); !bytes.Equal(got, pcm) {
		t.Errorf("relayed audio = %v, want %v", got, pcm)
	}

	// Microphone chunks sent as binary frames land on the recognition stream
	// once capture opens after the quiet delay.
	mic := []byte{0x0A, 0x0B}
	var capture *spmock.Capture
	deadline = time.Now().Add(5 * time.Second)
	for capture == nil {
		if err := conn.Write(ctx, websocket.MessageBinary, mic); err != nil {
			t.Fatalf("write mic chunk: %v", err)
		}
		if c := rec.LastCapture(); c != nil && len(c.AudioChunks()) > 0 {
			capture = c
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("mic audio never reached the recognition stream")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := capture.AudioChunks()[0]; !bytes.Equal(got, mic) {
		t.Errorf("capture received %v, want %v", got, mic)
	}

	// A final transcript becomes the candidate's answer and drives the turn.
	capture.Emit(speech.Result{Text: "I led the migration of our billing service.", IsFinal: true})

	eval := waitForType(t, ctx, conn, "evaluation")
	if eval.Evaluation == nil || eval.Evaluation.OverallScore != 80 {
		t.Errorf("evaluation: got %+v, want overall score 80", eval.Evaluation)
	}
	sum := waitForType(t, ctx, conn, "summary")
	if sum.Summary == nil || sum.Summary.QuestionsAsked != 1 {
		t.Errorf("summary: got %+v, want 1 question asked", sum.Summary)
	}
}

func TestUpdateTunables_AppliesToNewSessions(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	provider := &tmock.Provider{Responses: []string{analyzeJSON, selectJSON, evalJSON}}
	s, err := httpserver.New(httpserver.Config{}, httpserver.Deps{
		Provider:      provider,
		SessionConfig: session.Config{SessionLength: 4},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	s.UpdateTunables(
		session.Config{SessionLength: 1},
		speechctl.Config{},
		[]pipeline.Option{pipeline.WithCoinFlip(func() bool { return false })},
	)

	conn := dialSession(t, ctx, ts)
	if err := wsjson.Write(ctx, conn, sessionMessage{Type: "start", CandidateID: "cand-8"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readMessage(t, ctx, conn)
	if err := wsjson.Write(ctx, conn, sessionMessage{Type: "answer", Text: "A reasonably detailed answer."}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	waitForType(t, ctx, conn, "evaluation")

	// The reloaded session length of 1 ends the session after one question.
	sum := waitForType(t, ctx, conn, "summary")
	if sum.Summary == nil || sum.Summary.QuestionsAsked != 1 {
		t.Errorf("summary: got %+v, want the reloaded session length of 1 applied", sum.Summary)
	}
}

func TestRun_ShutsDownOnContextCancel(t *testing.T) {
	t.Parallel()
	s, err := httpserver.New(
		httpserver.Config{ListenAddr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		httpserver.Deps{Provider: &tmock.Provider{}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error on clean shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
