package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxprep/voxprep/internal/interview"
	"github.com/voxprep/voxprep/internal/interview/pipeline"
	"github.com/voxprep/voxprep/pkg/provider/textgen/mock"
)

const analysisJSON = `{"readinessLevel":6,"currentNeed":"practice","recommendedDifficulty":"medium",` +
	`"bestCategory":"behavioral","focusArea":"communication"}`

func questionJSON(text string) string {
	return fmt.Sprintf(`{"question":%q,"category":"behavioral","difficulty":"medium",`+
		`"expectedAnswerLength":"medium","evaluationCriteria":["clarity"]}`, text)
}

func evalJSON(relevance, clarity, depth, examples int) string {
	return fmt.Sprintf(`{"overallScore":%d,"relevance":%d,"clarity":%d,"depth":%d,"examples":%d,`+
		`"strengths":["a","b","c"],"improvements":["d","e","f"],"improvedAnswer":"x","nextFocusArea":"y"}`,
		relevance+clarity+depth+examples, relevance, clarity, depth, examples)
}

const followUpJSON = `{"followUpQuestion":"What exactly did you do yourself?",` +
	`"purpose":"surface the candidate's own contribution","expectedImprovement":"first-person specifics"}`

var longAnswer = strings.Repeat("I led the incident response and coordinated the rollback. ", 4)

func testSeed() interview.SeedProfile {
	return interview.SeedProfile{
		CandidateID:     "cand-42",
		TargetRole:      "platform engineer",
		TargetIndustry:  "logistics",
		ExperienceLevel: interview.ExperienceMid,
	}
}

type events struct {
	mu        sync.Mutex
	questions []string
	followUps []bool
	evals     []interview.AnswerEvaluation
	summaries []Summary
}

func (e *events) callbacks() Callbacks {
	return Callbacks{
		OnQuestion: func(text string, followUp bool) {
			e.mu.Lock()
			e.questions = append(e.questions, text)
			e.followUps = append(e.followUps, followUp)
			e.mu.Unlock()
		},
		OnEvaluation: func(eval interview.AnswerEvaluation) {
			e.mu.Lock()
			e.evals = append(e.evals, eval)
			e.mu.Unlock()
		},
		OnComplete: func(s Summary) {
			e.mu.Lock()
			e.summaries = append(e.summaries, s)
			e.mu.Unlock()
		},
	}
}

func newTestOrchestrator(t *testing.T, provider *mock.Provider, coinFlip func() bool, cfg Config) (*Orchestrator, *events) {
	t.Helper()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipe := pipeline.New(provider,
		pipeline.WithLogger(discard),
		pipeline.WithCoinFlip(coinFlip))
	ev := &events{}
	o := New(pipe, testSeed(), cfg, ev.callbacks(), WithLogger(discard))
	return o, ev
}

func TestInitializeAsksFirstQuestion(t *testing.T) {
	provider := &mock.Provider{Responses: []string{analysisJSON, questionJSON("Why this role?")}}
	o, ev := newTestOrchestrator(t, provider, func() bool { return false }, Config{})

	if got := o.State(); got != StateInitializing {
		t.Fatalf("initial state = %q", got)
	}
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := o.State(); got != StateQuestioning {
		t.Errorf("state = %q, want questioning", got)
	}
	if got := o.CurrentQuestion().Question; got != "Why this role?" {
		t.Errorf("CurrentQuestion = %q", got)
	}
	if len(ev.questions) != 1 || ev.followUps[0] {
		t.Errorf("questions = %v (followUps %v), want one fresh question", ev.questions, ev.followUps)
	}
	if err := o.Initialize(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Initialize = %v, want ErrAlreadyStarted", err)
	}
}

func TestSubmitAnswerGuards(t *testing.T) {
	provider := &mock.Provider{Response: analysisJSON}
	o, _ := newTestOrchestrator(t, provider, func() bool { return false }, Config{})

	if _, err := o.SubmitAnswer(context.Background(), ""); err != ErrEmptyAnswer {
		t.Errorf("empty answer = %v, want ErrEmptyAnswer", err)
	}
	if _, err := o.SubmitAnswer(context.Background(), "hello"); err != ErrNotQuestioning {
		t.Errorf("answer before Initialize = %v, want ErrNotQuestioning", err)
	}
}

func TestSingleInFlightTurn(t *testing.T) {
	provider := &mock.Provider{Responses: []string{analysisJSON, questionJSON("Q1")}}
	o, _ := newTestOrchestrator(t, provider, func() bool { return false }, Config{})
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	block := make(chan struct{})
	provider.GenerateFunc = func(context.Context, string, bool) (string, error) {
		<-block
		return "", errors.New("down")
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.SubmitAnswer(context.Background(), longAnswer)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for o.State() != StateEvaluating && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := o.SubmitAnswer(context.Background(), longAnswer); err != ErrTurnInFlight {
		t.Errorf("concurrent SubmitAnswer = %v, want ErrTurnInFlight", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Errorf("first SubmitAnswer = %v", err)
	}
}

func TestConfidenceAndFollowUpScenario(t *testing.T) {
	provider := &mock.Provider{Responses: []string{
		analysisJSON, questionJSON("Q1"), // initialize
		evalJSON(20, 20, 20, 20), // strong answer: 80
		analysisJSON, questionJSON("Q2"), // fresh next question
		evalJSON(15, 15, 10, 10), // weak answer: 50
		followUpJSON,             // probe replaces the question
	}}
	o, ev := newTestOrchestrator(t, provider, func() bool { return true }, Config{})
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The session under test starts from a struggling profile.
	o.mu.Lock()
	o.sctx.ConfidenceLevel = 40
	o.sctx.AverageAnswerScore = 55
	o.mu.Unlock()

	eval, err := o.SubmitAnswer(context.Background(), longAnswer)
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if eval.OverallScore != 80 {
		t.Fatalf("OverallScore = %d, want 80", eval.OverallScore)
	}
	if got := o.Context().ConfidenceLevel; got != 45 {
		t.Errorf("ConfidenceLevel = %d, want 40 + 5", got)
	}
	if got := o.Context().AverageAnswerScore; got != 80 {
		t.Errorf("AverageAnswerScore = %d, want 80", got)
	}

	// A 40-character answer scoring 50 trips both halves of the weak-answer
	// condition; with the flip forced true the next turn is a probe.
	shortAnswer := "It went fine, we shipped it on schedule."
	if len(shortAnswer) >= 150 {
		t.Fatal("test answer is not short")
	}
	eval, err = o.SubmitAnswer(context.Background(), shortAnswer)
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if eval.OverallScore != 50 {
		t.Fatalf("OverallScore = %d, want 50", eval.OverallScore)
	}
	if got := o.CurrentQuestion().Question; got != "What exactly did you do yourself?" {
		t.Errorf("current question = %q, want the follow-up probe", got)
	}
	if got := o.Context().ConfidenceLevel; got != 42 {
		t.Errorf("ConfidenceLevel = %d, want 45 - 3", got)
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if last := len(ev.followUps) - 1; !ev.followUps[last] {
		t.Error("last emitted question not marked as a follow-up")
	}
}

func TestFollowUpDoesNotAdvanceCounter(t *testing.T) {
	provider := &mock.Provider{Responses: []string{
		analysisJSON, questionJSON("Q1"),
		evalJSON(10, 10, 10, 10), // weak: 40 -> probe
		followUpJSON,
		evalJSON(20, 20, 20, 20), // strong probe answer -> fresh question
		analysisJSON, questionJSON("Q2"),
	}}
	o, _ := newTestOrchestrator(t, provider, func() bool { return true }, Config{})
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := o.SubmitAnswer(context.Background(), longAnswer); err != nil {
		t.Fatal(err)
	}
	if got := o.Summary().QuestionsAsked; got != 1 {
		t.Errorf("QuestionsAsked = %d after probe, want counter unchanged", got)
	}

	if _, err := o.SubmitAnswer(context.Background(), longAnswer); err != nil {
		t.Fatal(err)
	}
	s := o.Summary()
	if s.QuestionsAsked != 2 {
		t.Errorf("QuestionsAsked = %d, want 2 after the fresh question", s.QuestionsAsked)
	}
	if s.AnswersEvaluated != 2 {
		t.Errorf("AnswersEvaluated = %d, want both rounds recorded", s.AnswersEvaluated)
	}
	if s.History[0].FollowUp || !s.History[1].FollowUp {
		t.Errorf("history follow-up flags = [%t %t], want the probe round marked",
			s.History[0].FollowUp, s.History[1].FollowUp)
	}
}

func TestSessionCompletesOnAllFallbacks(t *testing.T) {
	provider := &mock.Provider{Err: errors.New("generation service unreachable")}
	o, ev := newTestOrchestrator(t, provider, func() bool { return false }, Config{})

	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize must fail soft, got %v", err)
	}
	if got := o.CurrentQuestion(); !reflect.DeepEqual(got, pipeline.FallbackQuestion("platform engineer")) {
		t.Errorf("opening question = %+v, want the deterministic fallback", got)
	}

	for i := 0; i < DefaultSessionLength; i++ {
		if _, err := o.SubmitAnswer(context.Background(), longAnswer); err != nil {
			t.Fatalf("SubmitAnswer %d: %v", i+1, err)
		}
	}

	if got := o.State(); got != StateComplete {
		t.Errorf("state = %q, want complete", got)
	}
	s := o.Summary()
	if s.AnswersEvaluated != DefaultSessionLength {
		t.Errorf("AnswersEvaluated = %d, want %d", s.AnswersEvaluated, DefaultSessionLength)
	}
	if s.AverageScore != pipeline.FallbackEvaluation().OverallScore {
		t.Errorf("AverageScore = %d, want the neutral fallback score", s.AverageScore)
	}
	if len(ev.summaries) != 1 {
		t.Fatalf("OnComplete fired %d times, want once", len(ev.summaries))
	}

	if _, err := o.SubmitAnswer(context.Background(), longAnswer); err != ErrSessionComplete {
		t.Errorf("answer after completion = %v, want ErrSessionComplete", err)
	}
}

func TestEndDiscardsInFlightResult(t *testing.T) {
	provider := &mock.Provider{Responses: []string{analysisJSON, questionJSON("Q1")}}
	o, _ := newTestOrchestrator(t, provider, func() bool { return false }, Config{})
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	block := make(chan struct{})
	provider.GenerateFunc = func(context.Context, string, bool) (string, error) {
		<-block
		return evalJSON(20, 20, 20, 20), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.SubmitAnswer(context.Background(), longAnswer)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for o.State() != StateEvaluating && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	o.End()
	o.End() // idempotent
	close(block)

	if err := <-done; err != ErrSessionEnded {
		t.Errorf("in-flight SubmitAnswer = %v, want ErrSessionEnded", err)
	}
	s := o.Summary()
	if s.AnswersEvaluated != 0 {
		t.Errorf("AnswersEvaluated = %d, want the late result discarded", s.AnswersEvaluated)
	}
	if got := o.State(); got != StateComplete {
		t.Errorf("state = %q, want complete after End", got)
	}
}

func TestHistoryRecentView(t *testing.T) {
	h := &History{}
	for i := 1; i <= 5; i++ {
		h.Append(Exchange{Question: fmt.Sprintf("q%d", i),
			Evaluation: interview.AnswerEvaluation{OverallScore: i * 10}})
	}

	recent := h.Recent(2)
	if len(recent) != 2 || recent[0].Question != "q4" || recent[1].Question != "q5" {
		t.Errorf("Recent(2) = %v, want the last two in order", recent)
	}
	if got := h.Recent(10); len(got) != 5 {
		t.Errorf("Recent(10) returned %d entries, want all 5", len(got))
	}
	if got := h.AverageScore(); got != 30 {
		t.Errorf("AverageScore = %d, want 30", got)
	}
	if got := h.Len(); got != 5 {
		t.Errorf("Len = %d", got)
	}
}
