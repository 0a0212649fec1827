package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxprep/voxprep/pkg/provider/speech"
	smock "github.com/voxprep/voxprep/pkg/provider/speech/mock"
)

func TestSynthFallback_PrimaryHealthy(t *testing.T) {
	primary := &smock.Synthesizer{AutoComplete: true}
	backup := &smock.Synthesizer{AutoComplete: true}

	f := NewSynthFallback(primary, "external", FallbackConfig{})
	f.AddFallback("local", backup)

	pb, err := f.Synthesize(context.Background(), "Next question.", speech.VoiceOptions{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if pb == nil {
		t.Fatal("nil playback")
	}
	if primary.CallCount() != 1 || backup.CallCount() != 0 {
		t.Errorf("calls primary/backup = %d/%d, want 1/0",
			primary.CallCount(), backup.CallCount())
	}
}

func TestSynthFallback_FailsOverToLocalVoice(t *testing.T) {
	primary := &smock.Synthesizer{SynthesizeErr: errors.New("quota exceeded")}
	backup := &smock.Synthesizer{AutoComplete: true}

	f := NewSynthFallback(primary, "external", FallbackConfig{})
	f.AddFallback("local", backup)

	pb, err := f.Synthesize(context.Background(), "Next question.", speech.VoiceOptions{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if pb != backup.LastPlayback() {
		t.Error("playback did not come from the local fallback voice")
	}
}

func TestSynthFallback_BreakerSkipsFailingPrimary(t *testing.T) {
	primary := &smock.Synthesizer{SynthesizeErr: errors.New("unreachable")}
	backup := &smock.Synthesizer{AutoComplete: true}

	f := NewSynthFallback(primary, "external", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	f.AddFallback("local", backup)

	for i := 0; i < 3; i++ {
		if _, err := f.Synthesize(context.Background(), "text", speech.VoiceOptions{}); err != nil {
			t.Fatalf("utterance %d: %v", i, err)
		}
	}

	// Two failures opened the external breaker; the third call skipped it.
	if got := primary.CallCount(); got != 2 {
		t.Errorf("primary called %d times, want 2 before its breaker opened", got)
	}
	if got := f.States()["external"]; got != StateOpen {
		t.Errorf("external breaker state = %v, want open", got)
	}
}

func TestSynthFallback_AllBackendsDown(t *testing.T) {
	primary := &smock.Synthesizer{SynthesizeErr: errors.New("down")}
	f := NewSynthFallback(primary, "external", FallbackConfig{})

	_, err := f.Synthesize(context.Background(), "text", speech.VoiceOptions{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
