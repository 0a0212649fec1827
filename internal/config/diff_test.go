package config_test

import (
	"testing"

	"github.com/voxprep/voxprep/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Interview: config.InterviewConfig{SessionLength: 8, FollowUpProbability: 0.5},
		Speech:    config.SpeechConfig{DebounceMS: 3000},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.InterviewChanged {
		t.Error("expected InterviewChanged=false for identical configs")
	}
	if d.SpeechChanged {
		t.Error("expected SpeechChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_InterviewTunablesChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Interview: config.InterviewConfig{FollowUpProbability: 0.5}}
	new := &config.Config{Interview: config.InterviewConfig{FollowUpProbability: 0.25}}

	d := config.Diff(old, new)
	if !d.InterviewChanged {
		t.Error("expected InterviewChanged=true")
	}
	if d.SpeechChanged {
		t.Error("expected SpeechChanged=false")
	}
}

func TestDiff_SpeechTunablesChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Speech: config.SpeechConfig{QuietDelayMS: 2000}}
	new := &config.Config{Speech: config.SpeechConfig{QuietDelayMS: 1500}}

	d := config.Diff(old, new)
	if !d.SpeechChanged {
		t.Error("expected SpeechChanged=true")
	}
	if d.InterviewChanged {
		t.Error("expected InterviewChanged=false")
	}
}

func TestDiff_ProviderChangeIsNotTracked(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{TextGen: config.ProviderEntry{Name: "openai"}}}
	new := &config.Config{Providers: config.ProvidersConfig{TextGen: config.ProviderEntry{Name: "ollama"}}}

	d := config.Diff(old, new)
	if d.LogLevelChanged || d.InterviewChanged || d.SpeechChanged {
		t.Errorf("provider changes must not be hot-reloadable, got %+v", d)
	}
}
