package deepgram

import (
	"strings"
	"testing"

	"github.com/voxprep/voxprep/pkg/provider/speech"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key, got nil")
	}
}

func TestBuildURL(t *testing.T) {
	r, err := New("key", WithModel("nova-2"), WithSampleRate(16000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := r.buildURL(speech.CaptureConfig{
		Language:       "de-DE",
		Continuous:     true,
		InterimResults: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"model=nova-2",
		"language=de-DE",
		"interim_results=true",
		"sample_rate=16000",
		"endpointing=false",
		"punctuate=true",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("url %q missing %q", u, want)
		}
	}
}

func TestBuildURL_DefaultsLanguage(t *testing.T) {
	r, err := New("key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := r.buildURL(speech.CaptureConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(u, "language=en-US") {
		t.Errorf("url %q should default to en-US", u)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantOK   bool
		wantText string
		wantFin  bool
	}{
		{
			name:     "final result",
			payload:  `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"tell me about yourself","confidence":0.97}]}}`,
			wantOK:   true,
			wantText: "tell me about yourself",
			wantFin:  true,
		},
		{
			name:     "interim result",
			payload:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"tell me","confidence":0.41}]}}`,
			wantOK:   true,
			wantText: "tell me",
			wantFin:  false,
		},
		{
			name:    "metadata message ignored",
			payload: `{"type":"Metadata","duration":1.5}`,
			wantOK:  false,
		},
		{
			name:    "no alternatives ignored",
			payload: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
			wantOK:  false,
		},
		{
			name:    "malformed json ignored",
			payload: `{"type":`,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := parseResponse([]byte(tt.payload))
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if res.Text != tt.wantText {
				t.Errorf("text: got %q, want %q", res.Text, tt.wantText)
			}
			if res.IsFinal != tt.wantFin {
				t.Errorf("is_final: got %v, want %v", res.IsFinal, tt.wantFin)
			}
		})
	}
}
