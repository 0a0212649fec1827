package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voxprep/voxprep/pkg/provider/speech"
)

// makeWAV wraps pcm in a minimal RIFF/WAVE container with a fmt and data chunk.
func makeWAV(pcm []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	buf.Write(make([]byte, 16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty baseURL, got nil")
	}
}

func TestStripWAVHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	got, err := stripWAVHeader(makeWAV(pcm))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("pcm: got %v, want %v", got, pcm)
	}
}

func TestStripWAVHeader_RejectsNonWAV(t *testing.T) {
	if _, err := stripWAVHeader([]byte("this is not audio at all, not even close")); err == nil {
		t.Fatal("expected error for non-WAV payload, got nil")
	}
}

func TestStripWAVHeader_MissingDataChunk(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(20))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	buf.Write(make([]byte, 16))
	if _, err := stripWAVHeader(buf.Bytes()); err == nil {
		t.Fatal("expected error for missing data chunk, got nil")
	}
}

func TestSynthesize_StreamsPCM(t *testing.T) {
	pcm := bytes.Repeat([]byte{0xAB}, pcmChunkSize+100)

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write(makeWAV(pcm))
	}))
	defer srv.Close()

	s, err := New(srv.URL, WithLanguage("de"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pb, err := s.Synthesize(context.Background(), "guten tag", speech.VoiceOptions{Voice: "thorsten"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-pb.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not start")
	}

	var received []byte
	for chunk := range pb.(*Playback).Audio() {
		received = append(received, chunk...)
	}
	if !bytes.Equal(received, pcm) {
		t.Errorf("received %d bytes, want %d matching bytes", len(received), len(pcm))
	}

	select {
	case err := <-pb.Done():
		if err != nil {
			t.Errorf("done: got error %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not finish")
	}

	for _, want := range []string{"text=guten+tag", "language_id=de", "speaker_id=thorsten"} {
		if !bytes.Contains([]byte(gotQuery), []byte(want)) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := New(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pb, err := s.Synthesize(context.Background(), "hello", speech.VoiceOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case err := <-pb.Done():
		if err == nil {
			t.Error("expected synthesis error, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not report failure")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	s, err := New("http://localhost:5002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), "", speech.VoiceOptions{}); err == nil {
		t.Fatal("expected error for empty text, got nil")
	}
}
