package speechctl

import (
	"strings"
	"testing"
)

func TestChunkText(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{
			"empty",
			"   ",
			10,
			nil,
		},
		{
			"fits in one chunk",
			"Short question?",
			5000,
			[]string{"Short question?"},
		},
		{
			"splits at sentence boundaries",
			"One here. Two here. Three here.",
			12,
			[]string{"One here.", "Two here.", "Three here."},
		},
		{
			"packs sentences greedily",
			"One here. Two here. Three here.",
			20,
			[]string{"One here. Two here.", "Three here."},
		},
		{
			"hard-splits an oversized sentence",
			"abcdefghij klmnopqrst",
			10,
			[]string{"abcdefghij", "klmnopqrst"},
		},
		{
			"keeps terminator runs together",
			"Really?! Yes. Definitely.",
			12,
			[]string{"Really?!", "Yes.", "Definitely."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkText(tt.text, tt.max)
			if len(got) != len(tt.want) {
				t.Fatalf("chunkText = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestChunkTextRespectsCap(t *testing.T) {
	text := strings.Repeat("A fairly ordinary sentence about the interview process. ", 200)
	chunks := chunkText(text, 500)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want the text split", len(chunks))
	}
	var total int
	for _, c := range chunks {
		if len(c) > 500 {
			t.Errorf("chunk of %d bytes exceeds the cap", len(c))
		}
		total += len(c)
	}
	// Nothing is lost beyond the joining whitespace.
	if compact := len(strings.Join(strings.Fields(text), " ")); total < compact-len(chunks) {
		t.Errorf("chunks total %d bytes, want ~%d", total, compact)
	}
}
