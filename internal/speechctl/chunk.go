package speechctl

import "strings"

// sentenceEnd reports whether b terminates a sentence.
func sentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// chunkText splits text into sentence-bounded segments of at most maxChars
// bytes each. Sentences are accumulated greedily; a single sentence longer
// than maxChars is hard-split at the cap. Whitespace-only input yields no
// chunks.
func chunkText(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	for _, sentence := range splitSentences(text) {
		for len(sentence) > maxChars {
			if cur.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(cur.String()))
				cur.Reset()
			}
			chunks = append(chunks, strings.TrimSpace(sentence[:maxChars]))
			sentence = strings.TrimSpace(sentence[maxChars:])
		}
		if cur.Len() > 0 && cur.Len()+1+len(sentence) > maxChars {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(sentence)
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// splitSentences cuts text after sentence-terminating punctuation followed by
// whitespace. The terminator stays with its sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !sentenceEnd(text[i]) {
			continue
		}
		// Swallow runs of terminators ("?!", "...").
		for i+1 < len(text) && sentenceEnd(text[i+1]) {
			i++
		}
		if i+1 < len(text) && text[i+1] != ' ' && text[i+1] != '\n' && text[i+1] != '\t' {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
