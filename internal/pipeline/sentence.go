package pipeline

import "strings"

// SentenceBuffer accumulates streamed LLM tokens and splits them at
// sentence boundaries, so the dialogue service can forward whole
// sentences to the TTS orchestrator's AddText instead of one synthesis
// call per token (§4.10 item 6, §2's "utterance boundary detection").
type SentenceBuffer struct {
	buf strings.Builder
}

// NewSentenceBuffer creates an empty buffer.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{}
}

// Add appends a token and returns any complete sentence ready for TTS.
// Returns empty string if no sentence boundary detected yet.
func (s *SentenceBuffer) Add(token string) string {
	s.buf.WriteString(token)
	text := s.buf.String()
	complete, remainder := splitAtSentence(text)
	if complete == "" {
		return ""
	}
	s.buf.Reset()
	s.buf.WriteString(remainder)
	return complete
}

// Flush returns any remaining text in the buffer.
func (s *SentenceBuffer) Flush() string {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return text
}

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// splitAtSentence finds the last sentence boundary in text.
// A boundary is a sentence ender (.!?) followed by whitespace.
// Returns (completeSentences, remainder). If no boundary, returns ("", text).
func splitAtSentence(text string) (string, string) {
	lastIdx := -1
	for i := range len(text) - 1 {
		if sentenceEnders[text[i]] && isWordBoundary(text[i+1]) {
			lastIdx = i + 1
		}
	}
	if lastIdx < 0 {
		return "", text
	}
	return strings.TrimSpace(text[:lastIdx]), text[lastIdx:]
}

func isWordBoundary(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t'
}
