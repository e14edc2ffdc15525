// Package dialogue turns raw request text into an ordered list of chunks.
//
// Lines of the form "[Token]: content" or "[Token:Emotion]: content" are
// dialogue markup. A token containing a hyphen is a direct voice id, any other
// token is a speaker name looked up in the speaker table. Every other line is
// plain prose. Parsing is pure: the same input always yields the same chunks.
package dialogue

import (
	"sort"
	"strings"

	"github.com/lexiqai/voice-composer/internal/diag"
)

const markupPrefix = "["

// Result is the output of a parse
type Result struct {
	Chunks   []Chunk
	Markup   bool // true when at least one line used dialogue markup
	Warnings []diag.Warning
}

// Parser parses dialogue markup against a speaker→voice table
type Parser struct {
	speakers map[string]string
	folded   map[string]string
}

// NewParser creates a parser using the given speaker→voice table
func NewParser(speakers map[string]string) *Parser {
	p := &Parser{
		speakers: make(map[string]string, len(speakers)),
		folded:   make(map[string]string, len(speakers)),
	}

	// Sorted so that case-folded collisions resolve the same way every time
	names := make([]string, 0, len(speakers))
	for name := range speakers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		voice := speakers[name]
		p.speakers[name] = voice
		key := strings.ToLower(name)
		if _, exists := p.folded[key]; !exists {
			p.folded[key] = voice
		}
	}
	return p
}

// ResolveVoice maps a markup token to a voice id.
// Hyphenated tokens are direct voice ids; other tokens go through the speaker
// table, exact match first, then case-insensitive. Returns "" when unresolved.
func (p *Parser) ResolveVoice(token string) string {
	if strings.Contains(token, "-") {
		return token
	}
	if voice, ok := p.speakers[token]; ok {
		return voice
	}
	if voice, ok := p.folded[strings.ToLower(token)]; ok {
		return voice
	}
	return ""
}

// Parse splits text into chunks, one per non-blank line, in input order
func (p *Parser) Parse(text string) Result {
	var result Result

	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		index := len(result.Chunks)
		chunk, isMarkup, ambiguous := p.parseLine(index, line)
		if isMarkup {
			result.Markup = true
		}
		if ambiguous {
			result.Warnings = append(result.Warnings, diag.Warnf(index, diag.ParseAmbiguity,
				"line %q looks like dialogue markup but is not; treated as plain text", line))
		}
		result.Chunks = append(result.Chunks, chunk)
	}

	return result
}

func (p *Parser) parseLine(index int, line string) (Chunk, bool, bool) {
	token, emotion, content, ok := splitMarkup(line)
	if !ok {
		chunk := NewChunk(index, "")
		chunk.Content = extractMarkers(line, &chunk)
		return chunk, false, looksLikeMarkup(line)
	}

	chunk := NewChunk(index, "")
	chunk.Voice = p.ResolveVoice(token)
	if chunk.Voice == "" {
		chunk.Speaker = token
	}
	chunk.Emotion = emotion
	chunk.Content = extractMarkers(content, &chunk)
	return chunk, true, false
}

// splitMarkup matches "[Token]: content" and "[Token:Emotion]: content".
// Token may not contain ']' or ':'; Emotion is everything up to ']'.
func splitMarkup(line string) (token, emotion, content string, ok bool) {
	if !strings.HasPrefix(line, markupPrefix) || strings.HasPrefix(line, "[[") {
		return "", "", "", false
	}

	closing := strings.Index(line, "]")
	if closing < 0 || !strings.HasPrefix(line[closing+1:], ":") {
		return "", "", "", false
	}

	inner := line[1:closing]
	token, emotion, _ = strings.Cut(inner, ":")
	token = strings.TrimSpace(token)
	emotion = strings.TrimSpace(emotion)
	content = strings.TrimSpace(line[closing+2:])

	if token == "" || content == "" {
		return "", "", "", false
	}
	return token, emotion, content, true
}

func looksLikeMarkup(line string) bool {
	return strings.HasPrefix(line, markupPrefix) &&
		!strings.HasPrefix(line, "[[") &&
		strings.Contains(line, "]")
}
