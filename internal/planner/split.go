package planner

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lexiqai/voice-composer/internal/dialogue"
)

// Delimiter runs stay attached to the fragment they end
var sentenceEndRegex = regexp.MustCompile(`(?:\.{3,}|…|---|—|[.!?,;])+`)

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// splitSentences cuts text after every delimiter run
func splitSentences(text string) []string {
	var parts []string
	cursor := 0
	for _, loc := range sentenceEndRegex.FindAllStringIndex(text, -1) {
		if part := strings.TrimSpace(text[cursor:loc[1]]); part != "" {
			parts = append(parts, part)
		}
		cursor = loc[1]
	}
	if tail := strings.TrimSpace(text[cursor:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

// mergeShort folds fragments shorter than minLen into their neighbour.
// Only fragments with identical style overrides are merged.
func mergeShort(pieces []dialogue.Chunk, minLen int) []dialogue.Chunk {
	merged := make([]dialogue.Chunk, 0, len(pieces))
	for _, p := range pieces {
		if n := len(merged); n > 0 && runeLen(p.Content) < minLen && merged[n-1].SameStyle(p) {
			merged[n-1].Content = merged[n-1].Content + " " + p.Content
			continue
		}
		merged = append(merged, p)
	}

	// A short first fragment has no predecessor; fold it forward
	if len(merged) > 1 && runeLen(merged[0].Content) < minLen && merged[0].SameStyle(merged[1]) {
		merged[1].Content = merged[0].Content + " " + merged[1].Content
		merged = merged[1:]
	}
	return merged
}

// hardSplit breaks text into pieces of at most maxLen runes on word
// boundaries. A single word longer than maxLen becomes its own piece and is
// reported through oversized. A short tail is rebalanced with its predecessor.
func hardSplit(text string, maxLen, minLen int) (pieces []string, oversized []string) {
	if runeLen(text) <= maxLen {
		return []string{text}, nil
	}

	var groups [][]string
	var cur []string
	curLen := 0
	for _, word := range strings.Fields(text) {
		wl := runeLen(word)
		if wl > maxLen {
			oversized = append(oversized, word)
		}
		if len(cur) > 0 && curLen+1+wl > maxLen {
			groups = append(groups, cur)
			cur, curLen = nil, 0
		}
		if len(cur) > 0 {
			curLen++
		}
		cur = append(cur, word)
		curLen += wl
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}

	groups = rebalanceTail(groups, maxLen, minLen)

	pieces = make([]string, len(groups))
	for i, g := range groups {
		pieces[i] = strings.Join(g, " ")
	}
	return pieces, oversized
}

func rebalanceTail(groups [][]string, maxLen, minLen int) [][]string {
	n := len(groups)
	if n < 2 {
		return groups
	}

	joinedLen := func(words []string) int { return runeLen(strings.Join(words, " ")) }

	last, prev := groups[n-1], groups[n-2]
	if joinedLen(last) >= minLen {
		return groups
	}
	if joinedLen(prev)+1+joinedLen(last) <= maxLen {
		groups[n-2] = append(prev, last...)
		return groups[:n-1]
	}

	for joinedLen(last) < minLen && len(prev) > 1 {
		word := prev[len(prev)-1]
		if joinedLen(last)+1+runeLen(word) > maxLen {
			break
		}
		prev = prev[:len(prev)-1]
		last = append([]string{word}, last...)
	}
	groups[n-2], groups[n-1] = prev, last
	return groups
}
