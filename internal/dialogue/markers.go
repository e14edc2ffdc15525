package dialogue

import (
	"regexp"
	"strconv"
	"strings"
)

var inlineMarkerRegex = regexp.MustCompile(`\[\[(.*?)\]\]`)

// extractMarkers removes [[key=value;...]] markers from text and applies
// their overrides to chunk. Unknown keys and malformed values are ignored.
func extractMarkers(text string, chunk *Chunk) string {
	matches := inlineMarkerRegex.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text
	}

	for _, m := range matches {
		applyMarker(m[1], chunk)
	}

	cleaned := inlineMarkerRegex.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}

func applyMarker(raw string, chunk *Chunk) {
	for _, pair := range strings.Split(raw, ";") {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}

		switch key {
		case "voice":
			chunk.Voice = val
			chunk.Speaker = ""
		case "emotion", "style":
			chunk.Emotion = val
		case "intensity", "styledegree":
			if n, err := strconv.Atoi(val); err == nil {
				chunk.Intensity = n
			}
		case "pitch":
			if n, err := strconv.Atoi(val); err == nil {
				chunk.Pitch = n
			}
		case "speed", "rate":
			if n, err := strconv.Atoi(val); err == nil {
				chunk.Speed = n
			}
		case "volume":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				chunk.Volume = int(f)
			}
		}
	}
}
