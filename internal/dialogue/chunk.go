package dialogue

// Default prosody values applied to every parsed chunk
const (
	DefaultIntensity = 2
	MinIntensity     = 1
	MaxIntensity     = 3
	MinProsody       = -50
	MaxProsody       = 50
)

// Prosody holds percentage offsets for rate, pitch and volume (-50..+50).
// On a chunk, zero means unset: the field takes the request's global value,
// so a chunk cannot force 0 back over a non-zero global.
type Prosody struct {
	Speed  int `json:"speed"`
	Pitch  int `json:"pitch"`
	Volume int `json:"volume"`
}

// IsNeutral reports whether every field is zero
func (p Prosody) IsNeutral() bool {
	return p.Speed == 0 && p.Pitch == 0 && p.Volume == 0
}

// Chunk is one ordered, independently synthesizable unit of text
type Chunk struct {
	Index   int    `json:"index"`
	Content string `json:"content"`

	// Voice is empty when the chunk inherits the request's global voice
	Voice   string `json:"voice,omitempty"`
	Emotion string `json:"emotion,omitempty"`

	// Speaker is the markup token that could not be resolved to a voice
	Speaker string `json:"speaker,omitempty"`

	Intensity int `json:"intensity"`
	Prosody
}

// NewChunk creates a chunk with default intensity and neutral prosody
func NewChunk(index int, content string) Chunk {
	return Chunk{
		Index:     index,
		Content:   content,
		Intensity: DefaultIntensity,
	}
}

// SameStyle reports whether two chunks carry identical voice, emotion and prosody overrides
func (c Chunk) SameStyle(other Chunk) bool {
	return c.Voice == other.Voice &&
		c.Speaker == other.Speaker &&
		c.Emotion == other.Emotion &&
		c.Intensity == other.Intensity &&
		c.Prosody == other.Prosody
}
