package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleCatalog = `
speakers:
  Jenny: en-US-JennyNeural
  Guy: en-US-GuyNeural
voices:
  - id: en-US-JennyNeural
    locale: en-US
    gender: Female
    styles: [Cheerful, sad, whispering]
    backends: [edge, cartesia]
  - id: en-US-GuyNeural
    locale: en-US
    gender: Male
    styles: [newscast]
    backends: [edge]
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	voices := c.ListVoices()
	if len(voices) != 2 {
		t.Fatalf("Expected 2 voices, got %d", len(voices))
	}
	if voices[0].ID != "en-US-GuyNeural" {
		t.Errorf("Expected voices sorted by id, got %s first", voices[0].ID)
	}

	jenny, ok := c.Voice("en-US-JennyNeural")
	if !ok {
		t.Fatal("Expected Jenny to be in catalog")
	}
	if jenny.Backends[0] != "edge" {
		t.Errorf("Expected preferred backend edge, got %v", jenny.Backends)
	}

	styles, ok := c.Styles("en-US-JennyNeural")
	if !ok {
		t.Fatal("Expected styles for Jenny")
	}
	if styles["cheerful"] != "Cheerful" {
		t.Errorf("Expected case-folded style lookup to keep catalog spelling, got %q", styles["cheerful"])
	}

	if c.Speakers()["Guy"] != "en-US-GuyNeural" {
		t.Errorf("Expected Guy speaker mapping, got %v", c.Speakers())
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("voices:\n  - locale: en-US\n")); err == nil {
		t.Error("Expected error for voice without id")
	}
	if _, err := Parse([]byte("voices:\n  - id: a\n  - id: a\n")); err == nil {
		t.Error("Expected error for duplicate voice id")
	}
	if _, err := Parse([]byte("voices: [")); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if _, ok := c.Voice("en-US-GuyNeural"); !ok {
		t.Error("Expected Guy in loaded catalog")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestSpeakersReturnsCopy(t *testing.T) {
	c := New(nil, map[string]string{"A": "a-voice"})
	s := c.Speakers()
	s["A"] = "changed"
	if c.Speakers()["A"] != "a-voice" {
		t.Error("Expected Speakers to return a copy")
	}
}
