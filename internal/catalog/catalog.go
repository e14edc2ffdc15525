// Package catalog exposes the read-only voice capability catalog.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// VoiceProfile describes one voice and what it can do
type VoiceProfile struct {
	ID       string   `yaml:"id" json:"id"`
	Locale   string   `yaml:"locale" json:"locale"`
	Gender   string   `yaml:"gender" json:"gender"`
	Styles   []string `yaml:"styles" json:"styles"`
	Backends []string `yaml:"backends" json:"backends"` // preferred backends, best first
}

// Catalog is the voice capability contract consumed by the planner
type Catalog interface {
	// ListVoices returns every known voice, sorted by id
	ListVoices() []VoiceProfile

	// Voice returns the profile of a voice
	Voice(id string) (VoiceProfile, bool)

	// Styles returns the set of emotion/style names a voice supports (lower-cased keys)
	Styles(id string) (map[string]string, bool)

	// Speakers returns the logical speaker name → voice id table
	Speakers() map[string]string
}

// File is the on-disk layout of a catalog
type File struct {
	Speakers map[string]string `yaml:"speakers"`
	Voices   []VoiceProfile    `yaml:"voices"`
}

// StaticCatalog is an immutable in-memory catalog
type StaticCatalog struct {
	voices   map[string]VoiceProfile
	styles   map[string]map[string]string
	speakers map[string]string
}

// New builds a catalog from voice profiles and a speaker table
func New(voices []VoiceProfile, speakers map[string]string) *StaticCatalog {
	c := &StaticCatalog{
		voices:   make(map[string]VoiceProfile, len(voices)),
		styles:   make(map[string]map[string]string, len(voices)),
		speakers: make(map[string]string, len(speakers)),
	}

	for _, v := range voices {
		c.voices[v.ID] = v
		set := make(map[string]string, len(v.Styles))
		for _, s := range v.Styles {
			set[strings.ToLower(s)] = s
		}
		c.styles[v.ID] = set
	}
	for name, voice := range speakers {
		c.speakers[name] = voice
	}

	return c
}

// Load reads a YAML catalog file
func Load(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document
func Parse(data []byte) (*StaticCatalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse voice catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Voices))
	for i, v := range f.Voices {
		if v.ID == "" {
			return nil, fmt.Errorf("voice catalog entry %d has no id", i)
		}
		if seen[v.ID] {
			return nil, fmt.Errorf("voice %q listed twice in catalog", v.ID)
		}
		seen[v.ID] = true
	}

	return New(f.Voices, f.Speakers), nil
}

// ListVoices returns every known voice, sorted by id
func (c *StaticCatalog) ListVoices() []VoiceProfile {
	out := make([]VoiceProfile, 0, len(c.voices))
	for _, v := range c.voices {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Voice returns the profile of a voice
func (c *StaticCatalog) Voice(id string) (VoiceProfile, bool) {
	v, ok := c.voices[id]
	return v, ok
}

// Styles returns the lower-cased style set of a voice mapped to its catalog spelling
func (c *StaticCatalog) Styles(id string) (map[string]string, bool) {
	s, ok := c.styles[id]
	return s, ok
}

// Speakers returns a copy of the speaker table
func (c *StaticCatalog) Speakers() map[string]string {
	out := make(map[string]string, len(c.speakers))
	for k, v := range c.speakers {
		out[k] = v
	}
	return out
}
