// Package cache memoizes synthesized segments so repeated lines in a request,
// or across requests, skip the backend round trip.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lexiqai/voice-composer/internal/tts"
)

// DefaultSize is the number of segments kept when no size is configured
const DefaultSize = 512

// Key identifies a synthesis request by everything that changes its audio
type Key string

// KeyFor hashes the voice, style, prosody and text of a request
func KeyFor(req *tts.Request) Key {
	h := sha256.New()
	for _, s := range []string{req.Voice, req.Emotion, req.Text} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}

	var nums [8 * 5]byte
	binary.BigEndian.PutUint64(nums[0:], math.Float64bits(req.StyleDegree))
	binary.BigEndian.PutUint64(nums[8:], uint64(int64(req.Speed)))
	binary.BigEndian.PutUint64(nums[16:], uint64(int64(req.Pitch)))
	binary.BigEndian.PutUint64(nums[24:], uint64(int64(req.Volume)))
	binary.BigEndian.PutUint64(nums[32:], uint64(int64(req.SampleRate)))
	h.Write(nums[:])

	return Key(hex.EncodeToString(h.Sum(nil)))
}

// Entry is a cached segment together with the backend that produced it
type Entry struct {
	Audio   *tts.Audio
	Backend string
}

// Segments is a fixed-size LRU of synthesized audio. A nil *Segments is a
// valid, always-missing cache.
type Segments struct {
	lru *lru.Cache[Key, Entry]
}

// New creates a segment cache holding up to size entries; size <= 0 disables caching
func New(size int) (*Segments, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[Key, Entry](size)
	if err != nil {
		return nil, err
	}
	return &Segments{lru: c}, nil
}

// Get returns a cached segment
func (s *Segments) Get(key Key) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	return s.lru.Get(key)
}

// Add stores a segment. Callers must not mutate the audio afterwards.
func (s *Segments) Add(key Key, e Entry) {
	if s == nil || e.Audio == nil {
		return
	}
	s.lru.Add(key, e)
}

// Len returns the number of cached segments
func (s *Segments) Len() int {
	if s == nil {
		return 0
	}
	return s.lru.Len()
}

// Purge drops every cached segment
func (s *Segments) Purge() {
	if s == nil {
		return
	}
	s.lru.Purge()
}
