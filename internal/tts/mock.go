package tts

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockBehavior scripts the outcome of one mock call
type MockBehavior struct {
	Delay time.Duration
	Err   error
}

// MockBackend is an in-process backend for tests and local runs. Without a
// script it synthesizes a short sine tone whose length follows the text.
type MockBackend struct {
	name   string
	format Format

	mu     sync.Mutex
	script []MockBehavior
	calls  []Request

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	healthErr   error
}

// NewMockBackend creates a mock backend that answers 24kHz mono PCM16
func NewMockBackend(name string) *MockBackend {
	return &MockBackend{name: name, format: DefaultFormat()}
}

// WithFormat changes the output format (PCM encodings only)
func (m *MockBackend) WithFormat(f Format) *MockBackend {
	m.format = f
	return m
}

// Script queues behaviors consumed one per call; once exhausted calls succeed
func (m *MockBackend) Script(behaviors ...MockBehavior) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, behaviors...)
	return m
}

// FailHealth makes HealthCheck return err
func (m *MockBackend) FailHealth(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthErr = err
}

// Calls returns a copy of every request received
func (m *MockBackend) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// MaxInFlight returns the highest observed concurrency
func (m *MockBackend) MaxInFlight() int {
	return int(m.maxInFlight.Load())
}

// Name returns the backend identifier
func (m *MockBackend) Name() string {
	return m.name
}

// Synthesize plays the next scripted behavior or renders a tone
func (m *MockBackend) Synthesize(ctx context.Context, req *Request) (*Audio, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, *req)
	var behavior MockBehavior
	if len(m.script) > 0 {
		behavior = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if behavior.Delay > 0 {
		timer := time.NewTimer(behavior.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, TransportError(m.name, ctx.Err())
		case <-timer.C:
		}
	}
	if behavior.Err != nil {
		return nil, behavior.Err
	}

	return &Audio{Data: MockTone(m.format, MockDuration(req.Text)), Format: m.format}, nil
}

// HealthCheck returns the configured health error, if any
func (m *MockBackend) HealthCheck(ctx context.Context) (Health, error) {
	m.mu.Lock()
	err := m.healthErr
	m.mu.Unlock()

	if err != nil {
		return Health{Detail: err.Error()}, err
	}
	return Health{OK: true, Detail: "mock"}, nil
}

// Close is a no-op
func (m *MockBackend) Close() error {
	return nil
}

// MockDuration is the tone length rendered for text: 10ms per rune, at least 50ms
func MockDuration(text string) time.Duration {
	d := time.Duration(len([]rune(text))) * 10 * time.Millisecond
	if d < 50*time.Millisecond {
		d = 50 * time.Millisecond
	}
	return d
}

// MockTone renders a 440Hz sine tone as little-endian PCM in format f
func MockTone(f Format, d time.Duration) []byte {
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	bytesPerSample := f.BitDepth / 8
	out := make([]byte, frames*f.Channels*bytesPerSample)

	pos := 0
	for i := 0; i < frames; i++ {
		v := 0.3 * math.Sin(2*math.Pi*440*float64(i)/float64(f.SampleRate))
		for c := 0; c < f.Channels; c++ {
			switch bytesPerSample {
			case 1:
				out[pos] = byte(128 + int(v*127))
			case 2:
				binary.LittleEndian.PutUint16(out[pos:], uint16(int16(v*math.MaxInt16)))
			case 3:
				s := int32(v * 8388607)
				out[pos], out[pos+1], out[pos+2] = byte(s), byte(s>>8), byte(s>>16)
			case 4:
				binary.LittleEndian.PutUint32(out[pos:], uint32(int32(v*math.MaxInt32)))
			}
			pos += bytesPerSample
		}
	}
	return out
}
