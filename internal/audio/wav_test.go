package audio

import (
	"bytes"
	"testing"
)

func TestWAV_RoundTrip(t *testing.T) {
	samples := []int16{0, 1200, -1200, 32767, -32768, 42}

	data, err := EncodeWAV(samples, 16000, 2)
	if err != nil {
		t.Fatalf("EncodeWAV() failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		t.Fatalf("Expected RIFF/WAVE header, got %q", data[:12])
	}
	if len(data) != 44+len(samples)*2 {
		t.Errorf("Expected %d bytes, got %d", 44+len(samples)*2, len(data))
	}

	got, rate, channels, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() failed: %v", err)
	}
	if rate != 16000 || channels != 2 {
		t.Errorf("Expected 16000Hz stereo, got %dHz %dch", rate, channels)
	}
	if len(got) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	if _, _, _, err := DecodeWAV([]byte("definitely not a wav file")); err == nil {
		t.Error("Expected error for non-WAV payload")
	}
}

func TestWriteSeeker(t *testing.T) {
	ws := &writeSeeker{}
	ws.Write([]byte("abcdef"))
	if _, err := ws.Seek(2, 0); err != nil {
		t.Fatal(err)
	}
	ws.Write([]byte("XY"))
	if _, err := ws.Seek(0, 2); err != nil {
		t.Fatal(err)
	}
	ws.Write([]byte("!"))

	if string(ws.buf) != "abXYef!" {
		t.Errorf("Expected abXYef!, got %q", ws.buf)
	}
	if _, err := ws.Seek(-1, 0); err == nil {
		t.Error("Expected error for negative seek")
	}
}
