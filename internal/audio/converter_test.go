package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestDecodePCM(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		bitDepth int
		want     []int16
	}{
		{"8-bit unsigned", []byte{128, 255, 0}, 8, []int16{0, 32512, -32768}},
		{"16-bit", []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}, 16, []int16{0, 32767, -32768}},
		{"24-bit", []byte{0x00, 0x00, 0x80, 0xFF, 0xFF, 0x7F}, 24, []int16{-32768, 32767}},
		{"32-bit", []byte{0xFF, 0xFF, 0xFF, 0x7F, 0x00, 0x00, 0x00, 0x80}, 32, []int16{32767, -32768}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePCM(tt.data, tt.bitDepth)
			if err != nil {
				t.Fatalf("DecodePCM() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d samples, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Sample %d: expected %d, got %d", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestDecodePCM_Invalid(t *testing.T) {
	if _, err := DecodePCM([]byte{1, 2, 3}, 16); err == nil {
		t.Error("Expected error for odd-length 16-bit data")
	}
	if _, err := DecodePCM([]byte{1, 2}, 12); err == nil {
		t.Error("Expected error for 12-bit depth")
	}
}

func TestEncodePCM16(t *testing.T) {
	samples := []int16{0, 32767, -32768}
	data := EncodePCM16(samples)

	expected := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	if len(data) != len(expected) {
		t.Fatalf("Expected %d bytes, got %d", len(expected), len(data))
	}
	for i, exp := range expected {
		if data[i] != exp {
			t.Errorf("Expected byte %d at index %d, got %d", exp, i, data[i])
		}
	}

	back, _ := DecodePCM(data, 16)
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("Round trip mismatch at %d: %d != %d", i, back[i], samples[i])
		}
	}
}

func TestResample(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 100)
	}

	if got := len(Resample(samples, 1, 8000, 16000)); got != 200 {
		t.Errorf("Expected 200 samples after upsampling, got %d", got)
	}
	if got := len(Resample(samples, 1, 16000, 8000)); got != 50 {
		t.Errorf("Expected 50 samples after downsampling, got %d", got)
	}
	if got := len(Resample(samples, 1, 8000, 8000)); got != len(samples) {
		t.Errorf("Expected unchanged length %d, got %d", len(samples), got)
	}

	// Stereo keeps whole frames
	stereo := make([]int16, 200)
	if got := len(Resample(stereo, 2, 22050, 24000)); got%2 != 0 || got/2 != int(math.Round(100*24000.0/22050.0)) {
		t.Errorf("Unexpected stereo resample length %d", got)
	}
}

func TestResample_Interpolates(t *testing.T) {
	out := Resample([]int16{0, 1000}, 1, 1, 2)
	if len(out) != 4 {
		t.Fatalf("Expected 4 samples, got %d", len(out))
	}
	if out[0] != 0 || out[1] != 500 || out[2] != 1000 {
		t.Errorf("Unexpected interpolation %v", out)
	}
}

func TestRemix(t *testing.T) {
	mono := Remix([]int16{100, 300, -200, -400}, 2, 1)
	if len(mono) != 2 || mono[0] != 200 || mono[1] != -300 {
		t.Errorf("Expected averaged mono [200 -300], got %v", mono)
	}

	stereo := Remix([]int16{5, 7}, 1, 2)
	if len(stereo) != 4 || stereo[0] != 5 || stereo[1] != 5 || stereo[2] != 7 || stereo[3] != 7 {
		t.Errorf("Expected duplicated stereo, got %v", stereo)
	}
}

func TestMulaw_RoundTrip(t *testing.T) {
	samples := []int16{-32768, -16000, -1000, -100, 0, 100, 1000, 4096, 16000, 32767}
	encoded := EncodeMulaw(samples)
	if len(encoded) != len(samples) {
		t.Fatalf("Expected %d bytes, got %d", len(samples), len(encoded))
	}

	decoded := DecodeMulaw(encoded)
	for i, s := range samples {
		abs := math.Abs(float64(s))
		tolerance := abs/10 + 64
		if diff := math.Abs(float64(s) - float64(decoded[i])); diff > tolerance {
			t.Errorf("Sample %d: recovered %d, diff %.0f > %.0f", s, decoded[i], diff, tolerance)
		}
	}
}

func TestMulaw_KnownValues(t *testing.T) {
	if b := linearToMulaw(0); b != 0xFF {
		t.Errorf("Expected silence to encode as 0xFF, got %#x", b)
	}
	if s := mulawToLinear(0xFF); s != 0 {
		t.Errorf("Expected 0xFF to decode as 0, got %d", s)
	}
	// Positive and negative full scale sit in the top segment
	if b := linearToMulaw(32767); b != 0x80 {
		t.Errorf("Expected positive full scale 0x80, got %#x", b)
	}
	if b := linearToMulaw(-32768); b != 0x00 {
		t.Errorf("Expected negative full scale 0x00, got %#x", b)
	}
}

func TestResampleTo(t *testing.T) {
	in := make([]int16, 2205)
	for i := range in {
		in[i] = 1200
	}

	// Neighbouring segments can round the same nominal length differently
	for _, frames := range []int{2399, 2400, 2401} {
		out := ResampleTo(in, 1, 22050, 24000, frames)
		if len(out) != frames {
			t.Fatalf("Expected exactly %d frames, got %d", frames, len(out))
		}
		for i, v := range out {
			if v != 1200 {
				t.Fatalf("Frame %d: expected constant 1200, got %d", i, v)
			}
		}
	}

	if out := ResampleTo(nil, 1, 22050, 24000, 10); len(out) != 10 {
		t.Errorf("Expected 10 silent frames for empty input, got %d", len(out))
	}
	if out := ResampleTo(in, 1, 22050, 22050, len(in)); &out[0] != &in[0] {
		t.Error("Expected same-rate same-length input to pass through")
	}
}

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
