package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodePCM converts little-endian PCM of the given bit depth to 16-bit
// samples. 8-bit PCM is unsigned, wider depths are signed.
func DecodePCM(data []byte, bitDepth int) ([]int16, error) {
	if bitDepth%8 != 0 || bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported PCM bit depth %d", bitDepth)
	}
	width := bitDepth / 8
	if len(data)%width != 0 {
		return nil, fmt.Errorf("PCM data length %d is not a multiple of %d-byte samples", len(data), width)
	}

	samples := make([]int16, len(data)/width)
	for i := range samples {
		b := data[i*width:]
		switch width {
		case 1:
			samples[i] = int16(int(b[0])-128) << 8
		case 2:
			samples[i] = int16(binary.LittleEndian.Uint16(b))
		case 3:
			v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
			samples[i] = int16(v >> 8)
		case 4:
			samples[i] = int16(int32(binary.LittleEndian.Uint32(b)) >> 16)
		}
	}
	return samples, nil
}

// EncodePCM16 writes samples as little-endian 16-bit PCM
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Resample performs linear interpolation resampling on interleaved samples.
// The output holds round(frames * outputRate / inputRate) frames.
func Resample(samples []int16, channels, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 || channels <= 0 {
		return samples
	}
	inFrames := len(samples) / channels
	outFrames := int(math.Round(float64(inFrames) * float64(outputRate) / float64(inputRate)))
	return ResampleTo(samples, channels, inputRate, outputRate, outFrames)
}

// ResampleTo resamples interleaved samples to exactly outFrames frames. The
// caller picks outFrames so rounding does not accumulate across segments.
func ResampleTo(samples []int16, channels, inputRate, outputRate, outFrames int) []int16 {
	if channels <= 0 || outFrames <= 0 || len(samples) < channels {
		return make([]int16, max(outFrames, 0)*max(channels, 0))
	}

	inFrames := len(samples) / channels
	if inputRate == outputRate && inFrames == outFrames {
		return samples
	}

	output := make([]int16, outFrames*channels)
	ratio := float64(outputRate) / float64(inputRate)

	for i := 0; i < outFrames; i++ {
		// Calculate source position
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		if idx0 >= inFrames {
			idx0 = inFrames - 1
		}
		idx1 := idx0 + 1
		if idx1 >= inFrames {
			idx1 = inFrames - 1
		}
		fraction := srcPos - float64(idx0)
		if fraction > 1 {
			fraction = 1
		}

		for c := 0; c < channels; c++ {
			s0 := float64(samples[idx0*channels+c])
			s1 := float64(samples[idx1*channels+c])
			output[i*channels+c] = int16(s0 + (s1-s0)*fraction)
		}
	}

	return output
}

// Remix converts interleaved samples between channel counts. Down-mixing to
// mono averages the channels; other conversions map channel c to c % inChannels.
func Remix(samples []int16, inChannels, outChannels int) []int16 {
	if inChannels == outChannels || inChannels <= 0 || outChannels <= 0 {
		return samples
	}

	frames := len(samples) / inChannels
	output := make([]int16, frames*outChannels)

	for f := 0; f < frames; f++ {
		frame := samples[f*inChannels : (f+1)*inChannels]
		if outChannels == 1 {
			sum := 0
			for _, s := range frame {
				sum += int(s)
			}
			output[f] = int16(sum / inChannels)
			continue
		}
		for c := 0; c < outChannels; c++ {
			output[f*outChannels+c] = frame[c%inChannels]
		}
	}

	return output
}

// EncodeMulaw converts 16-bit samples to G.711 PCMU (μ-law)
func EncodeMulaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToMulaw(s)
	}
	return out
}

// DecodeMulaw converts G.711 PCMU (μ-law) bytes to 16-bit samples
func DecodeMulaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = mulawToLinear(b)
	}
	return out
}

// linearToMulaw converts a 16-bit linear PCM sample to 8-bit μ-law
// G.711 μ-law encoding algorithm (ITU-T G.711 standard)
func linearToMulaw(sample int16) byte {
	const (
		clip = 8158 // Maximum magnitude to clip input (14-bit range)
		bias = 0x21 // Bias value (33 decimal)
	)

	var sign byte
	// 16-bit input is scaled to the 14-bit μ-law range
	magnitude := int32(sample) >> 2

	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}

	if magnitude > clip {
		magnitude = clip
	}
	magnitude += bias

	// Segment is the position of the highest set bit above bit 5
	var segment byte
	for temp := magnitude >> 6; temp > 0 && segment < 7; temp >>= 1 {
		segment++
	}

	mantissa := byte((magnitude >> (segment + 1)) & 0x0F)

	// Combine sign, segment, and mantissa, then invert all bits
	return ^(sign | (segment << 4) | mantissa)
}

// mulawToLinear converts an 8-bit μ-law sample to 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	// Invert all bits first (μ-law uses inverted representation)
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	// step = (mantissa << (segment + 1)) + (33 << segment); magnitude = step - 33
	step := mantissa << (segment + 1)
	step += int32(33) << segment
	magnitude := (step - 33) << 2

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}
