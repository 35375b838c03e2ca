package audio

import (
	"encoding/binary"
	"math"
)

// PCM16ToFloat32 scales 16-bit samples into [-1, 1]. Negative samples
// divide by 32768 and non-negative by 32767 so both extremes map exactly
// to -1.0 and +1.0.
func PCM16ToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		if s < 0 {
			out[i] = float32(s) / 32768
		} else {
			out[i] = float32(s) / 32767
		}
	}
	return out
}

// Float32ToPCM16 quantizes float samples to 16-bit, clamping to [-1, 1]
// first so +1.0 cannot overflow.
func Float32ToPCM16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, f := range in {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		if f < 0 {
			out[i] = int16(f * 32768)
		} else {
			out[i] = int16(f * 32767)
		}
	}
	return out
}

// BytesToPCM16 reinterprets little-endian sample bytes. A trailing odd
// byte is dropped rather than producing a torn sample.
func BytesToPCM16(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// PCM16ToBytes serializes samples as little-endian bytes.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMS computes the root-mean-square amplitude of a frame. Used by the
// local voice-activity policy to classify speech vs silence.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
