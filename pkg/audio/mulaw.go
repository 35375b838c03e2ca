// Package audio converts between the audio representations spoken by the
// telephony leg (8 kHz mu-law), the browser leg (16-bit linear PCM at 24 or
// 48 kHz), and the realtime model endpoint (16-bit linear PCM at 24 kHz).
// All functions are stateless and safe for concurrent use.
package audio

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// mulawDecodeTable expands each possible mu-law byte to its linear sample.
// Built once at init; read-only afterwards.
var mulawDecodeTable = buildMulawDecodeTable()

func buildMulawDecodeTable() [256]int16 {
	var table [256]int16
	for i := 0; i < 256; i++ {
		u := ^byte(i)
		sign := int32(1)
		if u&0x80 != 0 {
			sign = -1
		}
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0f
		magnitude := (int32(mantissa)<<3 + mulawBias) << exponent
		table[i] = int16(sign * (magnitude - mulawBias))
	}
	return table
}

// DecodeMulaw expands mu-law bytes into 16-bit linear samples.
func DecodeMulaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = mulawDecodeTable[b]
	}
	return out
}

// EncodeMulaw compresses one linear sample to a mu-law byte. The magnitude
// is clamped to the clip constant before encoding so extreme samples
// saturate instead of wrapping.
func EncodeMulaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := 7
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; exponent-- {
		mask >>= 1
	}
	mantissa := byte(s>>(uint(exponent)+3)) & 0x0f
	return ^(sign | byte(exponent)<<4 | mantissa)
}

// EncodeMulawAll compresses a slice of linear samples.
func EncodeMulawAll(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeMulaw(s)
	}
	return out
}
