package audio

// Upsample converts samples from a lower to a higher rate where the target
// is an integer multiple of the source (8k->24k, 24k->48k). Intermediate
// samples are linearly interpolated between neighbours; the final input
// sample has no successor to interpolate toward and is repeated instead.
func Upsample(in []int16, fromRate, toRate int) []int16 {
	if len(in) == 0 {
		return nil
	}
	if fromRate <= 0 || toRate <= fromRate || toRate%fromRate != 0 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	ratio := toRate / fromRate

	out := make([]int16, len(in)*ratio)
	for i := 0; i+1 < len(in); i++ {
		a := int32(in[i])
		b := int32(in[i+1])
		for k := 0; k < ratio; k++ {
			// Rounded linear interpolation: ((R-k)*a + k*b) / R.
			num := (int32(ratio)-int32(k))*a + int32(k)*b
			out[i*ratio+k] = int16(roundDiv(num, int32(ratio)))
		}
	}
	last := in[len(in)-1]
	for k := 0; k < ratio; k++ {
		out[(len(in)-1)*ratio+k] = last
	}
	return out
}

// Decimate converts samples from a higher to a lower rate where the source
// is an integer multiple of the target (24k->8k, 48k->24k) by keeping every
// R-th sample. No anti-alias filtering is applied; callers accept the
// aliasing this implies for telephony-band audio.
func Decimate(in []int16, fromRate, toRate int) []int16 {
	if len(in) == 0 {
		return nil
	}
	if toRate <= 0 || fromRate <= toRate || fromRate%toRate != 0 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	ratio := fromRate / toRate

	out := make([]int16, len(in)/ratio)
	for i := range out {
		out[i] = in[i*ratio]
	}
	return out
}

func roundDiv(num, den int32) int32 {
	if num >= 0 {
		return (num + den/2) / den
	}
	return (num - den/2) / den
}
