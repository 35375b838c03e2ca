package audio

import "testing"

func TestUpsample_TriplesAndInterpolates(t *testing.T) {
	in := []int16{0, 300, -300}
	out := Upsample(in, 8000, 24000)
	if len(out) != 9 {
		t.Fatalf("len = %d, want 9", len(out))
	}
	want := []int16{0, 100, 200, 300, 100, -100, -300, -300, -300}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d (full: %v)", i, out[i], want[i], out)
		}
	}
}

func TestUpsample_SingleSampleRepeats(t *testing.T) {
	out := Upsample([]int16{42}, 8000, 24000)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for i, s := range out {
		if s != 42 {
			t.Fatalf("out[%d] = %d, want 42", i, s)
		}
	}
}

func TestDecimate_KeepsEveryThird(t *testing.T) {
	in := []int16{10, 11, 12, 20, 21, 22, 30, 31, 32}
	out := Decimate(in, 24000, 8000)
	want := []int16{10, 20, 30}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

// Decimation by 3 after 3x upsampling picks back exactly the original
// points, because only the in-between samples were interpolated.
func TestDecimateUpsample_RecoversOriginal(t *testing.T) {
	in := []int16{0, 1, -1, 127, -127, 8000, -8000, 32767, -32768, 5, 6, 7}
	got := Decimate(Upsample(in, 8000, 24000), 24000, 8000)
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("index %d: %d != %d", i, got[i], in[i])
		}
	}
}

func TestDecimate_HalvesFor48k(t *testing.T) {
	in := []int16{1, 2, 3, 4, 5, 6}
	out := Decimate(in, 48000, 24000)
	want := []int16{1, 3, 5}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestResample_NonIntegerRatioPassesThrough(t *testing.T) {
	in := []int16{1, 2, 3}
	if out := Upsample(in, 16000, 24000); len(out) != len(in) {
		t.Fatalf("non-integer upsample ratio must pass through, got len %d", len(out))
	}
	if out := Decimate(in, 24000, 16000); len(out) != len(in) {
		t.Fatalf("non-integer decimate ratio must pass through, got len %d", len(out))
	}
}
