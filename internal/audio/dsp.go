package audio

import "math"

// PeakNormalize scales samples so the peak amplitude reaches 1.0. Silence
// (all-zero input) is left unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float32

	for _, v := range samples {
		if a := float32(math.Abs(float64(v))); a > peak {
			peak = a
		}
	}

	if peak == 0 {
		return samples
	}

	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = v / peak
	}

	return out
}

// DCBlock removes DC offset from samples using a one-pole high-pass filter,
// y[n] = x[n] - x[n-1] + r*y[n-1], with the pole placed well below any
// audible content regardless of sampleRate.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 {
		return samples
	}

	const r = 0.995

	out := make([]float32, len(samples))

	var prevX, prevY float32

	for i, x := range samples {
		y := x - prevX + r*prevY
		out[i] = y
		prevX = x
		prevY = y
	}

	return out
}

// FadeIn applies a linear fade-in ramp over the given duration in milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	out := append([]float32(nil), samples...)

	fadeSamples := int(ms / 1000.0 * float64(sampleRate))
	if fadeSamples > len(out) {
		fadeSamples = len(out)
	}

	for i := 0; i < fadeSamples; i++ {
		gain := float32(i) / float32(fadeSamples)
		out[i] *= gain
	}

	return out
}

// FadeOut applies a linear fade-out ramp over the given duration in milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	out := append([]float32(nil), samples...)

	fadeSamples := int(ms / 1000.0 * float64(sampleRate))
	if fadeSamples > len(out) {
		fadeSamples = len(out)
	}

	n := len(out)
	for i := 0; i < fadeSamples; i++ {
		gain := 1 - float32(i+1)/float32(fadeSamples)
		out[n-fadeSamples+i] *= gain
	}

	return out
}
