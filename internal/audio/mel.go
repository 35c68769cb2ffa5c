package audio

import "math"

// Reference-audio preprocessing constants (spec: C1 DSP kit). These mirror
// the fixed parameters the reference tokenizer pipeline expects — they are
// not configurable because the downstream ONNX sessions were trained
// against them exactly.
const (
	RefClipSeconds  = 6.0
	RefSampleRate   = 16000
	melNFFT         = 1024
	melHop          = 320
	melWin          = 1024
	melBands        = 128
	melFMin         = 10.0
	melFMax         = 8000.0
)

// RefClipLen is the fixed sample count get_ref_clip always returns:
// (6.0*16000)//320*320 = 96000.
const RefClipLen = int(RefClipSeconds*RefSampleRate) / melHop * melHop

// Normalize applies zero-mean, unit-variance normalization in place over a
// copy of samples. Near-silent input (population stddev below eps) is
// returned unchanged to avoid blowing up noise floor into full scale.
func Normalize(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}

	var mean float64
	for _, v := range samples {
		mean += float64(v)
	}

	mean /= float64(len(samples))

	var variance float64
	for _, v := range samples {
		d := float64(v) - mean
		variance += d * d
	}

	variance /= float64(len(samples))
	std := math.Sqrt(variance)

	const eps = 1e-8
	if std < eps {
		return samples
	}

	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = float32((float64(v) - mean) / std)
	}

	return out
}

// ToMono collapses an interleaved multi-channel buffer to mono by taking
// the first channel only. This intentionally does not average channels:
// the reference tokenizer this feeds was trained on first-channel audio.
func ToMono(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)

		return out
	}

	n := len(interleaved) / channels
	out := make([]float32, n)

	for i := 0; i < n; i++ {
		out[i] = interleaved[i*channels]
	}

	return out
}

// ResampleTo16k resamples x from srcRate to 16kHz using nearest-neighbor
// index mapping. This is deliberately not anti-aliased: it matches the
// reference tokenizer's own preprocessing bit-for-bit and must not be
// reused for user-facing audio output.
func ResampleTo16k(x []float32, srcRate int) []float32 {
	if srcRate == RefSampleRate || len(x) == 0 {
		out := make([]float32, len(x))
		copy(out, x)

		return out
	}

	targetLen := len(x) * RefSampleRate / srcRate
	out := make([]float32, targetLen)

	for i := 0; i < targetLen; i++ {
		idx := i * len(x) / targetLen
		out[i] = x[idx]
	}

	return out
}

// GetRefClip returns a clip of exactly RefClipLen samples: if wav is
// shorter, it is repeated end-to-end until long enough and then sliced;
// otherwise the first RefClipLen samples are taken.
func GetRefClip(wav []float32) []float32 {
	if len(wav) == 0 {
		return make([]float32, RefClipLen)
	}

	if len(wav) >= RefClipLen {
		out := make([]float32, RefClipLen)
		copy(out, wav[:RefClipLen])

		return out
	}

	out := make([]float32, 0, RefClipLen)
	for len(out) < RefClipLen {
		out = append(out, wav...)
	}

	return out[:RefClipLen]
}

// MelSpectrogram computes a log-free magnitude mel spectrogram with the fixed
// parameters the reference tokenizer expects: n_fft=1024, hop=320, win=1024,
// n_mels=128, fmin=10Hz, fmax=8000Hz, power=1.0, centered (zero-padded by
// n_fft/2 on each side), Hann-windowed, Slaney-normalized filterbank.
// Output is [n_mels][n_frames], row-major when flattened (C-contiguous).
func MelSpectrogram(x []float32) [][]float32 {
	padded := centerPad(x, melNFFT/2)
	nFrames := (len(padded) + melHop - 1) / melHop

	if nFrames < 1 {
		nFrames = 1
	}

	window := hannWindow(melWin)
	filterbank := slaneyMelFilterbank(melBands, melNFFT, RefSampleRate, melFMin, melFMax)

	power := make([][]float64, nFrames)

	for f := 0; f < nFrames; f++ {
		start := f * melHop
		frame := make([]float64, melNFFT)

		for i := 0; i < melNFFT && start+i < len(padded); i++ {
			w := 0.0
			if i < len(window) {
				w = window[i]
			}

			frame[i] = float64(padded[start+i]) * w
		}

		spec := realFFTPower(frame)
		power[f] = spec
	}

	out := make([][]float32, melBands)
	for m := 0; m < melBands; m++ {
		out[m] = make([]float32, nFrames)

		for f := 0; f < nFrames; f++ {
			var acc float64
			for k, wgt := range filterbank[m] {
				if wgt == 0 {
					continue
				}

				acc += wgt * power[f][k]
			}

			out[m][f] = float32(acc)
		}
	}

	return out
}

// FlattenRowMajor lays a [rows][cols] matrix out as a single C-contiguous
// row-major slice, matching the tensor layout the ONNX sessions expect.
func FlattenRowMajor(m [][]float32) []float32 {
	if len(m) == 0 {
		return nil
	}

	cols := len(m[0])
	out := make([]float32, 0, len(m)*cols)

	for _, row := range m {
		out = append(out, row...)
	}

	return out
}

func centerPad(x []float32, pad int) []float32 {
	out := make([]float32, len(x)+2*pad)
	copy(out[pad:pad+len(x)], x)

	return out
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}

	return w
}

// realFFTPower returns the magnitude spectrum |X[k]| (the power=1.0 case)
// of a real-valued frame of length melNFFT, for bins 0..n/2 inclusive.
func realFFTPower(frame []float64) []float64 {
	n := len(frame)
	re := make([]float64, n)
	im := make([]float64, n)
	copy(re, frame)

	fft(re, im)

	bins := n/2 + 1
	mag := make([]float64, bins)

	for k := 0; k < bins; k++ {
		mag[k] = math.Hypot(re[k], im[k])
	}

	return mag
}

// fft computes an in-place radix-2 Cooley-Tukey FFT over re+i*im. len(re)
// must be a power of two; melNFFT (1024) satisfies this.
func fft(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}

		j ^= bit

		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wr, wi := math.Cos(ang), math.Sin(ang)

		for i := 0; i < n; i += length {
			curWr, curWi := 1.0, 0.0

			for j := 0; j < length/2; j++ {
				uRe, uIm := re[i+j], im[i+j]
				vRe := re[i+j+length/2]*curWr - im[i+j+length/2]*curWi
				vIm := re[i+j+length/2]*curWi + im[i+j+length/2]*curWr

				re[i+j] = uRe + vRe
				im[i+j] = uIm + vIm
				re[i+j+length/2] = uRe - vRe
				im[i+j+length/2] = uIm - vIm

				nextWr := curWr*wr - curWi*wi
				curWi = curWr*wi + curWi*wr
				curWr = nextWr
			}
		}
	}
}

func hzToMel(f float64) float64 {
	return 2595 * math.Log10(1+f/700)
}

func melToHz(m float64) float64 {
	return 700 * (math.Pow(10, m/2595) - 1)
}

// slaneyMelFilterbank builds an [nMels][nFFT/2+1] triangular filterbank
// with linear-in-mel-scale center frequencies and Slaney area
// normalization (2/(f_hi-f_lo) per band), matching librosa's htk=False,
// norm="slaney" convention.
func slaneyMelFilterbank(nMels, nFFT, sampleRate int, fMin, fMax float64) [][]float64 {
	bins := nFFT/2 + 1
	melMin := hzToMel(fMin)
	melMax := hzToMel(fMax)

	points := make([]float64, nMels+2)
	for i := range points {
		points[i] = melToHz(melMin + (melMax-melMin)*float64(i)/float64(nMels+1))
	}

	binFreqs := make([]float64, bins)
	for k := range binFreqs {
		binFreqs[k] = float64(k) * float64(sampleRate) / float64(nFFT)
	}

	fb := make([][]float64, nMels)

	for m := 0; m < nMels; m++ {
		lo, center, hi := points[m], points[m+1], points[m+2]
		row := make([]float64, bins)

		for k, f := range binFreqs {
			var w float64

			switch {
			case f >= lo && f <= center && center > lo:
				w = (f - lo) / (center - lo)
			case f > center && f <= hi && hi > center:
				w = (hi - f) / (hi - center)
			}

			if w > 0 {
				enorm := 2.0 / (hi - lo)
				row[k] = w * enorm
			}
		}

		fb[m] = row
	}

	return fb
}
