package decoder

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// samplerEps floors the temperature divisor; dividing by a temperature of
// exactly zero would produce NaN/Inf instead of a sharp argmax.
const samplerEps = 1e-10

// Sample implements the C6 contract: temperature scaling, top-k truncation,
// top-p (nucleus) truncation, forbid-token masking, then a categorical draw
// from the renormalized distribution. It is a pure function of its
// arguments given a deterministic rng.
func Sample(logits []float32, args SamplerArgs, forbidToken *int, rng *rand.Rand) (int, error) {
	if len(logits) == 0 {
		return 0, fmt.Errorf("%w: sample: empty logits", ErrInvalidInput)
	}

	work := make([]float64, len(logits))
	for i, v := range logits {
		work[i] = float64(v)
	}

	if forbidToken != nil && *forbidToken >= 0 && *forbidToken < len(work) {
		work[*forbidToken] = math.Inf(-1)
	}

	temp := math.Max(args.Temperature, samplerEps)
	for i, v := range work {
		if !math.IsInf(v, -1) {
			work[i] = v / temp
		}
	}

	applyTopK(work, args.TopK)

	probs := softmax(work)
	applyTopP(probs, args.TopP)

	return drawCategorical(probs, rng), nil
}

func applyTopK(work []float64, k int) {
	if k <= 0 {
		return
	}

	type indexed struct {
		idx int
		val float64
	}

	items := make([]indexed, 0, len(work))

	for i, v := range work {
		if !math.IsInf(v, -1) {
			items = append(items, indexed{i, v})
		}
	}

	if len(items) <= k {
		return
	}

	sort.Slice(items, func(a, b int) bool { return items[a].val > items[b].val })

	for _, it := range items[k:] {
		work[it.idx] = math.Inf(-1)
	}
}

func softmax(work []float64) []float64 {
	maxV := math.Inf(-1)
	for _, v := range work {
		if v > maxV {
			maxV = v
		}
	}

	probs := make([]float64, len(work))

	if math.IsInf(maxV, -1) {
		// Every entry was masked; this shouldn't happen for well-formed
		// sampler args, but fall back to uniform rather than NaN.
		uniform := 1.0 / float64(len(probs))
		for i := range probs {
			probs[i] = uniform
		}

		return probs
	}

	var sum float64

	for i, v := range work {
		if math.IsInf(v, -1) {
			continue
		}

		e := math.Exp(v - maxV)
		probs[i] = e
		sum += e
	}

	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	}

	return probs
}

func applyTopP(probs []float64, topP float64) {
	if topP <= 0 || topP >= 1 {
		return
	}

	type indexed struct {
		idx int
		p   float64
	}

	items := make([]indexed, 0, len(probs))

	for i, p := range probs {
		if p > 0 {
			items = append(items, indexed{i, p})
		}
	}

	sort.Slice(items, func(a, b int) bool { return items[a].p > items[b].p })

	var cum float64

	cutoff := len(items)

	for i, it := range items {
		cum += it.p
		if cum >= topP {
			cutoff = i + 1
			break
		}
	}

	keep := make(map[int]struct{}, cutoff)
	for _, it := range items[:cutoff] {
		keep[it.idx] = struct{}{}
	}

	var sum float64

	for i := range probs {
		if _, ok := keep[i]; !ok {
			probs[i] = 0
			continue
		}

		sum += probs[i]
	}

	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	}
}

func drawCategorical(probs []float64, rng *rand.Rand) int {
	r := rng.Float64()

	var cum float64

	for i, p := range probs {
		cum += p
		if r < cum {
			return i
		}
	}

	for i := len(probs) - 1; i >= 0; i-- {
		if probs[i] > 0 {
			return i
		}
	}

	return len(probs) - 1
}
