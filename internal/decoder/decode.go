package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
)

var negInf = float32(math.Inf(-1))

// driveUntilLogits repeatedly submits input to runtime, replacing it with
// the returned remaining backlog, until a non-empty logits vector appears.
// This mirrors RnnOption::Last: a submission yields usable logits only once
// its entire token backlog has been consumed.
func driveUntilLogits(ctx context.Context, runtime Runtime, input *Input) (*Input, []float32, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("%w: %w", ErrRuntimeUnavailable, ctx.Err())
		default:
		}

		remaining, output, err := runtime.Infer(ctx, input)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: lm infer: %w", ErrInferenceFailed, err)
		}

		input = remaining

		if len(output.Logits) > 0 {
			return input, output.Logits, nil
		}
	}
}

// initSlotZero installs a fresh hidden state at batch slot 0, guaranteeing
// no request observes another's state.
func initSlotZero(ctx context.Context, sm StateManager) error {
	session, err := sm.Lock(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire state lock: %w", ErrRuntimeUnavailable, err)
	}
	defer session.Unlock()

	state := session.Init()
	if err := session.Load(state, 0); err != nil {
		return fmt.Errorf("%w: load initial state: %w", ErrRuntimeUnavailable, err)
	}

	return nil
}

// clampGlobalTokens clamps reference global tokens into [0, GlobalVocabSize-1].
func clampGlobalTokens(tokens []int64) (clamped []int64, changed bool) {
	clamped = make([]int64, len(tokens))

	for i, t := range tokens {
		c := clampInt64(t, 0, GlobalVocabSize-1)
		clamped[i] = c

		if c != t {
			changed = true
		}
	}

	return clamped, changed
}

// clampSemanticTokens clamps reference semantic tokens into [0, SemanticVocabSize]
// (inclusive of the EOS sentinel value, matching the original's clamp bound).
func clampSemanticTokens(tokens []int64) (clamped []int64, changed bool) {
	clamped = make([]int64, len(tokens))

	for i, t := range tokens {
		c := clampInt64(t, 0, SemanticVocabSize)
		clamped[i] = c

		if c != t {
			changed = true
		}
	}

	return clamped, changed
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// maskSemanticLogits returns a copy of logits with every entry above the
// EOS sentinel forced to -inf. EOS itself is left sampleable.
//
// TTSTag0/1/2 live at TTSEOSToken+1..+3 (see tokens.go), so this single loop
// already masks every phase-tag slot; there is no separate negative-sentinel
// range requiring translation at this boundary.
func maskSemanticLogits(logits []float32) []float32 {
	out := make([]float32, len(logits))
	copy(out, logits)

	for j := TTSEOSToken + 1; j < len(out); j++ {
		out[j] = negInf
	}

	return out
}

// buildTextPrefix constructs the shared prefix common to both decode
// variants: property_tokens ++ TTS_TAG_2 ++ text_tokens ++ TTS_TAG_0.
func buildTextPrefix(req *TtsRequest) []int64 {
	prefix := make([]int64, 0, len(req.PropertyTokens)+len(req.TextTokens)+2)
	prefix = append(prefix, req.PropertyTokens...)
	prefix = append(prefix, TTSTag2)
	prefix = append(prefix, req.TextTokens...)
	prefix = append(prefix, TTSTag0)

	return prefix
}

// runSemanticPhase drives the semantic phase shared by both decode
// variants, starting from logits already produced by the TAG_1 transition.
func runSemanticPhase(
	ctx context.Context,
	requestID string,
	runtime Runtime,
	input *Input,
	firstLogits []float32,
	args SamplerArgs,
	rng *rand.Rand,
) ([]int64, error) {
	semantic := make([]int64, 0, args.MaxTokens)

	logits := firstLogits

	for i := 0; i < args.MaxTokens; i++ {
		if i > 0 {
			nextInput, nextLogits, err := driveUntilLogits(ctx, runtime, input)
			if err != nil {
				return nil, err
			}

			input = nextInput
			logits = nextLogits
		}

		masked := maskSemanticLogits(logits)

		nextID, err := Sample(masked, args, nil, rng)
		if err != nil {
			return nil, fmt.Errorf("%w: semantic sample: %w", ErrInferenceFailed, err)
		}

		if nextID == TTSEOSToken {
			break
		}

		if nextID > TTSEOSToken {
			slog.WarnContext(ctx, "semantic token out of range, skipping",
				"request_id", requestID, "token", nextID)

			continue
		}

		semantic = append(semantic, int64(nextID))
		input.Push(int64(nextID))
	}

	return semantic, nil
}
