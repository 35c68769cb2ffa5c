package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
)

// maxGlobalRetriesPerStep bounds how many times a single global-phase step
// resamples from the same logits before giving up. Rejection does not
// re-drive the LM (the logits for that step don't change), only the
// sampler's RNG draw advances; this backstop exists purely to avoid
// spinning forever against a pathological runtime that never produces an
// in-range token.
const maxGlobalRetriesPerStep = 64

// ExecuteNormal runs the normal-mode (non zero-shot) two-phase decode: the
// global phase samples all 32 tokens, the semantic phase samples until EOS
// or the request's max_tokens cap.
//
// Deviates from the original reference intentionally per the documented
// retry-on-reject redesign: a rejected global sample is retried at the same
// step instead of silently advancing the loop index, and the decode fails
// with ErrInferenceFailed if 32 valid tokens can't be produced.
func ExecuteNormal(ctx context.Context, ic *InferContext, req *TtsRequest) (global, semantic []int64, err error) {
	if err := ic.RuntimeSemaphore.Acquire(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: acquire runtime semaphore: %w", ErrRuntimeUnavailable, err)
	}
	defer ic.RuntimeSemaphore.Release()

	if err := initSlotZero(ctx, ic.StateManager); err != nil {
		return nil, nil, err
	}

	prefix := buildTextPrefix(req)
	input := NewInput(prefix, ic.Options.TokenChunkSize)

	input, lastLogits, err := driveUntilLogits(ctx, ic.Runtime, input)
	if err != nil {
		return nil, nil, err
	}

	sharedRNG := sharedRNGFromOptions(ic.Options)
	globalArgs := globalSamplerArgs(ic.Options)
	globalRNG := globalPhaseRNG(ic.Options, sharedRNG)

	global, input, err = runGlobalPhaseSampled(ctx, req.RequestID, ic.Runtime, input, lastLogits, globalArgs, globalRNG)
	if err != nil {
		return nil, nil, err
	}

	input.Push(TTSTag1)

	input, semLogits, err := driveUntilLogits(ctx, ic.Runtime, input)
	if err != nil {
		return nil, nil, err
	}

	semanticArgs := semanticSamplerArgs(ic.Options)
	semanticRNG := semanticPhaseRNG(ic.Options, sharedRNG)

	semantic, err = runSemanticPhase(ctx, req.RequestID, ic.Runtime, input, semLogits, semanticArgs, semanticRNG)
	if err != nil {
		return nil, nil, err
	}

	return global, semantic, nil
}

// runGlobalPhaseSampled drives the exactly-32-token global phase, sampling
// each token from the LM's logits restricted to the global codebook range.
func runGlobalPhaseSampled(
	ctx context.Context,
	requestID string,
	runtime Runtime,
	input *Input,
	firstLogits []float32,
	args SamplerArgs,
	rng *rand.Rand,
) ([]int64, *Input, error) {
	global := make([]int64, 0, GlobalTokenCount)
	logits := firstLogits

	for i := 0; i < GlobalTokenCount; i++ {
		if i > 0 {
			nextInput, nextLogits, err := driveUntilLogits(ctx, runtime, input)
			if err != nil {
				return nil, nil, err
			}

			input = nextInput
			logits = nextLogits
		}

		limit := min(GlobalVocabSize, len(logits))
		candidates := logits[:limit]

		accepted := false

		for attempt := 0; attempt < maxGlobalRetriesPerStep; attempt++ {
			nextID, err := Sample(candidates, args, nil, rng)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: global sample: %w", ErrInferenceFailed, err)
			}

			if nextID >= GlobalVocabSize {
				slog.WarnContext(ctx, "global token out of range, resampling",
					"request_id", requestID, "step", i, "token", nextID)

				continue
			}

			global = append(global, int64(nextID))
			input.Push(int64(nextID))
			accepted = true

			break
		}

		if !accepted {
			return nil, nil, fmt.Errorf(
				"%w: global phase step %d exhausted %d resample attempts",
				ErrInferenceFailed, i, maxGlobalRetriesPerStep,
			)
		}
	}

	if len(global) != GlobalTokenCount {
		return nil, nil, fmt.Errorf("%w: global phase produced %d tokens, want %d",
			ErrInferenceFailed, len(global), GlobalTokenCount)
	}

	return global, input, nil
}

// sharedRNGFromOptions builds the caller's shared RNG, seeded from the
// request's seed when supplied and from OS entropy otherwise. Used directly
// by both phases when independent per-phase seeding isn't requested.
func sharedRNGFromOptions(args SamplerArgs) *rand.Rand {
	if args.Seed != nil {
		return rand.New(rand.NewSource(int64(*args.Seed))) //nolint:gosec // deterministic seed is the point
	}

	return rand.New(rand.NewSource(int64(osEntropySeed())))
}
