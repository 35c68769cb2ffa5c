package decoder

import (
	"context"
	"fmt"
	"log/slog"
)

// ExecuteZeroShot runs the zero-shot two-phase decode: the global phase is
// a replay of pre-extracted reference tokens (clamped into range, never
// sampled) and only the semantic phase samples from the LM.
func ExecuteZeroShot(ctx context.Context, ic *InferContext, req *TtsRequest) (global, semantic []int64, err error) {
	if req.RefGlobalTokens == nil || req.RefSemanticTokens == nil {
		return nil, nil, fmt.Errorf("%w: zero-shot mode requires ref_global_tokens and ref_semantic_tokens",
			ErrInvalidInput)
	}

	if err := ic.RuntimeSemaphore.Acquire(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: acquire runtime semaphore: %w", ErrRuntimeUnavailable, err)
	}
	defer ic.RuntimeSemaphore.Release()

	if err := initSlotZero(ctx, ic.StateManager); err != nil {
		return nil, nil, err
	}

	clampedGlobal, globalChanged := clampGlobalTokens(req.RefGlobalTokens)
	if globalChanged {
		slog.WarnContext(ctx, "clamped ref_global_tokens into [0,4096)", "request_id", req.RequestID)
	}

	clampedSemantic, semanticChanged := clampSemanticTokens(req.RefSemanticTokens)
	if semanticChanged {
		slog.WarnContext(ctx, "clamped ref_semantic_tokens into [0,8192]", "request_id", req.RequestID)
	}

	prefix := buildTextPrefix(req)

	for _, t := range clampedGlobal {
		prefix = append(prefix, t+GlobalTokenOffset)
	}

	prefix = append(prefix, TTSTag1)
	prefix = append(prefix, clampedSemantic...)

	input := NewInput(prefix, ic.Options.TokenChunkSize)

	// Prefill; the produced logits are discarded since the global phase
	// replays rather than samples.
	input, _, err = driveUntilLogits(ctx, ic.Runtime, input)
	if err != nil {
		return nil, nil, err
	}

	global = append([]int64(nil), clampedGlobal...)

	for _, t := range global {
		input.Push(t)
	}

	input.Push(TTSTag1)

	input, semLogits, err := driveUntilLogits(ctx, ic.Runtime, input)
	if err != nil {
		return nil, nil, err
	}

	semanticArgs := semanticSamplerArgs(ic.Options)

	// Zero-shot has no per-request max_tokens override: the limit is fixed
	// at SemanticTokenLimit, matching the original's
	// `usize::min(2048, 2048)`.
	semanticArgs.MaxTokens = SemanticTokenLimit

	semanticRNG := semanticPhaseRNG(ic.Options, sharedRNGFromOptions(ic.Options))

	semantic, err = runSemanticPhase(ctx, req.RequestID, ic.Runtime, input, semLogits, semanticArgs, semanticRNG)
	if err != nil {
		return nil, nil, err
	}

	return global, semantic, nil
}
