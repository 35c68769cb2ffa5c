package onnx

import (
	"context"
	"errors"
	"fmt"
)

// DecodeVoiceTokens runs the bicodec_detokenize graph directly, with no
// bounded-concurrency gate, turning a pair of global/semantic token
// vectors (as produced by EncodeVoiceSamples or the decoder core) back
// into a waveform. Prefer SessionPools.DecodeVoiceTokens in any path that
// runs alongside other ONNX callers; this method exists for the
// single-shot CLI path and for tests.
func (e *Engine) DecodeVoiceTokens(ctx context.Context, globalTokens, semanticTokens []int64) ([]float32, error) {
	detokenizer, ok := e.runners["bicodec_detokenize"]
	if !ok {
		return nil, errors.New("bicodec_detokenize graph not found in manifest")
	}

	return decodeVoiceTokensWithRunner(ctx, detokenizer, globalTokens, semanticTokens)
}

// decodeVoiceTokensWithRunner is the shared algorithm body, over an
// already-resolved GraphRunner so both the direct Engine path and the
// SessionPool-leased path (spec C2) share one implementation.
//
// global is reshaped to [1, 1, len(global)], semantic to [1, len(semantic)],
// both as i64. The first output tensor is extracted as f32 and returned
// flattened, with no post-normalization.
func decodeVoiceTokensWithRunner(ctx context.Context, detokenizer GraphRunner, globalTokens, semanticTokens []int64) ([]float32, error) {
	if len(globalTokens) == 0 {
		return nil, errors.New("decode voice tokens: global tokens must not be empty")
	}

	if len(semanticTokens) == 0 {
		return nil, errors.New("decode voice tokens: semantic tokens must not be empty")
	}

	globalTensor, err := NewTensor(globalTokens, []int64{1, 1, int64(len(globalTokens))})
	if err != nil {
		return nil, fmt.Errorf("decode voice tokens: build global tensor: %w", err)
	}

	semanticTensor, err := NewTensor(semanticTokens, []int64{1, int64(len(semanticTokens))})
	if err != nil {
		return nil, fmt.Errorf("decode voice tokens: build semantic tensor: %w", err)
	}

	outputs, err := detokenizer.Run(ctx, map[string]*Tensor{
		"semantic_tokens": semanticTensor,
		"global_tokens":   globalTensor,
	})
	if err != nil {
		return nil, fmt.Errorf("decode voice tokens: run bicodec_detokenize: %w", err)
	}

	out, err := firstOutput(outputs)
	if err != nil {
		return nil, fmt.Errorf("decode voice tokens: %w", err)
	}

	pcm, err := ExtractFloat32(out)
	if err != nil {
		return nil, fmt.Errorf("decode voice tokens: extract waveform: %w", err)
	}

	return pcm, nil
}
