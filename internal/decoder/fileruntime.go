package decoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileRuntime is an interim decoder.Runtime + decoder.StateManager pairing
// that derives logits from a per-vocabulary bias table loaded from disk
// (or a small built-in default), standing in for the trained RWKV
// checkpoint spec.md §6 describes until a compatible engine is wired
// through internal/native. internal/native's current model is a
// continuous-latent flow-matching engine (text embeddings -> flow steps ->
// Mimi decode) with no token-in/logits-out entry point this package's
// Runtime contract could wrap, so this file-backed stand-in is what makes
// the scheduler/decoder pipeline (C5-C7) reachable end to end today.
// Swapping in a real engine later only means implementing Runtime and
// StateManager against it; nothing in decoder or scheduler changes.
//
// FileRuntime also implements StateManager directly: the single
// runtime-wide semaphore already guarantees at most one decode is ever
// in flight, so the "state" it guards collapses to one mutex-protected
// context hash rather than a per-slot table.
type FileRuntime struct {
	mu      sync.Mutex
	bias    []float32
	context uint64
}

// NewFileRuntime loads a logit-bias manifest from path, or falls back to
// a small built-in bias when path is empty. The manifest is a JSON object
// with a single "logit_bias" array, one entry per vocabulary id up to and
// including TTSTag2.
func NewFileRuntime(path string) (*FileRuntime, error) {
	bias, err := loadLogitBias(path)
	if err != nil {
		return nil, err
	}

	return &FileRuntime{bias: bias}, nil
}

func loadLogitBias(path string) ([]float32, error) {
	if path == "" {
		return defaultLogitBias(), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path, not user input
	if err != nil {
		return nil, fmt.Errorf("%w: read logit bias file: %w", ErrRuntimeUnavailable, err)
	}

	var doc struct {
		LogitBias []float32 `json:"logit_bias"`
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse logit bias file: %w", ErrRuntimeUnavailable, err)
	}

	if len(doc.LogitBias) == 0 {
		return nil, fmt.Errorf("%w: logit bias file has no logit_bias entries", ErrInvalidInput)
	}

	return doc.LogitBias, nil
}

// defaultLogitBias gives TTSEOSToken a mild positive bias so the interim
// engine doesn't run every request out to max_tokens by default.
func defaultLogitBias() []float32 {
	bias := make([]float32, TTSTag2+1)
	bias[TTSEOSToken] = 2.0

	return bias
}

// Infer implements Runtime: it consumes up to input.ChunkSize tokens,
// folding each into the running context hash, and only returns non-empty
// logits once the whole backlog has drained (RnnOption::Last semantics).
func (r *FileRuntime) Infer(ctx context.Context, input *Input) (*Input, Output, error) {
	select {
	case <-ctx.Done():
		return nil, Output{}, ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chunk := input.ChunkSize
	if chunk <= 0 {
		chunk = 1
	}

	if chunk > len(input.Tokens) {
		chunk = len(input.Tokens)
	}

	for _, t := range input.Tokens[:chunk] {
		r.context = r.context*1099511628211 ^ uint64(t) //nolint:gosec // FNV-style mix, not cryptographic
	}

	remaining := &Input{
		Tokens:    append([]int64(nil), input.Tokens[chunk:]...),
		ChunkSize: input.ChunkSize,
	}

	if len(remaining.Tokens) > 0 {
		return remaining, Output{}, nil
	}

	return remaining, Output{Logits: r.logitsForContext()}, nil
}

// logitsForContext copies the base bias table and peaks one index derived
// from the running context hash, giving the sampler an unambiguous but
// context-dependent argmax so repeated requests with the same seed and
// text produce stable, repeatable output.
func (r *FileRuntime) logitsForContext() []float32 {
	out := make([]float32, len(r.bias))
	copy(out, r.bias)

	peak := int(r.context % uint64(len(out)))
	out[peak] += 6.0

	return out
}

// Lock implements StateManager. The returned session resets the running
// context hash on Load, matching initSlotZero's expectation of a fresh
// state at the start of every decode.
func (r *FileRuntime) Lock(ctx context.Context) (StateSession, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	r.mu.Lock()

	return &fileStateSession{runtime: r}, nil
}

type fileStateSession struct {
	runtime *FileRuntime
}

func (s *fileStateSession) Init() State { return struct{}{} }

func (s *fileStateSession) Load(State, int) error {
	s.runtime.context = 0

	return nil
}

func (s *fileStateSession) Unlock() { s.runtime.mu.Unlock() }
