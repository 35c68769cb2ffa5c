package decoder

import "context"

// Input is a pending batch of tokens awaiting submission to the LM
// runtime, chunked at ChunkSize tokens per Infer call. Push appends tokens
// generated during decode so the next Infer call resumes from them.
type Input struct {
	Tokens    []int64
	ChunkSize int
}

// NewInput builds an Input from an initial token sequence (typically the
// prefill prefix).
func NewInput(tokens []int64, chunkSize int) *Input {
	if chunkSize <= 0 {
		chunkSize = 1
	}

	return &Input{Tokens: append([]int64(nil), tokens...), ChunkSize: chunkSize}
}

// Push appends a single token (already offset/unshifted as appropriate by
// the caller) to the pending backlog.
func (in *Input) Push(token int64) {
	in.Tokens = append(in.Tokens, token)
}

// Output carries the logits for the last processed token of a batch. Logits
// is empty until the runtime has consumed the entire backlog submitted so
// far (mirroring RnnOption::Last semantics: only the final chunk of a
// submission yields a usable logits vector).
type Output struct {
	Logits []float32
}

// Runtime is the black-box recurrent LM engine. A single Infer call
// consumes up to input.ChunkSize tokens and returns the tokens it could not
// process this step (remaining) alongside whatever output it produced.
// Callers drive Runtime in a loop, resubmitting remaining until Output
// carries non-empty logits.
type Runtime interface {
	Infer(ctx context.Context, input *Input) (remaining *Input, output Output, err error)
}

// State is an opaque hidden-state handle returned by StateSession.Init.
type State interface{}

// StateSession is held across a critical section guarded by the state
// object's own mutex; Init/Load must only be called while held.
type StateSession interface {
	Init() State
	Load(state State, slot int) error
	Unlock()
}

// StateManager hands out exclusive StateSession handles, mirroring a
// Mutex<StateImpl> guarding init()/load() in the source runtime.
type StateManager interface {
	Lock(ctx context.Context) (StateSession, error)
}

// LayeredRandomnessConfig controls per-phase RNG derivation, see spec table
// in §6: use_independent_seeds / global_randomness / *_seed_offset.
type LayeredRandomnessConfig struct {
	UseIndependentSeeds bool
	GlobalRandomness    float64
	GlobalSeedOffset    uint64
	SemanticSeedOffset  uint64
}

// DefaultLayeredRandomness mirrors the original's default config: seeds are
// shared unless independent seeding is explicitly requested.
func DefaultLayeredRandomness() LayeredRandomnessConfig {
	return LayeredRandomnessConfig{
		UseIndependentSeeds: false,
		GlobalRandomness:    0,
		GlobalSeedOffset:    0x9E3779B97F4A7C15, // golden-ratio constant, matches common seed-mixing idiom
		SemanticSeedOffset:  0xC2B2AE3D27D4EB4F,
	}
}

// SamplerArgs is the caller-supplied sampling configuration, shared between
// the global and semantic phases after the per-phase schedule is applied.
type SamplerArgs struct {
	Temperature       float64
	TopP              float64
	TopK              int
	Seed              *uint64
	MaxTokens         int
	VoiceFidelity     float64
	LayeredRandomness LayeredRandomnessConfig
	TokenChunkSize    int
}

// TtsRequest is the input to the decoder core and the batch scheduler.
type TtsRequest struct {
	RequestID         string
	TextTokens        []int64
	PropertyTokens    []int64
	RefGlobalTokens   []int64
	RefSemanticTokens []int64
	SamplerArgs       SamplerArgs
}

// IsZeroShot reports whether both reference-token vectors are present,
// which selects the zero-shot decode path per spec §3.
func (r *TtsRequest) IsZeroShot() bool {
	return r.RefGlobalTokens != nil && r.RefSemanticTokens != nil
}

// InferContext is owned by exactly one decoder invocation for the lifetime
// of that request's decode.
type InferContext struct {
	RequestID         string
	Runtime           Runtime
	StateManager      StateManager
	RuntimeSemaphore  *Semaphore
	Options           SamplerArgs
}
