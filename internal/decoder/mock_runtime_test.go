package decoder

import (
	"context"
	"sync"
)

// mockRuntime scripts logits per Infer call index, ignoring the actual
// token backlog content (tests care about decode-loop behavior, not LM
// internals). Every call fully drains its backlog and returns non-empty
// logits immediately, matching token_chunk_size large enough to consume
// the whole prefix in one step.
type mockRuntime struct {
	mu       sync.Mutex
	calls    int
	logitsFn func(call int) []float32
}

func (m *mockRuntime) Infer(_ context.Context, input *Input) (*Input, Output, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	m.mu.Unlock()

	return &Input{Tokens: nil, ChunkSize: input.ChunkSize}, Output{Logits: m.logitsFn(call)}, nil
}

type mockStateSession struct{}

func (mockStateSession) Init() State          { return struct{}{} }
func (mockStateSession) Load(State, int) error { return nil }
func (mockStateSession) Unlock()              {}

type mockStateManager struct{}

func (mockStateManager) Lock(context.Context) (StateSession, error) {
	return mockStateSession{}, nil
}

// buildPeakedLogits returns a logits vector of the given size where index
// peak holds peakVal and every other index holds otherVal, giving the
// sampler an unambiguous argmax for deterministic test scenarios.
func buildPeakedLogits(size, peak int, peakVal, otherVal float32) []float32 {
	out := make([]float32, size)
	for i := range out {
		out[i] = otherVal
	}

	if peak >= 0 && peak < size {
		out[peak] = peakVal
	}

	return out
}

func testInferContext(runtime Runtime, opts SamplerArgs) *InferContext {
	return &InferContext{
		RequestID:        "test",
		Runtime:          runtime,
		StateManager:     mockStateManager{},
		RuntimeSemaphore: NewSemaphore(),
		Options:          opts,
	}
}

func baseSamplerArgs(seed uint64) SamplerArgs {
	return SamplerArgs{
		Temperature:       0.8,
		TopP:              0.9,
		TopK:              0,
		Seed:              &seed,
		MaxTokens:         100,
		VoiceFidelity:     0.8,
		LayeredRandomness: DefaultLayeredRandomness(),
		TokenChunkSize:    512,
	}
}
