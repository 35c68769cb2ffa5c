package decoder

import (
	"context"
	"testing"
)

func TestExecuteZeroShot_Replay(t *testing.T) {
	// S4: ref_global mixes in-range and out-of-range values; expect the
	// clamped sequence back verbatim, with the global phase skipped
	// entirely (no sampling).
	runtime := &mockRuntime{
		logitsFn: func(call int) []float32 {
			return buildPeakedLogits(mockVocabSize, TTSEOSToken, 10, -10)
		},
	}

	args := baseSamplerArgs(1)

	req := &TtsRequest{
		RequestID:         "s4",
		TextTokens:        []int64{1, 2},
		RefGlobalTokens:   []int64{10, 4100, 4095, -3},
		RefSemanticTokens: []int64{5, 6, 7},
		SamplerArgs:       args,
	}

	ic := testInferContext(runtime, args)

	global, semantic, err := ExecuteZeroShot(context.Background(), ic, req)
	if err != nil {
		t.Fatalf("ExecuteZeroShot: %v", err)
	}

	want := []int64{10, 4095, 4095, 0}
	if len(global) != len(want) {
		t.Fatalf("len(global) = %d, want %d", len(global), len(want))
	}

	for i := range want {
		if global[i] != want[i] {
			t.Fatalf("global[%d] = %d, want %d", i, global[i], want[i])
		}
	}

	if len(semantic) != 0 {
		t.Fatalf("len(semantic) = %d, want 0 (mock always emits EOS first)", len(semantic))
	}
}

func TestExecuteZeroShot_RequiresRefTokens(t *testing.T) {
	runtime := &mockRuntime{logitsFn: func(int) []float32 { return buildPeakedLogits(mockVocabSize, 0, 1, -1) }}
	args := baseSamplerArgs(1)

	req := &TtsRequest{RequestID: "missing", TextTokens: []int64{1}, SamplerArgs: args}
	ic := testInferContext(runtime, args)

	if _, _, err := ExecuteZeroShot(context.Background(), ic, req); err == nil {
		t.Fatal("expected error when ref tokens are absent")
	}
}
