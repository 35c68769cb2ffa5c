package decoder

import (
	"context"
	"testing"
)

const mockVocabSize = TTSTag2 + 1

func TestExecuteNormal_EmptySemantic(t *testing.T) {
	// S1: post-TAG_1 logits always peak at TTS_EOS_TOKEN. Expect
	// semantic_tokens == [] and global_tokens has exactly 32 entries.
	runtime := &mockRuntime{
		logitsFn: func(call int) []float32 {
			if call < GlobalTokenCount {
				return buildPeakedLogits(mockVocabSize, 100, 50, -50)
			}

			return buildPeakedLogits(mockVocabSize, TTSEOSToken, 50, -50)
		},
	}

	req := &TtsRequest{
		RequestID:      "s1",
		TextTokens:     []int64{1, 2, 3},
		PropertyTokens: []int64{9},
		SamplerArgs:    baseSamplerArgs(42),
	}

	ic := testInferContext(runtime, req.SamplerArgs)

	global, semantic, err := ExecuteNormal(context.Background(), ic, req)
	if err != nil {
		t.Fatalf("ExecuteNormal: %v", err)
	}

	if len(global) != GlobalTokenCount {
		t.Fatalf("len(global) = %d, want %d", len(global), GlobalTokenCount)
	}

	if len(semantic) != 0 {
		t.Fatalf("len(semantic) = %d, want 0", len(semantic))
	}
}

func TestExecuteNormal_SemanticCap(t *testing.T) {
	// S2: semantic phase never emits EOS; max_tokens=100 must cap output
	// length at exactly 100.
	runtime := &mockRuntime{
		logitsFn: func(call int) []float32 {
			if call < GlobalTokenCount {
				return buildPeakedLogits(mockVocabSize, 200, 50, -50)
			}

			return buildPeakedLogits(mockVocabSize, 300, 50, -50)
		},
	}

	args := baseSamplerArgs(7)
	args.MaxTokens = 100

	req := &TtsRequest{
		RequestID:      "s2",
		TextTokens:     []int64{1, 2, 3},
		PropertyTokens: nil,
		SamplerArgs:    args,
	}

	ic := testInferContext(runtime, args)

	global, semantic, err := ExecuteNormal(context.Background(), ic, req)
	if err != nil {
		t.Fatalf("ExecuteNormal: %v", err)
	}

	if len(global) != GlobalTokenCount {
		t.Fatalf("len(global) = %d, want %d", len(global), GlobalTokenCount)
	}

	if len(semantic) != 100 {
		t.Fatalf("len(semantic) = %d, want 100", len(semantic))
	}

	for _, tok := range semantic {
		if tok != 300 {
			t.Fatalf("semantic token = %d, want 300", tok)
		}
	}
}

func TestExecuteNormal_ForbiddenRangeToken(t *testing.T) {
	// S3: pre-mask logits peak above TTS_EOS_TOKEN; masking must force the
	// sampler into [0, TTS_EOS_TOKEN].
	const wideVocab = TTSEOSToken + 10

	runtime := &mockRuntime{
		logitsFn: func(call int) []float32 {
			if call < GlobalTokenCount {
				return buildPeakedLogits(wideVocab, 10, 50, -50)
			}

			return buildPeakedLogits(wideVocab, TTSEOSToken+5, 50, -50)
		},
	}

	args := baseSamplerArgs(3)
	args.MaxTokens = 1

	req := &TtsRequest{
		RequestID:   "s3",
		TextTokens:  []int64{1},
		SamplerArgs: args,
	}

	ic := testInferContext(runtime, args)

	_, semantic, err := ExecuteNormal(context.Background(), ic, req)
	if err != nil {
		t.Fatalf("ExecuteNormal: %v", err)
	}

	for _, tok := range semantic {
		if tok < 0 || tok > TTSEOSToken {
			t.Fatalf("semantic token %d out of [0, %d]", tok, TTSEOSToken)
		}
	}
}

func TestExecuteNormal_Determinism(t *testing.T) {
	// S5: fixed seed, identical inputs, two runs => identical token vectors.
	newRuntime := func() Runtime {
		return &mockRuntime{
			logitsFn: func(call int) []float32 {
				if call < GlobalTokenCount {
					return buildPeakedLogits(mockVocabSize, (call*37+11)%GlobalVocabSize, 50, -50)
				}

				return buildPeakedLogits(mockVocabSize, (call*13+3)%SemanticVocabSize, 20, -20)
			},
		}
	}

	args := baseSamplerArgs(99)
	args.MaxTokens = 20

	req := &TtsRequest{
		RequestID:   "s5",
		TextTokens:  []int64{4, 5, 6},
		SamplerArgs: args,
	}

	run := func() ([]int64, []int64) {
		ic := testInferContext(newRuntime(), args)

		g, s, err := ExecuteNormal(context.Background(), ic, req)
		if err != nil {
			t.Fatalf("ExecuteNormal: %v", err)
		}

		return g, s
	}

	g1, s1 := run()
	g2, s2 := run()

	if len(g1) != len(g2) || len(s1) != len(s2) {
		t.Fatalf("length mismatch across runs")
	}

	for i := range g1 {
		if g1[i] != g2[i] {
			t.Fatalf("global[%d] = %d vs %d", i, g1[i], g2[i])
		}
	}

	for i := range s1 {
		if s1[i] != s2[i] {
			t.Fatalf("semantic[%d] = %d vs %d", i, s1[i], s2[i])
		}
	}
}
