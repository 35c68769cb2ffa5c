package onnx

import (
	"context"
	"testing"
)

func TestEncodeVoiceSamples_RunsWav2Vec2AndBicodecTokenize(t *testing.T) {
	wav := make([]float32, 4000)
	for i := range wav {
		wav[i] = float32(i%5) / 5
	}

	timeSteps := int64(3)

	wav2vec2Fake := &fakeRunner{
		name: "wav2vec2",
		fn: func(_ context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
			in, ok := inputs["input_values"]
			if !ok {
				t.Fatal("expected 'input_values' input")
			}

			shape := in.Shape()
			if len(shape) != 2 || shape[0] != 1 || shape[1] != int64(len(wav)) {
				t.Fatalf("wav2vec2 input shape = %v, want [1 %d]", shape, len(wav))
			}

			featData := make([]float32, timeSteps*wav2vec2FeatureDim)
			feat, err := NewTensor(featData, []int64{1, timeSteps, wav2vec2FeatureDim})
			if err != nil {
				t.Fatalf("NewTensor feat: %v", err)
			}

			return map[string]*Tensor{"last_hidden_state": feat}, nil
		},
	}

	tokenizeFake := &fakeRunner{
		name: "bicodec_tokenize",
		fn: func(_ context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
			mel, ok := inputs["ref_wav_mel"]
			if !ok {
				t.Fatal("expected 'ref_wav_mel' input")
			}

			shape := mel.Shape()
			if len(shape) != 3 || shape[0] != 1 || shape[1] != 128 {
				t.Fatalf("ref_wav_mel shape = %v, want [1 128 frames]", shape)
			}

			if _, ok := inputs["feat"]; !ok {
				t.Fatal("expected 'feat' input")
			}

			semantic, err := NewTensor([]int64{1, 2, 3, 8192}, []int64{1, 4})
			if err != nil {
				t.Fatalf("NewTensor semantic: %v", err)
			}

			global, err := NewTensor([]int64{10, 20, 30}, []int64{1, 1, 3})
			if err != nil {
				t.Fatalf("NewTensor global: %v", err)
			}

			return map[string]*Tensor{
				"semantic_tokens": semantic,
				"global_tokens":   global,
			}, nil
		},
	}

	e := engineWithFakeRunners(map[string]runnerIface{
		"wav2vec2":         wav2vec2Fake,
		"bicodec_tokenize": tokenizeFake,
	})

	global, semantic, err := e.EncodeVoiceSamples(context.Background(), wav)
	if err != nil {
		t.Fatalf("EncodeVoiceSamples: %v", err)
	}

	if len(global) != 3 {
		t.Fatalf("global tokens len = %d, want 3", len(global))
	}

	if len(semantic) != 4 {
		t.Fatalf("semantic tokens len = %d, want 4", len(semantic))
	}

	if global[0] != 10 || global[2] != 30 {
		t.Fatalf("global tokens = %v, want [10 20 30]", global)
	}
}

func TestEncodeVoiceSamples_MissingWav2Vec2Graph(t *testing.T) {
	e := engineWithFakeRunners(map[string]runnerIface{})

	if _, _, err := e.EncodeVoiceSamples(context.Background(), []float32{1, 2, 3}); err == nil {
		t.Fatal("expected error when wav2vec2 graph is missing")
	}
}

func TestEncodeVoiceSamples_RejectsUnexpectedWav2Vec2Shape(t *testing.T) {
	wav2vec2Fake := &fakeRunner{
		name: "wav2vec2",
		fn: func(_ context.Context, _ map[string]*Tensor) (map[string]*Tensor, error) {
			bad, err := NewTensor([]float32{1, 2, 3, 4}, []int64{1, 4})
			if err != nil {
				t.Fatalf("NewTensor: %v", err)
			}

			return map[string]*Tensor{"last_hidden_state": bad}, nil
		},
	}

	e := engineWithFakeRunners(map[string]runnerIface{
		"wav2vec2":         wav2vec2Fake,
		"bicodec_tokenize": &fakeRunner{name: "bicodec_tokenize"},
	})

	_, _, err := e.EncodeVoiceSamples(context.Background(), []float32{1, 2, 3})
	if err == nil {
		t.Fatal("expected shape mismatch error for malformed wav2vec2 output")
	}
}

func TestSplitTokenizeOutputs_IdentifiesByShape(t *testing.T) {
	semantic, err := NewTensor([]int64{1, 2, 3}, []int64{1, 3})
	if err != nil {
		t.Fatalf("NewTensor semantic: %v", err)
	}

	global, err := NewTensor([]int64{4, 5, 6}, []int64{1, 1, 3})
	if err != nil {
		t.Fatalf("NewTensor global: %v", err)
	}

	gotSemantic, gotGlobal, err := splitTokenizeOutputs(map[string]*Tensor{
		"out0": global,
		"out1": semantic,
	})
	if err != nil {
		t.Fatalf("splitTokenizeOutputs: %v", err)
	}

	if len(gotSemantic.Shape()) != 2 {
		t.Fatalf("expected semantic tensor to be 2D, got shape %v", gotSemantic.Shape())
	}

	if len(gotGlobal.Shape()) != 3 {
		t.Fatalf("expected global tensor to be 3D, got shape %v", gotGlobal.Shape())
	}
}
