package onnx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/rwkv-tts-go/internal/audio"
)

// wav2vec2FeatureDim is the feature width the wav2vec2 graph is trained to
// emit per time step.
const wav2vec2FeatureDim = 1024

// EncodeVoice loads a 16kHz mono float32 PCM prompt from audioPath and
// returns its (global_tokens, semantic_tokens) pair via the wav2vec2 +
// bicodec_tokenize pipeline (spec C3). samples are expected already
// decoded to 16kHz mono float32 PCM; external audio file I/O and format
// sniffing live outside this boundary.
func (e *Engine) EncodeVoice(audioPath string) (globalTokens, semanticTokens []int64, err error) {
	samples, err := LoadVoiceAudioSamples(audioPath)
	if err != nil {
		return nil, nil, err
	}

	return e.EncodeVoiceSamples(context.Background(), samples)
}

// LoadVoiceAudioSamples reads audioPath (WAV, or raw little-endian PCM16
// otherwise) and decodes it to 16kHz mono float32 PCM, the input format
// EncodeVoiceSamples and SessionPools.EncodeVoiceSamples both expect.
// Exported so callers that lease sessions through a SessionPools instead
// of calling Engine directly can still share this loading step.
func LoadVoiceAudioSamples(audioPath string) ([]float32, error) {
	return loadVoiceAudioSamples(audioPath)
}

// EncodeVoiceSamples runs the 5-step voice-encoder algorithm (spec §4.3)
// directly over already-loaded 16kHz mono float32 PCM, calling the two
// graphs directly with no bounded-concurrency gate. Prefer
// SessionPools.EncodeVoiceSamples in any path that runs alongside other
// ONNX callers; this method exists for the single-shot CLI/export paths
// and for tests.
func (e *Engine) EncodeVoiceSamples(ctx context.Context, wav []float32) (globalTokens, semanticTokens []int64, err error) {
	wav2vec2, ok := e.runners["wav2vec2"]
	if !ok {
		return nil, nil, errors.New("wav2vec2 graph not found in manifest")
	}

	tokenizer, ok := e.runners["bicodec_tokenize"]
	if !ok {
		return nil, nil, errors.New("bicodec_tokenize graph not found in manifest")
	}

	return encodeVoiceSamplesWithRunners(ctx, wav2vec2, tokenizer, wav)
}

// encodeVoiceSamplesWithRunners is the shared 5-step algorithm body, over
// already-resolved GraphRunners so both the direct Engine path and the
// SessionPool-leased path (spec C2) share one implementation.
func encodeVoiceSamplesWithRunners(ctx context.Context, wav2vec2, tokenizer GraphRunner, wav []float32) (globalTokens, semanticTokens []int64, err error) {
	if len(wav) == 0 {
		return nil, nil, errors.New("encode voice: empty audio samples")
	}

	// Step 1: reference clip.
	refWav := audio.GetRefClip(wav)

	// Step 2: feat = wav2vec2(normalize(wav))[0], must be [1, T, 1024].
	normalized := audio.Normalize(wav)

	normTensor, err := NewTensor(normalized, []int64{1, int64(len(normalized))})
	if err != nil {
		return nil, nil, fmt.Errorf("encode voice: build wav2vec2 input: %w", err)
	}

	wav2vec2Outputs, err := wav2vec2.Run(ctx, map[string]*Tensor{"input_values": normTensor})
	if err != nil {
		return nil, nil, fmt.Errorf("wav2vec2: run: %w", err)
	}

	feat, err := firstOutput(wav2vec2Outputs)
	if err != nil {
		return nil, nil, fmt.Errorf("wav2vec2: %w", err)
	}

	featShape := feat.Shape()
	if len(featShape) != 3 || featShape[0] != 1 || featShape[2] != wav2vec2FeatureDim {
		return nil, nil, fmt.Errorf("%w: wav2vec2 output shape %v, want [1,T,%d]", ErrShapeMismatch, featShape, wav2vec2FeatureDim)
	}

	// Step 3: ref_mel = mel_spectrogram(ref_wav), reshaped [1, 128, frames].
	mel := audio.MelSpectrogram(refWav)
	melFlat := audio.FlattenRowMajor(mel)

	melTensor, err := NewTensor(melFlat, []int64{1, int64(len(mel)), int64(len(mel[0]))})
	if err != nil {
		return nil, nil, fmt.Errorf("encode voice: build ref_wav_mel tensor: %w", err)
	}

	// Step 4: bicodec_tokenize(ref_wav_mel=ref_mel, feat=feat).
	tokenizeOutputs, err := tokenizer.Run(ctx, map[string]*Tensor{
		"ref_wav_mel": melTensor,
		"feat":        feat,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bicodec_tokenize: run: %w", err)
	}

	semanticTensor, globalTensor, err := splitTokenizeOutputs(tokenizeOutputs)
	if err != nil {
		return nil, nil, fmt.Errorf("bicodec_tokenize: %w", err)
	}

	// Step 5: accept either i32 or i64 element types, cast to i64 (Go's
	// token representation throughout internal/decoder).
	semanticTokens, err = tensorToInt64(semanticTensor)
	if err != nil {
		return nil, nil, fmt.Errorf("bicodec_tokenize: semantic tokens: %w", err)
	}

	globalTokens, err = tensorToInt64(globalTensor)
	if err != nil {
		return nil, nil, fmt.Errorf("bicodec_tokenize: global tokens: %w", err)
	}

	return globalTokens, semanticTokens, nil
}

// ErrShapeMismatch is returned when an ONNX session's output tensor shape
// does not match what spec.md's C3/C4 contracts require.
var ErrShapeMismatch = errors.New("onnx: output shape mismatch")

func firstOutput(outputs map[string]*Tensor) (*Tensor, error) {
	for _, t := range outputs {
		return t, nil
	}

	return nil, errors.New("session returned no outputs")
}

// splitTokenizeOutputs identifies bicodec_tokenize's two outputs by shape:
// a 2D [1, L] tensor is semantic tokens, a 3D [1, 1, 32] tensor is global
// tokens. If shape-based identification is ambiguous, falls back to the
// iteration order the ORT runtime happened to return (output[0]=semantic,
// output[1]=global), matching the original pipeline's documented fallback.
func splitTokenizeOutputs(outputs map[string]*Tensor) (semantic, global *Tensor, err error) {
	if len(outputs) != 2 {
		return nil, nil, fmt.Errorf("expected 2 outputs, got %d", len(outputs))
	}

	var fallback []*Tensor

	for _, t := range outputs {
		shape := t.Shape()
		fallback = append(fallback, t)

		switch {
		case len(shape) == 2 && shape[0] == 1:
			semantic = t
		case len(shape) == 3 && shape[0] == 1 && shape[1] == 1:
			global = t
		}
	}

	if semantic != nil && global != nil {
		return semantic, global, nil
	}

	if len(fallback) == 2 {
		return fallback[0], fallback[1], nil
	}

	return nil, nil, fmt.Errorf("%w: could not identify semantic/global outputs by shape", ErrShapeMismatch)
}

func tensorToInt64(t *Tensor) ([]int64, error) {
	if data, err := ExtractInt64(t); err == nil {
		return data, nil
	}

	f32, err := ExtractFloat32(t)
	if err != nil {
		return nil, fmt.Errorf("expected int64 or float32-backed int tensor, got %s", t.DType())
	}

	out := make([]int64, len(f32))
	for i, v := range f32 {
		out[i] = int64(v)
	}

	return out, nil
}

func loadVoiceAudioSamples(audioPath string) ([]float32, error) {
	if strings.TrimSpace(audioPath) == "" {
		return nil, errors.New("encode voice: audio path must not be empty")
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("encode voice: read audio file %q: %w", audioPath, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("encode voice: audio file %q is empty", audioPath)
	}

	ext := strings.ToLower(filepath.Ext(audioPath))
	if ext == ".wav" {
		samples, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("encode voice: decode WAV %q: %w", audioPath, err)
		}

		return audio.ResampleTo16k(samples, audio.ExpectedSampleRate), nil
	}

	samples, err := decodePCM16LE(data)
	if err != nil {
		return nil, fmt.Errorf("encode voice: decode raw PCM16 %q: %w", audioPath, err)
	}

	return samples, nil
}

func decodePCM16LE(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("byte length %d is not a multiple of 2", len(data))
	}

	if len(data) == 0 {
		return nil, errors.New("empty PCM buffer")
	}

	out := make([]float32, len(data)/2)
	for i := range out {
		lo := int16(data[i*2])
		hi := int16(data[i*2+1]) << 8
		pcm := hi | lo
		out[i] = float32(pcm) / 32768.0
	}

	return out, nil
}
