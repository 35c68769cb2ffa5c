package tts

import (
	"context"
)

// VoiceEmbedding is a runtime-neutral voice conditioning tensor payload.
// Shape is expected to be [1, T, D] when present.
type VoiceEmbedding struct {
	Data  []float32
	Shape []int64
}

// RuntimeGenerateConfig controls a single chunk generation call.
type RuntimeGenerateConfig struct {
	Temperature    float64
	EOSThreshold   float64
	MaxSteps       int
	LSDDecodeSteps int
	FramesAfterEOS int
	VoiceEmbedding *VoiceEmbedding
	// StepCallback is called after each AR step with the 1-based step index
	// and the configured maxSteps ceiling. It may be nil.
	StepCallback func(step, maxSteps int)

	// RefGlobalTokens/RefSemanticTokens carry zero-shot voice-clone
	// conditioning as a (global, semantic) token pair produced by the C3
	// voice encoder, used only by the rwkv backend's Runtime
	// implementation; other runtimes condition on VoiceEmbedding instead
	// and ignore these fields.
	RefGlobalTokens   []int64
	RefSemanticTokens []int64
	VoiceFidelity     float64
	Seed              *uint64
}

// PCMChunk is a chunk of PCM audio produced during streaming synthesis.
type PCMChunk struct {
	Samples    []float32 // PCM float32 samples at 24 kHz
	ChunkIndex int       // 0-based index of the text chunk that produced this
	Final      bool      // true if this is the last chunk
}

// Runtime abstracts TTS graph execution so multiple native runtimes can share
// the same service pipeline (tokenization/chunking/voice conditioning).
type Runtime interface {
	GenerateAudio(ctx context.Context, tokens []int64, cfg RuntimeGenerateConfig) ([]float32, error)
	Close()
}

// VoiceTokenEncoder is an optional capability a Runtime may implement to turn
// a reference WAV file into the (global, semantic) token pair the rwkv
// backend conditions on for zero-shot voice cloning. Runtimes that don't
// support zero-shot cloning simply don't implement this interface.
type VoiceTokenEncoder interface {
	EncodeReferenceAudio(ctx context.Context, path string) (globalTokens, semanticTokens []int64, err error)
}
