package tts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/rwkv-tts-go/internal/audio"
	"github.com/example/rwkv-tts-go/internal/config"
	"github.com/example/rwkv-tts-go/internal/decoder"
	"github.com/example/rwkv-tts-go/internal/onnx"
	"github.com/example/rwkv-tts-go/internal/scheduler"
)

// rwkvRuntime implements Runtime over the two-phase RWKV decoder core
// (internal/decoder, internal/scheduler) instead of the flow-matching
// engines the other backends wrap. It is the production call path that
// makes C5-C7 reachable from the service layer: NewService's
// config.BackendRWKV branch constructs one of these per Service.
//
// The LM itself is internal/decoder.FileRuntime, an interim file-backed
// stand-in (see its doc comment) — internal/native's flow-matching model
// has no token-in/logits-out entry point this Runtime contract could wrap.
type rwkvRuntime struct {
	engine     *onnx.Engine
	pools      *onnx.SessionPools
	scheduler  *scheduler.Scheduler
	decoderCfg config.DecoderConfig
	ttsCfg     config.TTSConfig
}

func newRWKVRuntime(cfg config.Config) (*rwkvRuntime, error) {
	rcfg := onnx.RunnerConfig{
		LibraryPath: cfg.Runtime.ORTLibraryPath,
		APIVersion:  23,
	}

	if rcfg.LibraryPath == "" {
		info, err := onnx.DetectRuntime(cfg.Runtime)
		if err != nil {
			return nil, fmt.Errorf("detect ORT runtime: %w", err)
		}

		rcfg.LibraryPath = info.LibraryPath
	}

	engine, err := onnx.NewEngine(cfg.Paths.ONNXManifest, rcfg)
	if err != nil {
		return nil, fmt.Errorf("init onnx engine: %w", err)
	}

	poolCapacity := cfg.Decoder.BicodecDetokenizePoolSize
	if poolCapacity < 1 {
		poolCapacity = 1
	}

	pools, err := onnx.NewSessionPools(engine, poolCapacity, nil)
	if err != nil {
		engine.Close()

		return nil, fmt.Errorf("build session pools: %w", err)
	}

	lm, err := decoder.NewFileRuntime("")
	if err != nil {
		engine.Close()

		return nil, fmt.Errorf("init rwkv decoder runtime: %w", err)
	}

	sched := scheduler.New(lm, lm, scheduler.WithLogger(slog.Default().With("backend", config.BackendRWKV)))

	return &rwkvRuntime{
		engine:     engine,
		pools:      pools,
		scheduler:  sched,
		decoderCfg: cfg.Decoder,
		ttsCfg:     cfg.TTS,
	}, nil
}

// GenerateAudio drives one text chunk through the two-phase decoder and
// the bicodec_detokenize vocoder. cfg.VoiceEmbedding is ignored (the rwkv
// backend conditions on RefGlobalTokens/RefSemanticTokens or property
// tokens instead); cfg.RefGlobalTokens/RefSemanticTokens being both set
// selects the zero-shot decode path per decoder.TtsRequest.IsZeroShot.
func (r *rwkvRuntime) GenerateAudio(ctx context.Context, tokens []int64, cfg RuntimeGenerateConfig) ([]float32, error) {
	req := &decoder.TtsRequest{
		TextTokens:        tokens,
		RefGlobalTokens:   cfg.RefGlobalTokens,
		RefSemanticTokens: cfg.RefSemanticTokens,
		SamplerArgs:       r.samplerArgs(cfg),
	}

	globalTokens, semanticTokens, err := r.scheduler.GenerateTTS(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("rwkv decode: %w", err)
	}

	if len(globalTokens) == 0 && len(semanticTokens) == 0 {
		slog.WarnContext(ctx, "rwkv decode produced no tokens, returning silence fallback")

		return make([]float32, audio.ExpectedSampleRate), nil
	}

	pcm, err := r.pools.DecodeVoiceTokens(ctx, globalTokens, semanticTokens)
	if err != nil {
		return nil, fmt.Errorf("rwkv vocoder: %w", err)
	}

	return pcm, nil
}

func (r *rwkvRuntime) samplerArgs(cfg RuntimeGenerateConfig) decoder.SamplerArgs {
	voiceFidelity := cfg.VoiceFidelity
	if voiceFidelity <= 0 {
		voiceFidelity = r.decoderCfg.VoiceFidelity
	}

	maxTokens := r.decoderCfg.MaxTokens
	if cfg.MaxSteps > 0 {
		maxTokens = cfg.MaxSteps
	}

	layered := decoder.DefaultLayeredRandomness()
	layered.UseIndependentSeeds = r.decoderCfg.UseIndependentSeeds
	layered.GlobalRandomness = r.decoderCfg.GlobalRandomness

	return decoder.SamplerArgs{
		Temperature:       r.ttsCfg.Temperature,
		TopP:              0.95,
		TopK:              80,
		Seed:              cfg.Seed,
		MaxTokens:         maxTokens,
		VoiceFidelity:     voiceFidelity,
		LayeredRandomness: layered,
		TokenChunkSize:    r.decoderCfg.TokenChunkSize,
	}
}

// EncodeReferenceAudio implements VoiceTokenEncoder: it loads a reference WAV
// and runs it through the wav2vec2 + bicodec_tokenize pool, producing the
// token pair GenerateAudio's RefGlobalTokens/RefSemanticTokens expect.
func (r *rwkvRuntime) EncodeReferenceAudio(ctx context.Context, path string) ([]int64, []int64, error) {
	wav, err := onnx.LoadVoiceAudioSamples(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load reference audio %q: %w", path, err)
	}

	globalTokens, semanticTokens, err := r.pools.EncodeVoiceSamples(ctx, wav)
	if err != nil {
		return nil, nil, fmt.Errorf("encode reference audio %q: %w", path, err)
	}

	return globalTokens, semanticTokens, nil
}

func (r *rwkvRuntime) Close() {
	r.engine.Close()
}
