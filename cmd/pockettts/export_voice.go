package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/example/rwkv-tts-go/internal/config"
	"github.com/example/rwkv-tts-go/internal/onnx"
	"github.com/spf13/cobra"
)

type voiceEncoder interface {
	EncodeVoice(audioPath string) (globalTokens, semanticTokens []int64, err error)
	Close()
}

// pooledVoiceEncoder routes EncodeVoice through SessionPools (spec C2)
// instead of calling the Engine's runners directly, so export-voice
// exercises the same bounded-concurrency gate a concurrent server path
// would.
type pooledVoiceEncoder struct {
	engine *onnx.Engine
	pools  *onnx.SessionPools
}

func (p *pooledVoiceEncoder) EncodeVoice(audioPath string) (globalTokens, semanticTokens []int64, err error) {
	wav, err := onnx.LoadVoiceAudioSamples(audioPath)
	if err != nil {
		return nil, nil, err
	}

	return p.pools.EncodeVoiceSamples(context.Background(), wav)
}

func (p *pooledVoiceEncoder) Close() { p.engine.Close() }

var buildVoiceEncoder = func(cfg config.Config, modelWeightsPath string) (voiceEncoder, error) {
	rcfg := onnx.RunnerConfig{
		LibraryPath:      cfg.Runtime.ORTLibraryPath,
		APIVersion:       23,
		ModelWeightsPath: modelWeightsPath,
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

	capacity := cfg.Decoder.Wav2Vec2PoolSize
	if capacity < 1 {
		capacity = 1
	}

	pools, err := onnx.NewSessionPools(engine, capacity, nil)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("build session pools: %w", err)
	}

	return &pooledVoiceEncoder{engine: engine, pools: pools}, nil
}

// voiceTokenManifest is the JSON shape written by export-voice: the
// (global_tokens, semantic_tokens) pair a zero-shot TtsRequest needs to
// replay a reference speaker without re-running the voice encoder.
type voiceTokenManifest struct {
	ID             string  `json:"id"`
	License        string  `json:"license"`
	GlobalTokens   []int64 `json:"global_tokens"`
	SemanticTokens []int64 `json:"semantic_tokens"`
}

var writeVoiceTokens = func(path string, manifest voiceTokenManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode voice token manifest: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

func newExportVoiceCmd() *cobra.Command {
	var inputPath string
	var audioPathAlias string
	var outPath string
	var modelWeightsPath string
	var id string
	var license string

	cmd := &cobra.Command{
		Use:   "export-voice",
		Short: "Export (global_tokens, semantic_tokens) from a reference WAV/PCM prompt",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			audioPath := strings.TrimSpace(inputPath)
			if audioPath == "" {
				audioPath = strings.TrimSpace(audioPathAlias)
			}

			if audioPath == "" {
				return errors.New("--input is required")
			}

			if strings.TrimSpace(outPath) == "" {
				return errors.New("--out is required")
			}

			_, err = os.Stat(audioPath)
			if err != nil {
				return fmt.Errorf("read --input %q: %w", audioPath, err)
			}

			resolvedWeightsPath := resolveExportVoiceModelPath(cfg, modelWeightsPath)

			encoder, err := buildVoiceEncoder(cfg, resolvedWeightsPath)
			if err != nil {
				return err
			}
			defer encoder.Close()

			globalTokens, semanticTokens, err := encoder.EncodeVoice(audioPath)
			if err != nil {
				return err
			}

			if len(globalTokens) == 0 || len(semanticTokens) == 0 {
				return errors.New("encoded voice tokens are empty")
			}

			manifest := voiceTokenManifest{
				ID:             id,
				License:        license,
				GlobalTokens:   globalTokens,
				SemanticTokens: semanticTokens,
			}

			err = writeVoiceTokens(outPath, manifest)
			if err != nil {
				return fmt.Errorf("write voice token manifest: %w", err)
			}

			_, _ = fmt.Fprintln(os.Stdout, "export-voice completed")
			_, _ = fmt.Fprintf(os.Stdout, "global_tokens=%d semantic_tokens=%d\n", len(globalTokens), len(semanticTokens))
			_, _ = fmt.Fprintf(os.Stdout, "Suggested manifest entry:\n")
			_, _ = fmt.Fprintf(os.Stdout, "{\"id\":\"%s\",\"path\":\"%s\",\"license\":\"%s\"}\n", id, outPath, license)

			return nil
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "Input speaker audio WAV or raw PCM16 path")
	cmd.Flags().StringVar(&audioPathAlias, "audio", "", "Alias for --input")
	cmd.Flags().StringVar(&outPath, "out", "", "Output voice token manifest (.json) path")
	cmd.Flags().StringVar(
		&modelWeightsPath,
		"model-safetensors",
		"",
		"Model .safetensors path (defaults to --paths-model-path when it points to .safetensors)",
	)
	cmd.Flags().StringVar(&id, "id", "custom-voice", "Voice ID for suggested manifest entry")
	cmd.Flags().StringVar(&license, "license", "unknown", "License label for suggested manifest entry")

	return cmd
}

func resolveExportVoiceModelPath(cfg config.Config, flagPath string) string {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p
	}

	if p := strings.TrimSpace(cfg.Paths.ModelPath); strings.HasSuffix(strings.ToLower(p), ".safetensors") {
		return p
	}

	return ""
}
