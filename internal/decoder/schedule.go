package decoder

import "math"

// semanticSamplerArgs returns the fixed sampler configuration used by the
// semantic phase, regardless of what the request asked for (spec §4.5).
func semanticSamplerArgs(base SamplerArgs) SamplerArgs {
	out := base
	out.Temperature = 1.0
	out.TopP = 0.95
	out.TopK = 80
	out.MaxTokens = min(base.MaxTokens, SemanticTokenLimit)

	if out.MaxTokens <= 0 || out.MaxTokens > SemanticTokenLimit {
		out.MaxTokens = SemanticTokenLimit
	}

	return out
}

// globalSamplerArgs applies the voice-fidelity / layered-randomness
// schedule from spec §4.5 to derive the global phase's effective sampler
// args from the request's base args.
func globalSamplerArgs(base SamplerArgs) SamplerArgs {
	out := base

	if out.TopK == 0 {
		out.TopK = 20
	}

	c := out.VoiceFidelity * (1 - out.LayeredRandomness.GlobalRandomness)

	out.Temperature *= math.Max(0.1, 0.3+0.7*(1-c))
	out.TopP = math.Max(0.2, out.TopP*(0.8+0.2*c))
	out.TopK = int(math.Max(5, math.Round(float64(out.TopK)*(0.9+0.1*c))))

	return out
}
