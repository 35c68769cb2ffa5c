package decoder

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
)

// derivePhaseRNG implements the RNG policy from spec §4.5: if independent
// per-phase seeding is requested and the request supplied a base seed,
// derive a phase-local seed by a wrapping add of the phase offset. If no
// seed was supplied, fall back to OS entropy. Otherwise both phases share
// the caller's rng.
func derivePhaseRNG(args SamplerArgs, offset uint64, shared *mathrand.Rand) *mathrand.Rand {
	if !args.LayeredRandomness.UseIndependentSeeds {
		return shared
	}

	if args.Seed != nil {
		seed := *args.Seed + offset // wraps on overflow, matching Rust's wrapping_add
		return mathrand.New(mathrand.NewSource(int64(seed))) //nolint:gosec // deterministic seed is the point
	}

	return mathrand.New(mathrand.NewSource(int64(osEntropySeed())))
}

func osEntropySeed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; fall back to a fixed but non-degenerate seed rather
		// than panicking mid-decode.
		return 0x2545F4914F6CDD1D
	}

	return binary.LittleEndian.Uint64(buf[:])
}

// globalPhaseRNG and semanticPhaseRNG derive the two per-phase RNGs for
// normal-mode decoding; in zero-shot mode only the semantic phase samples.
func globalPhaseRNG(args SamplerArgs, shared *mathrand.Rand) *mathrand.Rand {
	return derivePhaseRNG(args, args.LayeredRandomness.GlobalSeedOffset, shared)
}

func semanticPhaseRNG(args SamplerArgs, shared *mathrand.Rand) *mathrand.Rand {
	return derivePhaseRNG(args, args.LayeredRandomness.SemanticSeedOffset, shared)
}
