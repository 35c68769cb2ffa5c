package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// SessionPool bounds concurrent access to a single named ONNX graph runner.
// It mirrors the worker-slot channel semaphore internal/server's handler
// uses for HTTP request throttling, scoped here per graph instead of per
// process: Acquire returns a Lease that must be released to return the
// slot. There is no per-request session affinity —
// any idle slot can serve any caller.
type SessionPool struct {
	name    string
	runner  GraphRunner
	slots   chan struct{}
	log     *slog.Logger
}

// NewSessionPool builds a bounded pool of size capacity over a single
// GraphRunner. capacity must be >= 1.
func NewSessionPool(name string, runner GraphRunner, capacity int, log *slog.Logger) (*SessionPool, error) {
	if runner == nil {
		return nil, fmt.Errorf("session pool %q: runner is nil", name)
	}

	if capacity < 1 {
		return nil, fmt.Errorf("session pool %q: capacity must be >= 1, got %d", name, capacity)
	}

	if log == nil {
		log = slog.Default()
	}

	return &SessionPool{
		name:   name,
		runner: runner,
		slots:  make(chan struct{}, capacity),
		log:    log,
	}, nil
}

// Lease is a scoped hold on one pool slot. The caller must call Release
// exactly once; it is safe to defer immediately after a successful Acquire.
type Lease struct {
	pool   *SessionPool
	runner GraphRunner
}

// Acquire waits until a slot is available or ctx is cancelled, and returns
// a Lease wrapping the pool's GraphRunner. The lease survives hand-off into
// a separate goroutine performing the synchronous CPU-bound inference call.
func (p *SessionPool) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case p.slots <- struct{}{}:
		return &Lease{pool: p, runner: p.runner}, nil
	default:
		p.log.DebugContext(ctx, "session pool exhausted, queuing", "pool", p.name)

		select {
		case p.slots <- struct{}{}:
			return &Lease{pool: p, runner: p.runner}, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("session pool %q: %w", p.name, ctx.Err())
		}
	}
}

// Runner returns the leased GraphRunner for use inside the critical
// section. Calling it after Release is a programming error.
func (l *Lease) Runner() GraphRunner {
	return l.runner
}

// Release returns the slot to the pool. Safe to call at most once per
// Lease; calling it after the pool is gone is a no-op in practice since
// the channel still exists for the pool's lifetime.
func (l *Lease) Release() {
	<-l.pool.slots
}

// SessionPools groups the three named pools spec.md's C2 requires:
// wav2vec2, bicodec_tokenize and bicodec_detokenize.
type SessionPools struct {
	Wav2Vec2          *SessionPool
	BicodecTokenize   *SessionPool
	BicodecDetokenize *SessionPool
}

// NewSessionPools builds a pool for each of wav2vec2, bicodec_tokenize and
// bicodec_detokenize that is actually present in e's manifest, using
// capacity for each (sessions carry no per-request affinity, so one
// capacity applies uniformly unless the caller constructs pools directly).
// A graph absent from the manifest leaves the corresponding field nil;
// callers that only need the encoder side of C2 (export-voice) or only the
// vocoder side (a synth/decode path) don't need all three graphs deployed.
func NewSessionPools(e *Engine, capacity int, log *slog.Logger) (*SessionPools, error) {
	pools := &SessionPools{}

	for _, g := range [...]struct {
		name string
		dst  **SessionPool
	}{
		{"wav2vec2", &pools.Wav2Vec2},
		{"bicodec_tokenize", &pools.BicodecTokenize},
		{"bicodec_detokenize", &pools.BicodecDetokenize},
	} {
		runner, ok := e.runners[g.name]
		if !ok {
			continue
		}

		pool, err := NewSessionPool(g.name, runner, capacity, log)
		if err != nil {
			return nil, err
		}

		*g.dst = pool
	}

	if pools.Wav2Vec2 == nil && pools.BicodecTokenize == nil && pools.BicodecDetokenize == nil {
		return nil, errors.New("session pools: none of wav2vec2/bicodec_tokenize/bicodec_detokenize found in manifest")
	}

	return pools, nil
}

// EncodeVoiceSamples runs the C3 voice-encoder algorithm over wav, leasing
// the wav2vec2 and bicodec_tokenize slots from their pools for the
// duration of the call instead of reaching into the Engine's runners
// directly, so concurrent callers are bounded per spec C2.
func (p *SessionPools) EncodeVoiceSamples(ctx context.Context, wav []float32) (globalTokens, semanticTokens []int64, err error) {
	if p.Wav2Vec2 == nil || p.BicodecTokenize == nil {
		return nil, nil, errors.New("encode voice: wav2vec2/bicodec_tokenize pools not available")
	}

	wav2vec2Lease, err := p.Wav2Vec2.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("encode voice: acquire wav2vec2 lease: %w", err)
	}
	defer wav2vec2Lease.Release()

	tokenizeLease, err := p.BicodecTokenize.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("encode voice: acquire bicodec_tokenize lease: %w", err)
	}
	defer tokenizeLease.Release()

	return encodeVoiceSamplesWithRunners(ctx, wav2vec2Lease.Runner(), tokenizeLease.Runner(), wav)
}

// DecodeVoiceTokens runs the C4 vocoder adapter, leasing the
// bicodec_detokenize slot from its pool instead of reaching into the
// Engine's runners directly, so concurrent callers are bounded per spec C2.
func (p *SessionPools) DecodeVoiceTokens(ctx context.Context, globalTokens, semanticTokens []int64) ([]float32, error) {
	if p.BicodecDetokenize == nil {
		return nil, errors.New("decode voice tokens: bicodec_detokenize pool not available")
	}

	lease, err := p.BicodecDetokenize.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("decode voice tokens: acquire bicodec_detokenize lease: %w", err)
	}
	defer lease.Release()

	return decodeVoiceTokensWithRunner(ctx, lease.Runner(), globalTokens, semanticTokens)
}
