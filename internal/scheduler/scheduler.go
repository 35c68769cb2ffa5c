// Package scheduler implements the process-wide batch scheduler that
// accepts TTS requests and routes each to the normal or zero-shot decode
// path on the shared RWKV runtime, serialized through the runtime
// semaphore the decoder core owns.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/rwkv-tts-go/internal/decoder"
	"github.com/google/uuid"
)

// Scheduler is the single process-wide entry point named generate_tts in
// the source: it owns the runtime, state manager and runtime semaphore,
// and dispatches each request to the decoder core.
type Scheduler struct {
	runtime      decoder.Runtime
	stateManager decoder.StateManager
	semaphore    *decoder.Semaphore
	log          *slog.Logger
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New builds a Scheduler bound to a single shared runtime and state
// manager. Only one Scheduler should exist per runtime instance.
func New(runtime decoder.Runtime, stateManager decoder.StateManager, opts ...Option) *Scheduler {
	s := &Scheduler{
		runtime:      runtime,
		stateManager: stateManager,
		semaphore:    decoder.NewSemaphore(),
		log:          slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GenerateTTS routes req to the normal or zero-shot decoder based on
// whether both reference-token vectors are present, and returns the
// resulting (global_tokens, semantic_tokens) pair. Requests queue FIFO on
// the runtime semaphore; at most one decode runs against the shared
// runtime at a time.
func (s *Scheduler) GenerateTTS(ctx context.Context, req *decoder.TtsRequest) (global, semantic []int64, err error) {
	if req == nil {
		return nil, nil, fmt.Errorf("%w: request is nil", decoder.ErrInvalidInput)
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	queueDepth.Inc()
	defer queueDepth.Dec()

	path := "normal"
	if req.IsZeroShot() {
		path = "zero_shot"
	}

	start := time.Now()
	defer func() { observeDecode(path, start) }()

	ic := &decoder.InferContext{
		RequestID:        req.RequestID,
		Runtime:          s.runtime,
		StateManager:     s.stateManager,
		RuntimeSemaphore: s.semaphore,
		Options:          req.SamplerArgs,
	}

	s.log.DebugContext(ctx, "dispatching tts request",
		"request_id", req.RequestID,
		"zero_shot", req.IsZeroShot(),
		"text_tokens", len(req.TextTokens),
	)

	global, semantic, err = decoder.Decode(ctx, ic, req)
	if err != nil {
		s.log.ErrorContext(ctx, "tts decode failed", "request_id", req.RequestID, "error", err)
		return nil, nil, err
	}

	s.log.DebugContext(ctx, "tts decode complete",
		"request_id", req.RequestID,
		"global_tokens", len(global),
		"semantic_tokens", len(semantic),
	)

	tokensEmitted.WithLabelValues("global").Observe(float64(len(global)))
	tokensEmitted.WithLabelValues("semantic").Observe(float64(len(semantic)))

	return global, semantic, nil
}
