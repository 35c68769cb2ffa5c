package decoder

import "errors"

// Sentinel error kinds surfaced by the decoder core. Callers use errors.Is
// against these; call sites wrap with fmt.Errorf("...: %w", ...) to add
// context without losing the kind.
var (
	// ErrInvalidInput signals a missing or malformed required field, e.g.
	// zero-shot mode invoked without reference tokens.
	ErrInvalidInput = errors.New("decoder: invalid input")
	// ErrUnsupportedAudio signals an audio sample format or rate the DSP
	// kit cannot handle.
	ErrUnsupportedAudio = errors.New("decoder: unsupported audio")
	// ErrShapeMismatch signals an ONNX tensor outside its documented
	// contract shape.
	ErrShapeMismatch = errors.New("decoder: tensor shape mismatch")
	// ErrRuntimeUnavailable signals that the runtime semaphore or a
	// session lease could not be acquired.
	ErrRuntimeUnavailable = errors.New("decoder: runtime unavailable")
	// ErrInferenceFailed wraps an underlying LM or ONNX execution error.
	ErrInferenceFailed = errors.New("decoder: inference failed")
)
