package config

import (
	"fmt"
	"strings"
)

const (
	BackendNative            = "native-safetensors"
	BackendNativeONNX        = "native-onnx"
	BackendNativeLegacyAlias = "native"
	// BackendNativeSafetensors is another name for BackendNative.
	BackendNativeSafetensors = BackendNative
	BackendCLI               = "cli"
	// BackendRWKV drives text through the internal/decoder +
	// internal/scheduler two-phase RWKV pipeline (spec C5-C7) instead of
	// the flow-matching runtimes the other backends use.
	BackendRWKV = "rwkv"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendNativeONNX
	}
	switch backend {
	case BackendNative, BackendNativeONNX, BackendCLI, BackendRWKV:
		return backend, nil
	case BackendNativeLegacyAlias:
		return BackendNative, nil
	default:
		return "", fmt.Errorf(
			"invalid backend %q (expected %s|%s|%s|%s|%s)",
			raw,
			BackendNativeONNX,
			BackendNativeLegacyAlias,
			BackendNative,
			BackendCLI,
			BackendRWKV,
		)
	}
}
