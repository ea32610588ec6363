//go:build llama

package provider

import (
	"context"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"artifactd/pkg/types"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// warmLoad initializes the llama.cpp runtime for a GGUF payload so that a
// returned handle is known to be loadable, then frees the probe context.
// Non-GGUF payloads are skipped.
func warmLoad(ctx context.Context, path string) error {
	if !strings.HasSuffix(strings.ToLower(path), ".gguf") {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := llama.New(path, llama.SetContext(512))
	if err != nil {
		return err
	}
	m.Free()
	return nil
}

// mapWarmErr classifies llama load failures: allocation failures count as
// resource exhaustion so the fallback chain engages.
func mapWarmErr(id string, v types.Variant, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "out of memory") || strings.Contains(msg, "alloc") {
		return ResourceExhausted(id, v, err.Error())
	}
	return err
}
