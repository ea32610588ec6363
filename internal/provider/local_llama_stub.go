//go:build !llama

package provider

// This file provides a no-CGO stub for the llama warm-load path. It is
// compiled when the 'llama' build tag is NOT set, keeping default builds
// and CI CGO-free. The real path lives in local_llama.go (tagged 'llama').

import (
	"context"

	"artifactd/pkg/types"
)

var llamaBuilt = false

func warmLoad(ctx context.Context, path string) error { return ctx.Err() }

func mapWarmErr(id string, v types.Variant, err error) error { return err }
