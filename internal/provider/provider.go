// Package provider materializes artifact variants. Each provider kind is
// a capability behind the ArtifactProvider interface; the kind is chosen
// once per descriptor at registration time, never by string branching at
// call sites.
package provider

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"

	"artifactd/pkg/types"
)

// ArtifactProvider materializes a variant of an artifact into a handle.
// Materialize must respect ctx cancellation and must not touch registry
// or cache state.
type ArtifactProvider interface {
	Kind() types.ProviderKind
	Materialize(ctx context.Context, desc types.ArtifactDescriptor, v types.Variant) (types.Handle, error)
}

// Options configures provider construction.
type Options struct {
	// MinFreeBytes is the headroom the local provider requires beyond the
	// variant's own size before materializing.
	MinFreeBytes int64
	// AvailableMemory reports free system memory in bytes. Defaults to
	// gopsutil; injectable for tests.
	AvailableMemory func() (uint64, error)
	// AcceleratorMB is the host accelerator capacity from the device
	// profile, used to enforce per-variant accelerator minimums.
	AcceleratorMB uint64
	// Endpoint is the remote provider base URL.
	Endpoint string
	// RemoteVariants restricts which variants the remote endpoint serves.
	// Empty means all.
	RemoteVariants []types.Variant
	Log            zerolog.Logger
}

// ForKind returns the provider implementation for a descriptor's kind.
func ForKind(kind types.ProviderKind, opts Options) (ArtifactProvider, error) {
	if opts.AvailableMemory == nil {
		opts.AvailableMemory = availableMemory
	}
	switch kind {
	case types.ProviderLocal:
		return &localProvider{opts: opts}, nil
	case types.ProviderRemote:
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("remote provider requires an endpoint")
		}
		return &remoteProvider{opts: opts}, nil
	case types.ProviderHybrid:
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("hybrid provider requires an endpoint")
		}
		return &hybridProvider{
			local:  &localProvider{opts: opts},
			remote: &remoteProvider{opts: opts},
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}

// RuntimeSupported reports whether deep artifact initialization
// (llama.cpp warm-load) was compiled into this binary.
func RuntimeSupported() bool { return llamaBuilt }

func availableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}
