package provider

import (
	"context"
	"fmt"
	"sync"

	"artifactd/pkg/types"
)

// nominal footprint of an API-backed handle; the artifact itself lives on
// the remote side.
const remoteHandleBytes = 1 << 20

// remoteProvider represents artifacts served by a remote API. It holds no
// payload locally, so remote handles are never written through to disk.
type remoteProvider struct {
	opts Options
}

func (p *remoteProvider) Kind() types.ProviderKind { return types.ProviderRemote }

func (p *remoteProvider) Materialize(ctx context.Context, desc types.ArtifactDescriptor, v types.Variant) (types.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !desc.HasVariant(v) {
		return nil, NotFound(desc.ID, fmt.Sprintf("variant %s", v))
	}
	if len(p.opts.RemoteVariants) > 0 && !containsVariant(p.opts.RemoteVariants, v) {
		return nil, ResourceExhausted(desc.ID, v, "endpoint does not serve this variant")
	}
	p.opts.Log.Debug().
		Str("artifact", desc.ID).
		Str("variant", string(v)).
		Str("endpoint", p.opts.Endpoint).
		Msg("bound remote artifact")
	return &remoteHandle{id: desc.ID, variant: v, endpoint: p.opts.Endpoint}, nil
}

func containsVariant(vs []types.Variant, v types.Variant) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

// remoteHandle is a lightweight client binding to a remote artifact.
type remoteHandle struct {
	id       string
	variant  types.Variant
	endpoint string

	mu       sync.Mutex
	released bool
}

func (h *remoteHandle) ArtifactID() string     { return h.id }
func (h *remoteHandle) Variant() types.Variant { return h.variant }
func (h *remoteHandle) SizeBytes() int64       { return remoteHandleBytes }

// Payload reports not persistable: there is nothing local to seal.
func (h *remoteHandle) Payload() ([]byte, bool) { return nil, false }

func (h *remoteHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	return nil
}

// Endpoint exposes the bound endpoint to consumers of remote handles.
func (h *remoteHandle) Endpoint() string { return h.endpoint }
