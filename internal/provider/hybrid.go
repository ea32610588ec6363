package provider

import (
	"context"

	"artifactd/pkg/types"
)

// hybridProvider tries the local path first and falls back to the remote
// endpoint when the payload is missing locally or does not fit in memory.
type hybridProvider struct {
	local  *localProvider
	remote *remoteProvider
}

func (p *hybridProvider) Kind() types.ProviderKind { return types.ProviderHybrid }

func (p *hybridProvider) Materialize(ctx context.Context, desc types.ArtifactDescriptor, v types.Variant) (types.Handle, error) {
	h, err := p.local.Materialize(ctx, desc, v)
	if err == nil {
		return h, nil
	}
	if IsNotFound(err) || IsResourceExhausted(err) {
		p.local.opts.Log.Debug().
			Str("artifact", desc.ID).
			Str("variant", string(v)).
			Err(err).
			Msg("local materialization unavailable, trying remote")
		return p.remote.Materialize(ctx, desc, v)
	}
	return nil, err
}
