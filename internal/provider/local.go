package provider

import (
	"context"
	"fmt"
	"os"

	"artifactd/pkg/types"
)

// localProvider materializes artifacts from files on disk. The measured
// footprint is the payload size.
type localProvider struct {
	opts Options
}

func (p *localProvider) Kind() types.ProviderKind { return types.ProviderLocal }

func (p *localProvider) Materialize(ctx context.Context, desc types.ArtifactDescriptor, v types.Variant) (types.Handle, error) {
	spec, ok := desc.VariantSpec(v)
	if !ok || spec.Path == "" {
		return nil, NotFound(desc.ID, fmt.Sprintf("variant %s payload", v))
	}
	fi, err := os.Stat(spec.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NotFound(desc.ID, spec.Path)
		}
		return nil, fmt.Errorf("stat %s: %w", spec.Path, err)
	}
	size := fi.Size()

	if err := p.checkHeadroom(desc.ID, v, spec, size); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", spec.Path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Deep initialization of the runtime when built with the llama tag;
	// a no-op in default builds.
	if err := warmLoad(ctx, spec.Path); err != nil {
		return nil, mapWarmErr(desc.ID, v, err)
	}

	p.opts.Log.Debug().
		Str("artifact", desc.ID).
		Str("variant", string(v)).
		Int64("size_bytes", size).
		Msg("materialized local artifact")
	return NewBytesHandle(desc.ID, v, data, nil), nil
}

// checkHeadroom enforces the variant's declared minimums plus the
// configured free-memory margin before committing to a read.
func (p *localProvider) checkHeadroom(id string, v types.Variant, spec types.VariantSpec, size int64) error {
	if spec.MinAcceleratorMB > 0 && uint64(spec.MinAcceleratorMB) > p.opts.AcceleratorMB {
		return ResourceExhausted(id, v,
			fmt.Sprintf("needs %d MB accelerator, host has %d MB", spec.MinAcceleratorMB, p.opts.AcceleratorMB))
	}
	avail, err := p.opts.AvailableMemory()
	if err != nil {
		// Cannot verify headroom: refuse the heavy path, let fallback
		// find a lighter variant.
		return ResourceExhausted(id, v, "memory telemetry unavailable")
	}
	if spec.MinMemoryMB > 0 && avail/(1024*1024) < uint64(spec.MinMemoryMB) {
		return ResourceExhausted(id, v,
			fmt.Sprintf("needs %d MB free, host has %d MB", spec.MinMemoryMB, avail/(1024*1024)))
	}
	if need := uint64(size) + uint64(p.opts.MinFreeBytes); avail < need {
		return ResourceExhausted(id, v,
			fmt.Sprintf("payload %d bytes exceeds free memory headroom", size))
	}
	return nil
}
