// Package loader walks an artifact's fallback chain until a variant
// materializes or the chain is exhausted. It turns resource-exhaustion
// failures into graceful degradation instead of hard errors.
package loader

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"artifactd/internal/catalog"
	"artifactd/internal/provider"
	"artifactd/pkg/types"
)

// Result is a successful materialization. Variant is the one actually
// loaded, which may be lighter than the requested one.
type Result struct {
	Handle         types.Handle
	Variant        types.Variant
	FootprintBytes int64
	// Attempts counts materialization tries, including the successful one.
	Attempts int
	Duration time.Duration
}

// Loader materializes artifacts through their provider, degrading along
// the fallback chain on resource exhaustion.
type Loader struct {
	providers func(types.ProviderKind) (provider.ArtifactProvider, error)
	log       zerolog.Logger
}

// New builds a Loader. providers resolves a descriptor's kind to its
// provider; typically a closure over the configured provider set.
func New(providers func(types.ProviderKind) (provider.ArtifactProvider, error), log zerolog.Logger) *Loader {
	return &Loader{providers: providers, log: log}
}

// Load materializes desc starting at preferred and degrading one variant
// per resource-exhaustion failure. Variants the descriptor does not carry
// are skipped without counting an attempt. Non-exhaustion errors abort the
// walk immediately, and ctx cancellation is honored between attempts.
func (l *Loader) Load(ctx context.Context, desc types.ArtifactDescriptor, preferred types.Variant) (Result, error) {
	start := time.Now()
	if !catalog.Known(preferred) {
		return Result{}, noViableVariantError{id: desc.ID, start: preferred, attempts: 0,
			last: provider.NotFound(desc.ID, "variant "+string(preferred))}
	}
	p, err := l.providers(desc.Provider)
	if err != nil {
		return Result{}, err
	}

	attempts := 0
	var lastErr error
	for _, v := range catalog.Chain(preferred) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if !desc.HasVariant(v) {
			continue
		}
		attempts++
		h, err := p.Materialize(ctx, desc, v)
		if err == nil {
			d := time.Since(start)
			if v != preferred {
				l.log.Info().
					Str("artifact", desc.ID).
					Str("requested", string(preferred)).
					Str("loaded", string(v)).
					Int("attempts", attempts).
					Msg("degraded to lighter variant")
			}
			loadAttempts.Observe(float64(attempts))
			return Result{
				Handle:         h,
				Variant:        v,
				FootprintBytes: h.SizeBytes(),
				Attempts:       attempts,
				Duration:       d,
			}, nil
		}
		if !provider.IsResourceExhausted(err) {
			return Result{}, err
		}
		lastErr = err
		l.log.Warn().
			Str("artifact", desc.ID).
			Str("variant", string(v)).
			Err(err).
			Msg("variant rejected, trying lighter fallback")
	}
	if lastErr == nil {
		lastErr = provider.NotFound(desc.ID, "no registered variant on fallback chain from "+string(preferred))
	}
	return Result{}, noViableVariantError{id: desc.ID, start: preferred, attempts: attempts, last: lastErr}
}
