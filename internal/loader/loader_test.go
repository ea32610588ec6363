package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"artifactd/internal/provider"
	"artifactd/pkg/types"
)

// fakeProvider rejects the variants listed in exhausted and serves the
// rest as fixed-size byte handles.
type fakeProvider struct {
	exhausted map[types.Variant]bool
	failWith  error
	calls     []types.Variant
}

func (f *fakeProvider) Kind() types.ProviderKind { return types.ProviderLocal }

func (f *fakeProvider) Materialize(_ context.Context, desc types.ArtifactDescriptor, v types.Variant) (types.Handle, error) {
	f.calls = append(f.calls, v)
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.exhausted[v] {
		return nil, provider.ResourceExhausted(desc.ID, v, "insufficient memory")
	}
	return provider.NewBytesHandle(desc.ID, v, make([]byte, 512), nil), nil
}

func newLoader(p provider.ArtifactProvider) *Loader {
	return New(func(types.ProviderKind) (provider.ArtifactProvider, error) { return p, nil }, zerolog.Nop())
}

func descWith(variants ...types.Variant) types.ArtifactDescriptor {
	d := types.ArtifactDescriptor{ID: "summarizer", Family: "textgen", Provider: types.ProviderLocal}
	for _, v := range variants {
		d.Variants = append(d.Variants, types.VariantSpec{Variant: v, Path: "/tmp/" + string(v) + ".bin"})
	}
	return d
}

func TestLoadFirstVariantSucceeds(t *testing.T) {
	p := &fakeProvider{}
	res, err := newLoader(p).Load(context.Background(), descWith(types.VariantFull, types.VariantReduced), types.VariantFull)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Variant != types.VariantFull || res.Attempts != 1 {
		t.Fatalf("got %s after %d attempts, want full after 1", res.Variant, res.Attempts)
	}
	if res.FootprintBytes != 512 {
		t.Fatalf("footprint = %d", res.FootprintBytes)
	}
}

func TestLoadDegradesOnExhaustion(t *testing.T) {
	p := &fakeProvider{exhausted: map[types.Variant]bool{
		types.VariantFull:    true,
		types.VariantReduced: true,
	}}
	d := descWith(types.VariantFull, types.VariantReduced, types.VariantDistilled)
	res, err := newLoader(p).Load(context.Background(), d, types.VariantFull)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Variant != types.VariantDistilled {
		t.Fatalf("loaded %s, want distilled", res.Variant)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
	want := []types.Variant{types.VariantFull, types.VariantReduced, types.VariantDistilled}
	for i, v := range want {
		if p.calls[i] != v {
			t.Fatalf("call %d = %s, want %s", i, p.calls[i], v)
		}
	}
}

func TestLoadSkipsUnregisteredVariants(t *testing.T) {
	p := &fakeProvider{exhausted: map[types.Variant]bool{types.VariantFull: true}}
	// No reduced or distilled registered: the walk jumps straight to
	// compressed without counting attempts for the gaps.
	d := descWith(types.VariantFull, types.VariantCompressed)
	res, err := newLoader(p).Load(context.Background(), d, types.VariantFull)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Variant != types.VariantCompressed || res.Attempts != 2 {
		t.Fatalf("got %s after %d attempts, want compressed after 2", res.Variant, res.Attempts)
	}
}

func TestLoadChainExhausted(t *testing.T) {
	p := &fakeProvider{exhausted: map[types.Variant]bool{
		types.VariantFull:       true,
		types.VariantReduced:    true,
		types.VariantDistilled:  true,
		types.VariantCompressed: true,
	}}
	d := descWith(types.VariantFull, types.VariantReduced, types.VariantDistilled, types.VariantCompressed)
	_, err := newLoader(p).Load(context.Background(), d, types.VariantFull)
	if !IsNoViableVariant(err) {
		t.Fatalf("err = %v, want no-viable-variant", err)
	}
	if !provider.IsResourceExhausted(err) {
		t.Fatal("wrapped cause lost")
	}
	if len(p.calls) != 4 {
		t.Fatalf("%d calls, want 4 (bounded walk)", len(p.calls))
	}
}

func TestLoadTerminalVariantFailsImmediately(t *testing.T) {
	p := &fakeProvider{exhausted: map[types.Variant]bool{types.VariantCompressed: true}}
	d := descWith(types.VariantCompressed)
	_, err := newLoader(p).Load(context.Background(), d, types.VariantCompressed)
	if !IsNoViableVariant(err) {
		t.Fatalf("err = %v, want no-viable-variant", err)
	}
	if len(p.calls) != 1 {
		t.Fatalf("%d calls at the fixed point, want 1", len(p.calls))
	}
}

func TestLoadNonExhaustionErrorAborts(t *testing.T) {
	boom := provider.NotFound("summarizer", "payload file")
	p := &fakeProvider{failWith: boom}
	d := descWith(types.VariantFull, types.VariantReduced)
	_, err := newLoader(p).Load(context.Background(), d, types.VariantFull)
	if !provider.IsNotFound(err) {
		t.Fatalf("err = %v, want the provider error verbatim", err)
	}
	if IsNoViableVariant(err) {
		t.Fatal("non-exhaustion error misclassified as chain exhaustion")
	}
	if len(p.calls) != 1 {
		t.Fatalf("%d calls, want 1 (no fallback on hard errors)", len(p.calls))
	}
}

func TestLoadUnknownPreferredVariant(t *testing.T) {
	p := &fakeProvider{}
	_, err := newLoader(p).Load(context.Background(), descWith(types.VariantFull), types.Variant("fp64"))
	if !IsNoViableVariant(err) {
		t.Fatalf("err = %v, want no-viable-variant", err)
	}
	if len(p.calls) != 0 {
		t.Fatal("provider called for unknown variant")
	}
}

func TestLoadContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakeProvider{}
	_, err := newLoader(p).Load(ctx, descWith(types.VariantFull), types.VariantFull)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
