// Package catalog maps task families and device capability to concrete
// artifact variants, and defines the fallback chain walked when a heavier
// variant cannot be materialized.
package catalog

import "artifactd/pkg/types"

// fallback is the degradation relation over the known variant set. It is a
// chain terminating at the most-compressed variant, which maps to itself
// (the fixed point signals "no further fallback possible").
var fallback = map[types.Variant]types.Variant{
	types.VariantFull:       types.VariantReduced,
	types.VariantReduced:    types.VariantDistilled,
	types.VariantDistilled:  types.VariantCompressed,
	types.VariantCompressed: types.VariantCompressed,
}

// resolveOrder is the preference order used when the recommended variant
// is not available for a family, lightest acceptable first.
var resolveOrder = []types.Variant{
	types.VariantReduced,
	types.VariantDistilled,
	types.VariantCompressed,
}

// Known reports whether v is a member of the variant set.
func Known(v types.Variant) bool {
	_, ok := fallback[v]
	return ok
}

// NextFallback returns the next lighter variant after v. ok is false when
// v is the terminal variant (or unknown) and no further fallback exists.
func NextFallback(v types.Variant) (types.Variant, bool) {
	next, known := fallback[v]
	if !known || next == v {
		return v, false
	}
	return next, true
}

// Chain returns the bounded fallback traversal starting at v, inclusive.
// Its length never exceeds the size of the variant set.
func Chain(start types.Variant) []types.Variant {
	if !Known(start) {
		return nil
	}
	out := []types.Variant{start}
	v := start
	for range fallback {
		next, ok := NextFallback(v)
		if !ok {
			break
		}
		out = append(out, next)
		v = next
	}
	return out
}

// Resolve picks the concrete starting variant for a descriptor on the
// given device: the profile's recommended variant when the descriptor
// carries it, else the first available variant in resolve order, else the
// descriptor's first registered variant. ok is false only when the
// descriptor has no variants at all.
func Resolve(d types.ArtifactDescriptor, profile types.DeviceProfile) (types.Variant, bool) {
	if d.HasVariant(profile.Recommended) {
		return profile.Recommended, true
	}
	for _, v := range resolveOrder {
		if d.HasVariant(v) {
			return v, true
		}
	}
	if len(d.Variants) > 0 {
		return d.Variants[0].Variant, true
	}
	return "", false
}
