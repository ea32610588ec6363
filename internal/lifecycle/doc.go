// Package lifecycle is the coordination facade over the registry, device
// profile, tiered cache, loader and memory telemetry. It serializes
// concurrent loads per artifact id, reacts to hard memory pressure by
// evicting low-value residents, and keeps per-artifact usage statistics
// that survive eviction.
package lifecycle
