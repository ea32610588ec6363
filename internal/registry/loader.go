package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"artifactd/pkg/types"
)

// catalogFile is the on-disk bootstrap schema. TTLs are given in seconds
// so the file stays format-agnostic.
type catalogFile struct {
	Artifacts []catalogEntry `json:"artifacts" yaml:"artifacts" toml:"artifacts"`
}

type catalogEntry struct {
	ID         string              `json:"id" yaml:"id" toml:"id"`
	Family     string              `json:"family" yaml:"family" toml:"family"`
	Provider   string              `json:"provider" yaml:"provider" toml:"provider"`
	DiskTTLSec int                 `json:"disk_ttl_sec" yaml:"disk_ttl_sec" toml:"disk_ttl_sec"`
	Variants   []types.VariantSpec `json:"variants" yaml:"variants" toml:"variants"`
}

// LoadFile reads a catalog file (yaml/json/toml by extension) and registers
// every descriptor, expanding relative variant paths against the file's
// directory. Returns the number of descriptors registered.
func LoadFile(r *Registry, path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog: %w", err)
	}
	var cf catalogFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cf)
	case ".json":
		err = json.Unmarshal(b, &cf)
	case ".toml":
		err = toml.Unmarshal(b, &cf)
	default:
		return 0, fmt.Errorf("unsupported catalog extension: %s", ext)
	}
	if err != nil {
		return 0, fmt.Errorf("parse catalog: %w", err)
	}

	base := filepath.Dir(path)
	n := 0
	for _, e := range cf.Artifacts {
		if e.ID == "" {
			return n, fmt.Errorf("catalog entry without id")
		}
		kind := types.ProviderKind(e.Provider)
		switch kind {
		case types.ProviderLocal, types.ProviderRemote, types.ProviderHybrid:
		case "":
			kind = types.ProviderLocal
		default:
			return n, fmt.Errorf("artifact %q: unknown provider %q", e.ID, e.Provider)
		}
		d := types.ArtifactDescriptor{
			ID:       e.ID,
			Family:   e.Family,
			Provider: kind,
			DiskTTL:  time.Duration(e.DiskTTLSec) * time.Second,
			Variants: make([]types.VariantSpec, len(e.Variants)),
		}
		for i, vs := range e.Variants {
			if vs.Path != "" && !filepath.IsAbs(vs.Path) {
				vs.Path = filepath.Join(base, vs.Path)
			}
			d.Variants[i] = vs
		}
		if !r.Register(d) {
			return n, fmt.Errorf("duplicate artifact id %q", e.ID)
		}
		n++
	}
	return n, nil
}
