package geofence

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Registry holds the configured campus zones. It is read-only after load.
type Registry struct {
	zones map[string]Zone
}

type zoneFile struct {
	Zones []Zone `yaml:"zones" validate:"dive"`
}

// NewRegistry validates zones and indexes them by id.
func NewRegistry(zones []Zone) (*Registry, error) {
	v := validator.New()
	r := &Registry{zones: make(map[string]Zone, len(zones))}
	for _, z := range zones {
		if err := v.Struct(z); err != nil {
			return nil, fmt.Errorf("zone %q: %w", z.ID, err)
		}
		if err := z.Center.Validate(); err != nil {
			return nil, fmt.Errorf("zone %q: %w", z.ID, err)
		}
		if _, dup := r.zones[z.ID]; dup {
			return nil, fmt.Errorf("zone %q defined twice", z.ID)
		}
		r.zones[z.ID] = z
	}
	return r, nil
}

// LoadRegistry reads a YAML zone file. An empty path yields an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zones file: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes a YAML document with a top-level "zones" list.
func ParseRegistry(data []byte) (*Registry, error) {
	var f zoneFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}
	return NewRegistry(f.Zones)
}

// Lookup returns the zone with the given id.
func (r *Registry) Lookup(id string) (Zone, bool) {
	z, ok := r.zones[id]
	return z, ok
}

// Zones returns all zones sorted by id.
func (r *Registry) Zones() []Zone {
	out := make([]Zone, 0, len(r.zones))
	for _, z := range r.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
