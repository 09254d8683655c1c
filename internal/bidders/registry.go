// Package bidders holds the immutable registry of bidding agents
package bidders

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes one bidding agent
type Config struct {
	Name      string   `yaml:"name" json:"name"`
	Endpoint  string   `yaml:"endpoint" json:"endpoint"`
	PublicKey string   `yaml:"public_key" json:"public_key"`
	TimeoutMS int      `yaml:"timeout_ms" json:"timeout_ms"`
	Pools     []string `yaml:"pools" json:"pools"`
}

// IsSubscribed reports whether the bidder belongs to any of the given pools
func (c Config) IsSubscribed(pools []string) bool {
	for _, want := range pools {
		for _, have := range c.Pools {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Registry is an immutable snapshot of bidder identities keyed by name.
// Lookup order for FilterByPools follows insertion order, which is the tie
// break for winner selection.
type Registry struct {
	byName map[string]Config
	order  []string
}

type inventoryFile struct {
	Bidders []Config `yaml:"bidders"`
}

// Load reads the YAML bidder inventory at path
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bidder inventory %s: %w", path, err)
	}
	var file inventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse bidder inventory %s: %w", path, err)
	}
	return New(file.Bidders)
}

// New builds a registry from bidder configs, applying defaults
func New(configs []Config) (*Registry, error) {
	r := &Registry{byName: make(map[string]Config, len(configs))}
	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("bidder with empty name")
		}
		if _, dup := r.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate bidder %q", cfg.Name)
		}
		if cfg.TimeoutMS <= 0 {
			cfg.TimeoutMS = 200
		}
		if len(cfg.Pools) == 0 {
			cfg.Pools = []string{"default"}
		}
		r.byName[cfg.Name] = cfg
		r.order = append(r.order, cfg.Name)
	}
	return r, nil
}

// All returns every bidder in insertion order
func (r *Registry) All() []Config {
	out := make([]Config, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Get returns the bidder with the given name
func (r *Registry) Get(name string) (Config, bool) {
	cfg, ok := r.byName[name]
	return cfg, ok
}

// FilterByPools returns every bidder whose pools intersect the given set,
// in insertion order.
func (r *Registry) FilterByPools(pools []string) []Config {
	var out []Config
	for _, name := range r.order {
		cfg := r.byName[name]
		if cfg.IsSubscribed(pools) {
			out = append(out, cfg)
		}
	}
	return out
}

// Names extracts bidder names preserving order
func Names(configs []Config) []string {
	names := make([]string, len(configs))
	for i, cfg := range configs {
		names[i] = cfg.Name
	}
	return names
}

// Count returns the number of registered bidders
func (r *Registry) Count() int {
	return len(r.order)
}
