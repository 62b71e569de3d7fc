package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is a gateway configuration document:
//
//	defaults:
//	  x402_pay_to: "0x..."
//	  x402_facilitator_url: https://x402.org/facilitator
//	locations:
//	  - path: /api/premium
//	    x402: "on"
//	    x402_amount: "0.01"
type File struct {
	Defaults RawConfig     `yaml:"defaults"`
	Entries  []RawLocation `yaml:"locations"`
}

// RawLocation is a path prefix with its own directives.
type RawLocation struct {
	Path      string `yaml:"path"`
	RawConfig `yaml:",inline"`
}

// Location is a resolved path prefix.
type Location struct {
	Path   string
	Config *Config
}

// LoadFile reads and parses a YAML configuration file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses a YAML configuration document.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &f, nil
}

// Locations merges each location with the defaults and resolves it.
// Results are ordered longest prefix first.
func (f *File) Locations() ([]Location, error) {
	locs := make([]Location, 0, len(f.Entries))
	for i, raw := range f.Entries {
		path := strings.TrimSpace(raw.Path)
		if path == "" || !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("location %d: path must start with /", i)
		}
		cfg, err := raw.RawConfig.Merge(f.Defaults).Resolve()
		if err != nil {
			return nil, fmt.Errorf("location %s: %w", path, err)
		}
		locs = append(locs, Location{Path: path, Config: cfg})
	}
	sort.SliceStable(locs, func(i, j int) bool {
		return len(locs[i].Path) > len(locs[j].Path)
	})
	return locs, nil
}

// Match returns the location whose prefix best matches the request path.
// locs must be ordered as returned by File.Locations.
func Match(locs []Location, path string) (Location, bool) {
	for _, l := range locs {
		if matchPrefix(l.Path, path) {
			return l, true
		}
	}
	return Location{}, false
}

func matchPrefix(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	// "/api" matches "/api" and "/api/x" but not "/apix".
	return len(path) == len(prefix) || strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}
