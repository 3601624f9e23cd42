// Package searchparam holds the reference search parameters used to resolve
// _include and _revinclude. The registry is built once at startup and is
// read-only afterwards, so it is safe for concurrent use without locking.
package searchparam

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var defaultRegistry []byte

// Entry describes one reference search parameter.
type Entry struct {
	// Path is a FHIRPath expression rooted at the source type. Alternatives
	// are separated by "|".
	Path   string   `yaml:"path" validate:"required"`
	Target []string `yaml:"target" validate:"dive,required"`
}

// Registry maps "SourceType:param" keys to entries.
type Registry struct {
	entries map[string]Entry
}

var validate = validator.New()

// Key builds the registry key for a source type and parameter name.
func Key(sourceType, param string) string {
	return sourceType + ":" + param
}

// Parse builds a registry from YAML of the form
//
//	Observation:subject:
//	  path: Observation.subject
//	  target: [Patient, Group]
func Parse(data []byte) (*Registry, error) {
	var raw map[string]Entry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode search parameters: %w", err)
	}

	entries := make(map[string]Entry, len(raw))
	for key, e := range raw {
		sourceType, param, ok := strings.Cut(key, ":")
		if !ok || sourceType == "" || param == "" {
			return nil, fmt.Errorf("search parameter %q: key must be SourceType:param", key)
		}
		e.Path = strings.TrimSpace(e.Path)
		if err := validate.Struct(e); err != nil {
			return nil, fmt.Errorf("search parameter %q: %w", key, err)
		}
		for _, alt := range Alternatives(e.Path) {
			if !strings.HasPrefix(alt, sourceType+".") {
				return nil, fmt.Errorf("search parameter %q: path %q is not rooted at %s", key, alt, sourceType)
			}
		}
		entries[key] = e
	}
	return &Registry{entries: entries}, nil
}

// Default returns the registry compiled into the binary.
func Default() (*Registry, error) {
	return Parse(defaultRegistry)
}

// Load reads the registry from path, or returns the compiled-in registry
// when path is empty.
func Load(path string, logger zerolog.Logger) (*Registry, error) {
	source := "embedded"
	data := defaultRegistry
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read search parameters: %w", err)
		}
		source = path
		data = b
	}

	reg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("source", source).Int("entries", reg.Len()).Msg("search parameter registry loaded")
	return reg, nil
}

// Lookup returns the entry for sourceType:param.
func (r *Registry) Lookup(sourceType, param string) (Entry, bool) {
	e, ok := r.entries[Key(sourceType, param)]
	return e, ok
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Keys returns every registry key in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Alternatives splits a union path expression into its trimmed parts.
func Alternatives(path string) []string {
	var out []string
	for _, p := range strings.Split(path, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
