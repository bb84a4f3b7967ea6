// Package templates loads the library of starting contract bodies a lister
// can pick when initiating an agreement.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sublease-marketplace/backend/internal/binder"
)

//go:embed default.yaml
var defaultLibrary []byte

// DefaultKey is used when the lister does not pick a template.
const DefaultKey = "standard_sublease"

type Template struct {
	Key         string `yaml:"key" json:"key"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Body        string `yaml:"body" json:"body"`
}

type file struct {
	Templates []Template `yaml:"templates"`
}

type Library struct {
	byKey map[string]Template
	keys  []string
}

// Load reads the library from path, or the embedded default when path is empty.
func Load(path string) (*Library, error) {
	data := defaultLibrary
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read templates file: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes a YAML library and checks every body's placeholders.
func Parse(data []byte) (*Library, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if len(f.Templates) == 0 {
		return nil, fmt.Errorf("templates: library is empty")
	}

	lib := &Library{byKey: make(map[string]Template, len(f.Templates))}
	for _, t := range f.Templates {
		if t.Key == "" {
			return nil, fmt.Errorf("templates: entry %q has no key", t.Name)
		}
		if _, dup := lib.byKey[t.Key]; dup {
			return nil, fmt.Errorf("templates: duplicate key %q", t.Key)
		}
		if _, err := binder.Extract(t.Body); err != nil {
			return nil, fmt.Errorf("templates: %s: %w", t.Key, err)
		}
		lib.byKey[t.Key] = t
		lib.keys = append(lib.keys, t.Key)
	}
	sort.Strings(lib.keys)
	return lib, nil
}

// Get returns the template stored under key.
func (l *Library) Get(key string) (Template, bool) {
	t, ok := l.byKey[key]
	return t, ok
}

// List returns all templates ordered by key.
func (l *Library) List() []Template {
	out := make([]Template, 0, len(l.keys))
	for _, k := range l.keys {
		out = append(out, l.byKey[k])
	}
	return out
}
