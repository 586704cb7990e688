// Package prompts holds the versioned prompt texts sent to completion
// providers, plus a small registry so callers address prompts by id rather
// than by constant.
package prompts

import (
	"fmt"
	"strings"
	"sync"
)

// Version identifies a prompt revision.
type Version string

const V1 Version = "1.0.0"

// Prompt is one versioned prompt with metadata.
type Prompt struct {
	ID          string
	Version     Version
	Content     string
	Description string
}

// Registry manages versioned prompts.
type Registry struct {
	mu      sync.RWMutex
	prompts map[string]map[Version]*Prompt
}

var defaultRegistry *Registry
var defaultRegistryOnce sync.Once

// Default returns the global registry all prompt files register into.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{prompts: make(map[string]map[Version]*Prompt)}
}

// Register adds a prompt to the registry.
func (r *Registry) Register(p *Prompt) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prompts[p.ID] == nil {
		r.prompts[p.ID] = make(map[Version]*Prompt)
	}
	r.prompts[p.ID][p.Version] = p
}

// Get retrieves a prompt by id and version.
func (r *Registry) Get(id string, version Version) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.prompts[id]
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", id)
	}
	p, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("prompt %s version %s not found", id, version)
	}
	return p, nil
}

// Render fetches a prompt and substitutes {{key}} variables.
func (r *Registry) Render(id string, version Version, vars map[string]string) (string, error) {
	p, err := r.Get(id, version)
	if err != nil {
		return "", err
	}
	out := p.Content
	for key, value := range vars {
		out = strings.ReplaceAll(out, fmt.Sprintf("{{%s}}", key), value)
	}
	return out, nil
}
