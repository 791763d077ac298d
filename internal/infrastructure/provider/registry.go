// Package provider holds per-provider knowledge: static templates, token
// refreshers and token introspectors.
package provider

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"gopkg.in/yaml.v3"
)

//go:embed providers.yaml
var embeddedTemplates []byte

// Registry resolves provider templates loaded from YAML
type Registry struct {
	templates map[string]*domain.ProviderTemplate
}

var _ ports.ProviderRegistry = (*Registry)(nil)

// NewRegistry loads the embedded templates and, when path is set, overlays
// the templates defined in that file
func NewRegistry(path string) (*Registry, error) {
	templates, err := parseTemplates(embeddedTemplates)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded providers: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read providers file: %w", err)
		}
		overrides, err := parseTemplates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse providers file %s: %w", path, err)
		}
		for name, tmpl := range overrides {
			templates[name] = tmpl
		}
	}

	return &Registry{templates: templates}, nil
}

// Template returns the template for provider
func (r *Registry) Template(provider string) (*domain.ProviderTemplate, error) {
	tmpl, ok := r.templates[provider]
	if !ok {
		return nil, domain.NewError(domain.KindUnknownProvider, "unknown provider").WithField("provider", provider)
	}
	return tmpl, nil
}

// Names returns the known provider names in order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseTemplates(data []byte) (map[string]*domain.ProviderTemplate, error) {
	var raw map[string]*domain.ProviderTemplate
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	templates := make(map[string]*domain.ProviderTemplate, len(raw))
	for name, tmpl := range raw {
		if tmpl == nil {
			return nil, fmt.Errorf("provider %s has an empty template", name)
		}
		switch tmpl.AuthMode {
		case domain.AuthModeOAuth2, domain.AuthModeOAuth1, domain.AuthModeAPIKey, domain.AuthModeBasic:
		default:
			return nil, fmt.Errorf("provider %s has unsupported auth mode %q", name, tmpl.AuthMode)
		}
		tmpl.Name = name
		templates[name] = tmpl
	}
	return templates, nil
}
