package provider

import (
	"context"
	"net/http"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/rs/zerolog"
)

// IntrospectionClientShopify names the Shopify introspector in provider templates
const IntrospectionClientShopify = "shopify"

// Introspectors dispatches to the introspector a template names, defaulting
// to RFC 7662
type Introspectors struct {
	standard ports.TokenIntrospector
	named    map[string]ports.TokenIntrospector
}

var _ ports.TokenIntrospector = (*Introspectors)(nil)

// NewIntrospectors creates the dispatcher with the built-in introspectors
func NewIntrospectors(client *http.Client, logger zerolog.Logger) *Introspectors {
	return &Introspectors{
		standard: NewHTTPIntrospector(client, logger),
		named: map[string]ports.TokenIntrospector{
			IntrospectionClientShopify: NewShopifyIntrospector(client, logger),
		},
	}
}

// IsExpired delegates to the template's introspector
func (i *Introspectors) IsExpired(ctx context.Context, conn *domain.Connection, config *domain.ProviderConfig, tmpl *domain.ProviderTemplate) (bool, error) {
	if introspector, ok := i.named[tmpl.IntrospectionClient]; ok {
		return introspector.IsExpired(ctx, conn, config, tmpl)
	}
	return i.standard.IsExpired(ctx, conn, config, tmpl)
}
