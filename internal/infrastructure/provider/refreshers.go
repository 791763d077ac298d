package provider

import (
	"net/http"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/rs/zerolog"
)

// RefreshClientJSONBody names the JSON body refresher in provider templates
const RefreshClientJSONBody = "json_body"

// RefresherRegistry picks the generic OAuth2 refresher unless a template
// names a custom refresh client
type RefresherRegistry struct {
	generic ports.TokenRefresher
	named   map[string]ports.TokenRefresher
}

var _ ports.TokenRefresherRegistry = (*RefresherRegistry)(nil)

// NewRefresherRegistry creates the registry with the built-in refreshers
func NewRefresherRegistry(client *http.Client, logger zerolog.Logger) *RefresherRegistry {
	return &RefresherRegistry{
		generic: NewOAuth2Refresher(client, logger),
		named: map[string]ports.TokenRefresher{
			RefreshClientJSONBody: NewJSONBodyRefresher(client, logger),
		},
	}
}

// Register adds or replaces a named refresh client
func (r *RefresherRegistry) Register(name string, refresher ports.TokenRefresher) {
	r.named[name] = refresher
}

// Refresher returns the refresher the template asks for
func (r *RefresherRegistry) Refresher(tmpl *domain.ProviderTemplate) (ports.TokenRefresher, error) {
	if tmpl.RefreshClient == "" {
		return r.generic, nil
	}
	refresher, ok := r.named[tmpl.RefreshClient]
	if !ok {
		return nil, domain.NewError(domain.KindUnknownProvider, "unknown refresh client").
			WithField("provider", tmpl.Name).
			WithField("refreshClient", tmpl.RefreshClient)
	}
	return refresher, nil
}
