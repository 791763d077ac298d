package api

import (
	"net/http"

	"archie-core-connections-layer/internal/application"
	"archie-core-connections-layer/internal/domain"

	"github.com/go-chi/chi/v5"
)

type configureProviderRequest struct {
	UniqueKey    string   `json:"unique_key"`
	Provider     string   `json:"provider"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
}

// configureProvider handles POST /config
func (s *Server) configureProvider(w http.ResponseWriter, r *http.Request) {
	var req configureProviderRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	config, err := s.services.ProviderConfigs.Configure(r.Context(), domain.EnvironmentIDFromContext(r.Context()), application.ConfigureProviderInput{
		UniqueKey:    req.UniqueKey,
		Provider:     req.Provider,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Scopes:       req.Scopes,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, config)
}

// listConfigs handles GET /config
func (s *Server) listConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.services.ProviderConfigs.List(r.Context(), domain.EnvironmentIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if configs == nil {
		configs = []*domain.ProviderConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
}

// getConfig handles GET /config/{providerConfigKey}
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	config, err := s.services.ProviderConfigs.Get(r.Context(), chi.URLParam(r, "providerConfigKey"), domain.EnvironmentIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, config)
}

// deleteConfig handles DELETE /config/{providerConfigKey}
func (s *Server) deleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.services.ProviderConfigs.Delete(r.Context(), chi.URLParam(r, "providerConfigKey"), domain.EnvironmentIDFromContext(r.Context())); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
