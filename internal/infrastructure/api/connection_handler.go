package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"archie-core-connections-layer/internal/application"
	"archie-core-connections-layer/internal/domain"

	"github.com/go-chi/chi/v5"
)

// ActivityLogHeader lets callers attach credential operations to their activity log
const ActivityLogHeader = "Activity-Log-Id"

const maxJSONBody = 1 << 20

type connectionResponse struct {
	ID                int64             `json:"id"`
	ConnectionID      string            `json:"connection_id"`
	ProviderConfigKey string            `json:"provider_config_key"`
	EnvironmentID     int64             `json:"environment_id"`
	Credentials       credentialsView   `json:"credentials"`
	ConnectionConfig  map[string]string `json:"connection_config"`
	Metadata          map[string]string `json:"metadata"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type credentialsView struct {
	Type             domain.AuthMode `json:"type"`
	AccessToken      string          `json:"access_token,omitempty"`
	RefreshToken     string          `json:"refresh_token,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	OAuthToken       string          `json:"oauth_token,omitempty"`
	OAuthTokenSecret string          `json:"oauth_token_secret,omitempty"`
	APIKey           string          `json:"apiKey,omitempty"`
	Username         string          `json:"username,omitempty"`
	Password         string          `json:"password,omitempty"`
	Raw              map[string]any  `json:"raw,omitempty"`
}

// newCredentialsView renders credentials for the caller. The refresh token
// is only included on request and is also removed from the raw response.
func newCredentialsView(creds domain.Credentials, includeRefreshToken bool) credentialsView {
	switch c := creds.(type) {
	case *domain.OAuth2Credentials:
		view := credentialsView{Type: domain.AuthModeOAuth2, AccessToken: c.AccessToken, ExpiresAt: c.ExpiresAt, Raw: c.Raw}
		if includeRefreshToken {
			view.RefreshToken = c.RefreshToken
		} else if _, ok := c.Raw["refresh_token"]; ok {
			raw := make(map[string]any, len(c.Raw))
			for k, v := range c.Raw {
				if k != "refresh_token" {
					raw[k] = v
				}
			}
			view.Raw = raw
		}
		return view
	case *domain.OAuth1Credentials:
		return credentialsView{Type: domain.AuthModeOAuth1, OAuthToken: c.OAuthToken, OAuthTokenSecret: c.OAuthTokenSecret, Raw: c.Raw}
	case *domain.APIKeyCredentials:
		return credentialsView{Type: domain.AuthModeAPIKey, APIKey: c.APIKey}
	case *domain.BasicCredentials:
		return credentialsView{Type: domain.AuthModeBasic, Username: c.Username, Password: c.Password}
	default:
		return credentialsView{}
	}
}

func newConnectionResponse(conn *domain.Connection, includeRefreshToken bool) connectionResponse {
	return connectionResponse{
		ID:                conn.ID,
		ConnectionID:      conn.ConnectionID,
		ProviderConfigKey: conn.ProviderConfigKey,
		EnvironmentID:     conn.EnvironmentID,
		Credentials:       newCredentialsView(conn.Credentials, includeRefreshToken),
		ConnectionConfig:  conn.ConnectionConfig,
		Metadata:          conn.Metadata,
		CreatedAt:         conn.CreatedAt,
		UpdatedAt:         conn.UpdatedAt,
	}
}

func connectionRef(r *http.Request, connectionID, providerConfigKey string) domain.ConnectionRef {
	return domain.ConnectionRef{
		ConnectionID:      connectionID,
		ProviderConfigKey: providerConfigKey,
		EnvironmentID:     domain.EnvironmentIDFromContext(r.Context()),
	}
}

func auditContext(r *http.Request) *domain.AuditContext {
	if id := r.Header.Get(ActivityLogHeader); id != "" {
		return &domain.AuditContext{ActivityLogID: id}
	}
	return nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest(name + " must be a boolean")
	}
	return b, nil
}

func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// listConnections handles GET /connection
func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	envID := domain.EnvironmentIDFromContext(r.Context())
	conns, err := s.services.Connections.List(r.Context(), envID, r.URL.Query().Get("connection_id"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if conns == nil {
		conns = []domain.ConnectionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

// getConnection handles GET /connection/{connectionId}
func (s *Server) getConnection(w http.ResponseWriter, r *http.Request) {
	forceRefresh, err := queryBool(r, "force_refresh")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	includeRefreshToken, err := queryBool(r, "refresh_token")
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	ref := connectionRef(r, chi.URLParam(r, "connectionId"), r.URL.Query().Get("provider_config_key"))
	conn, err := s.services.Credentials.GetConnectionCredentials(r.Context(), ref, application.RefreshOptions{
		InstantRefresh: forceRefresh,
		Audit:          auditContext(r),
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newConnectionResponse(conn, includeRefreshToken))
}

type importConnectionRequest struct {
	ConnectionID      string            `json:"connection_id"`
	ProviderConfigKey string            `json:"provider_config_key"`
	AuthMode          domain.AuthMode   `json:"auth_mode"`
	Credentials       map[string]any    `json:"credentials"`
	ConnectionConfig  map[string]string `json:"connection_config"`
	Metadata          map[string]string `json:"metadata"`
}

// importConnection handles POST /connection. The auth mode defaults to the
// provider template's when the body omits it.
func (s *Server) importConnection(w http.ResponseWriter, r *http.Request) {
	var req importConnectionRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	ref := connectionRef(r, req.ConnectionID, req.ProviderConfigKey)
	if err := ref.Validate(); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	mode := req.AuthMode
	if mode == "" {
		config, err := s.services.ProviderConfigs.Get(r.Context(), ref.ProviderConfigKey, ref.EnvironmentID)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		tmpl, err := s.services.Providers.Template(config.Provider)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		mode = tmpl.AuthMode
	}

	input := application.ImportConnectionInput{
		Ref:              ref,
		AuthMode:         mode,
		Credentials:      req.Credentials,
		ConnectionConfig: req.ConnectionConfig,
		Metadata:         req.Metadata,
	}

	var (
		conn *domain.Connection
		err  error
	)
	switch mode {
	case domain.AuthModeOAuth2:
		conn, err = s.services.Connections.ImportOAuth2Connection(r.Context(), input)
	case domain.AuthModeOAuth1:
		conn, err = s.services.Connections.ImportOAuth1Connection(r.Context(), input)
	default:
		conn, err = s.services.Connections.UpsertAPIConnection(r.Context(), input)
	}
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"connection_id":       conn.ConnectionID,
		"provider_config_key": conn.ProviderConfigKey,
		"auth_mode":           mode,
	})
}

// deleteConnection handles DELETE /connection/{connectionId}
func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	ref := connectionRef(r, chi.URLParam(r, "connectionId"), r.URL.Query().Get("provider_config_key"))
	if err := s.services.Connections.Delete(r.Context(), ref); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// setMetadata handles POST /connection/{connectionId}/metadata
func (s *Server) setMetadata(w http.ResponseWriter, r *http.Request) {
	s.editMetadata(w, r, s.services.Connections.SetMetadata)
}

// updateMetadata handles PATCH /connection/{connectionId}/metadata
func (s *Server) updateMetadata(w http.ResponseWriter, r *http.Request) {
	s.editMetadata(w, r, s.services.Connections.UpdateMetadata)
}

type metadataEdit func(ctx context.Context, ref domain.ConnectionRef, metadata map[string]string) (*domain.Connection, error)

// editMetadata reads a flat string map body and applies edit to the
// connection addressed by the path and provider_config_key query
func (s *Server) editMetadata(w http.ResponseWriter, r *http.Request, edit metadataEdit) {
	var metadata map[string]string
	if err := decodeJSON(r, w, &metadata); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	ref := connectionRef(r, chi.URLParam(r, "connectionId"), r.URL.Query().Get("provider_config_key"))
	conn, err := edit(r.Context(), ref, metadata)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id":       conn.ConnectionID,
		"provider_config_key": conn.ProviderConfigKey,
		"metadata":            conn.Metadata,
	})
}
