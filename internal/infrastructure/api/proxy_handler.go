package api

import (
	"io"
	"net/http"
	"strconv"

	"archie-core-connections-layer/internal/application"
	"archie-core-connections-layer/internal/domain"

	"github.com/go-chi/chi/v5"
)

// Proxy request headers
const (
	HeaderConnectionID      = "Connection-Id"
	HeaderProviderConfigKey = "Provider-Config-Key"
	HeaderBaseURLOverride   = "Base-Url-Override"
	HeaderRetries           = "Retries"
)

const maxProxyBody = 32 << 20

// Response headers that describe the hop to the provider, not the payload
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// proxy handles /proxy/* and relays the provider's response verbatim,
// error statuses included
func (s *Server) proxy(w http.ResponseWriter, r *http.Request) {
	req := application.ProxyRequest{
		Ref:             connectionRef(r, r.Header.Get(HeaderConnectionID), r.Header.Get(HeaderProviderConfigKey)),
		Method:          r.Method,
		Path:            "/" + chi.URLParam(r, "*"),
		Query:           r.URL.Query(),
		Headers:         r.Header.Clone(),
		BaseURLOverride: r.Header.Get(HeaderBaseURLOverride),
		Audit:           auditContext(r),
	}

	if v := r.Header.Get(HeaderRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, s.logger, badRequest("Retries must be a non-negative integer"))
			return
		}
		req.Retries = &n
	}

	if r.Body != nil {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBody))
		if err != nil {
			writeError(w, r, s.logger, domain.NewError(domain.KindInvalidRequest, "request body too large or unreadable").Wrap(err))
			return
		}
		req.Body = body
	}

	resp, err := s.services.Proxy.Forward(r.Context(), req)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Warn().Err(err).Str("connectionId", req.Ref.ConnectionID).Msg("Failed to relay provider response")
	}
}
