package api

import (
	"context"
	"net/http"
	"strings"

	"archie-core-connections-layer/internal/domain"

	"github.com/rs/zerolog"
)

type environmentAuthenticator interface {
	Authenticate(ctx context.Context, secretKey string) (*domain.Environment, error)
}

// SecretKeyMiddleware resolves the environment from the bearer secret key
// and stores it in the request context
func SecretKeyMiddleware(envs environmentAuthenticator, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secretKey, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, r, logger, domain.NewError(domain.KindUnauthorized, "missing bearer secret key"))
				return
			}

			env, err := envs.Authenticate(r.Context(), secretKey)
			if err != nil {
				writeError(w, r, logger, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(domain.WithEnvironment(r.Context(), env)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
