package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"github.com/rs/zerolog"
)

// ShopifyIntrospector checks Shopify access tokens, which carry no expiry, by
// making a lightweight Admin API call
type ShopifyIntrospector struct {
	client *http.Client
	logger zerolog.Logger
}

var _ ports.TokenIntrospector = (*ShopifyIntrospector)(nil)

// NewShopifyIntrospector creates a new Shopify introspector
func NewShopifyIntrospector(client *http.Client, logger zerolog.Logger) *ShopifyIntrospector {
	return &ShopifyIntrospector{client: client, logger: logger}
}

// IsExpired reports whether Shopify rejects the token. Shopify tokens don't
// expire unless revoked; errors other than 401/403 count as a live token.
func (s *ShopifyIntrospector) IsExpired(ctx context.Context, conn *domain.Connection, config *domain.ProviderConfig, _ *domain.ProviderTemplate) (bool, error) {
	creds, ok := conn.OAuth2()
	if !ok {
		return false, fmt.Errorf("introspection requires OAuth2 credentials")
	}
	shopDomain := shopName(conn.ConnectionConfig)
	if shopDomain == "" {
		return false, fmt.Errorf("shop domain is required for token validation")
	}

	app := goshopify.App{
		ApiKey:    config.ClientID,
		ApiSecret: config.ClientSecret,
	}
	var opts []goshopify.Option
	if s.client != nil {
		opts = append(opts, goshopify.WithHTTPClient(s.client))
	}
	client, err := goshopify.NewClient(app, shopDomain, creds.AccessToken, opts...)
	if err != nil {
		return false, fmt.Errorf("failed to create client: %w", err)
	}

	// Shop.Get is the simplest endpoint; revoked tokens get a 401
	if _, err := client.Shop.Get(ctx, nil); err != nil {
		if isAuthFailure(err) {
			s.logger.Warn().
				Str("shop", shopDomain).
				Str("connectionId", conn.ConnectionID).
				Msg("Token validation failed: token is invalid or revoked")
			return true, nil
		}

		s.logger.Warn().
			Err(err).
			Str("shop", shopDomain).
			Msg("Token validation encountered an error (assuming token is valid)")
		return false, nil
	}

	s.logger.Debug().
		Str("shop", shopDomain).
		Msg("Token validation successful")
	return false, nil
}

func shopName(connectionConfig map[string]string) string {
	for _, key := range []string{"subdomain", "shop"} {
		if v := connectionConfig[key]; v != "" {
			return v
		}
	}
	return ""
}

func isAuthFailure(err error) bool {
	var respErr goshopify.ResponseError
	if errors.As(err, &respErr) {
		return respErr.Status == http.StatusUnauthorized || respErr.Status == http.StatusForbidden
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key or access token") ||
		strings.Contains(errStr, "forbidden")
}
