package application

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/cenkalti/backoff/v5"
	"github.com/dghubble/oauth1"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ProxyHeaderPrefix marks caller headers that are forwarded to the provider
// with the prefix removed
const ProxyHeaderPrefix = "Connections-Proxy-"

// DefaultAPIKeyHeader carries API keys for providers that do not declare
// their own header or query parameter
const DefaultAPIKeyHeader = "X-Api-Key"

// maxRetries caps the per-call Retries override
const maxRetries = 10

// RetryPolicy configures how failed proxy calls are retried
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RetryableStatuses []int
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        0,
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		RetryableStatuses: []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
	}
}

// newBackOff returns the delay sequence for one proxied call
func (p RetryPolicy) newBackOff() *retryBackOff {
	b := &retryBackOff{max: p.MaxDelay}
	if p.BaseDelay <= 0 {
		b.delays = &backoff.ZeroBackOff{}
		return b
	}
	maxInterval := p.MaxDelay
	if maxInterval <= 0 {
		maxInterval = backoff.DefaultMaxInterval
	}
	b.delays = &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         maxInterval,
	}
	b.delays.Reset()
	return b
}

// retryBackOff caps an exponential backoff at the policy's MaxDelay and lets
// a provider's Retry-After take the place of the computed delay
type retryBackOff struct {
	delays backoff.BackOff
	max    time.Duration
}

func (b *retryBackOff) Reset() { b.delays.Reset() }

func (b *retryBackOff) NextBackOff() time.Duration {
	return b.clamp(b.delays.NextBackOff())
}

// after returns the delay to wait when the provider asked for retryAfter.
// The exponential sequence still advances so later attempts keep growing.
func (b *retryBackOff) after(retryAfter time.Duration) time.Duration {
	next := b.NextBackOff()
	if retryAfter > 0 {
		return b.clamp(retryAfter)
	}
	return next
}

func (b *retryBackOff) clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if b.max > 0 && d > b.max {
		return b.max
	}
	return d
}

// ProxyRequest is one caller request to forward to a provider
type ProxyRequest struct {
	Ref             domain.ConnectionRef
	Method          string
	Path            string
	Query           url.Values
	Headers         http.Header
	Body            []byte
	BaseURLOverride string
	// Retries overrides the policy's MaxRetries when set
	Retries *int
	Audit   *domain.AuditContext
}

// ProxyService forwards requests to providers with the connection's
// credentials injected
type ProxyService struct {
	credentials *CredentialsService
	configs     providerConfigSource
	providers   ports.ProviderRegistry
	client      *http.Client
	policy      RetryPolicy
	metrics     ports.Metrics
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewProxyService creates a new proxy service
func NewProxyService(
	credentials *CredentialsService,
	configs providerConfigSource,
	providers ports.ProviderRegistry,
	client *http.Client,
	policy RetryPolicy,
	metrics ports.Metrics,
	logger zerolog.Logger,
) *ProxyService {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ProxyService{
		credentials: credentials,
		configs:     configs,
		providers:   providers,
		client:      client,
		policy:      policy,
		metrics:     metrics,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// Forward sends req to the provider and returns its response. Any HTTP
// response from the provider is returned as is, including error statuses;
// an UpstreamProxyError is returned only when no response could be obtained.
// The caller must close the response body.
func (s *ProxyService) Forward(ctx context.Context, req ProxyRequest) (*http.Response, error) {
	if err := req.Ref.Validate(); err != nil {
		return nil, err
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := tracer.Start(ctx, "ProxyService.Forward", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	conn, err := s.credentials.GetConnectionCredentials(ctx, req.Ref, RefreshOptions{Audit: req.Audit})
	if err != nil {
		return nil, err
	}
	config, err := s.configs.Get(ctx, conn.ProviderConfigKey, conn.EnvironmentID)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.providers.Template(config.Provider)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("provider", config.Provider),
		attribute.String("http.method", method),
	)

	target, err := s.targetURL(conn, tmpl, req)
	if err != nil {
		return nil, err
	}

	client := s.client
	if creds, ok := conn.Credentials.(*domain.OAuth1Credentials); ok {
		client = s.oauth1Client(ctx, config, creds)
	}

	retries := s.policy.MaxRetries
	if req.Retries != nil {
		retries = min(max(*req.Retries, 0), maxRetries)
	}
	retryable := slices.Concat(s.policy.RetryableStatuses, tmpl.Proxy.Retry.Statuses)

	log := s.logger.With().
		Int64("environmentId", conn.EnvironmentID).
		Str("connectionId", conn.ConnectionID).
		Str("providerConfigKey", conn.ProviderConfigKey).
		Str("method", method).
		Str("path", target.Path).
		Logger()

	delays := s.policy.newBackOff()
	start := time.Now()
	var lastErr error
	for attempt := 0; ; attempt++ {
		outbound, err := s.buildRequest(ctx, method, target, conn, tmpl, req)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(outbound)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || attempt >= retries {
				break
			}
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("Proxy request failed, retrying")
			if err := s.sleep(ctx, delays.NextBackOff()); err != nil {
				lastErr = err
				break
			}
			continue
		}

		if attempt < retries && slices.Contains(retryable, resp.StatusCode) {
			delay := delays.after(retryAfter(resp.Header.Get("Retry-After"), time.Now()))
			log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Dur("delay", delay).Msg("Provider returned retryable status, retrying")
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if err := s.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
			continue
		}

		if s.metrics != nil {
			s.metrics.ObserveProxy(config.Provider, method, resp.StatusCode, time.Since(start))
		}
		log.Info().Int("status", resp.StatusCode).Int("attempts", attempt+1).Msg("Proxy request completed")
		return resp, nil
	}

	if s.metrics != nil {
		s.metrics.ObserveProxy(config.Provider, method, 0, time.Since(start))
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "proxy request failed")
	log.Error().Err(lastErr).Msg("Proxy request failed")
	return nil, domain.NewError(domain.KindUpstreamProxyError, "request to provider failed").
		WithField("connectionId", conn.ConnectionID).
		WithField("providerConfigKey", conn.ProviderConfigKey).
		Wrap(lastErr)
}

func (s *ProxyService) targetURL(conn *domain.Connection, tmpl *domain.ProviderTemplate, req ProxyRequest) (*url.URL, error) {
	base := req.BaseURLOverride
	if base == "" {
		base = domain.Interpolate(tmpl.Proxy.BaseURL, nil, conn.ConnectionConfig)
	}
	if base == "" {
		return nil, domain.NewError(domain.KindInvalidRequest, "provider has no proxy base URL, set Base-Url-Override").
			WithField("provider", tmpl.Name)
	}

	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, "invalid proxy URL").Wrap(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, domain.NewError(domain.KindInvalidRequest, "proxy URL must be http or https")
	}

	q := u.Query()
	for k, vs := range req.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// buildRequest creates one attempt's outbound request. Caller headers are
// applied first so template and credential headers always win.
func (s *ProxyService) buildRequest(ctx context.Context, method string, target *url.URL, conn *domain.Connection, tmpl *domain.ProviderTemplate, req ProxyRequest) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	outbound, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, "failed to build proxy request").Wrap(err)
	}

	for name, values := range req.Headers {
		canonical := http.CanonicalHeaderKey(name)
		if forwarded, ok := strings.CutPrefix(canonical, ProxyHeaderPrefix); ok && forwarded != "" {
			outbound.Header[http.CanonicalHeaderKey(forwarded)] = slices.Clone(values)
			continue
		}
		if canonical == "Content-Type" || canonical == "Accept" {
			outbound.Header[canonical] = slices.Clone(values)
		}
	}

	vars := credentialVars(conn.Credentials)
	for name, value := range tmpl.Proxy.Headers {
		outbound.Header.Set(name, domain.Interpolate(value, vars, conn.ConnectionConfig))
	}
	if len(tmpl.Proxy.Query) > 0 {
		q := outbound.URL.Query()
		for name, value := range tmpl.Proxy.Query {
			q.Set(name, domain.Interpolate(value, vars, conn.ConnectionConfig))
		}
		outbound.URL.RawQuery = q.Encode()
	}

	switch creds := conn.Credentials.(type) {
	case *domain.OAuth2Credentials:
		if !templateCarries(tmpl, "${accessToken}") {
			outbound.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		}
	case *domain.APIKeyCredentials:
		if !templateCarries(tmpl, "${apiKey}") {
			outbound.Header.Set(DefaultAPIKeyHeader, creds.APIKey)
		}
	case *domain.BasicCredentials:
		outbound.SetBasicAuth(creds.Username, creds.Password)
	case *domain.OAuth1Credentials:
		// signed by the oauth1 client transport
		outbound.Header.Del("Authorization")
	}
	return outbound, nil
}

func (s *ProxyService) oauth1Client(ctx context.Context, config *domain.ProviderConfig, creds *domain.OAuth1Credentials) *http.Client {
	oauthConfig := oauth1.NewConfig(config.ClientID, config.ClientSecret)
	ctx = context.WithValue(ctx, oauth1.HTTPClient, s.client)
	client := oauthConfig.Client(ctx, oauth1.NewToken(creds.OAuthToken, creds.OAuthTokenSecret))
	client.Timeout = s.client.Timeout
	return client
}

func credentialVars(creds domain.Credentials) map[string]string {
	switch c := creds.(type) {
	case *domain.OAuth2Credentials:
		return map[string]string{"accessToken": c.AccessToken}
	case *domain.APIKeyCredentials:
		return map[string]string{"apiKey": c.APIKey}
	case *domain.BasicCredentials:
		return map[string]string{"username": c.Username}
	default:
		return nil
	}
}

func templateCarries(tmpl *domain.ProviderTemplate, placeholder string) bool {
	for _, v := range tmpl.Proxy.Headers {
		if strings.Contains(v, placeholder) {
			return true
		}
	}
	for _, v := range tmpl.Proxy.Query {
		if strings.Contains(v, placeholder) {
			return true
		}
	}
	return false
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date
func retryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		return t.Sub(now)
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry wait interrupted: %w", ctx.Err())
	}
}
