package application

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/infrastructure/encryption"
	"archie-core-connections-layer/internal/infrastructure/repository/memory"
	"archie-core-connections-layer/internal/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

type fakeProviders map[string]*domain.ProviderTemplate

func (f fakeProviders) Template(provider string) (*domain.ProviderTemplate, error) {
	tmpl, ok := f[provider]
	if !ok {
		return nil, domain.NewError(domain.KindUnknownProvider, "unknown provider").WithField("provider", provider)
	}
	return tmpl, nil
}

// countingRefresher counts token endpoint calls. When gate is set every call
// blocks until it is closed.
type countingRefresher struct {
	calls    atomic.Int32
	gate     chan struct{}
	respond  func(n int32, in ports.RefreshInput) (map[string]any, error)
	lastSeen atomic.Pointer[ports.RefreshInput]
}

func (r *countingRefresher) Refresh(ctx context.Context, in ports.RefreshInput) (map[string]any, error) {
	n := r.calls.Add(1)
	r.lastSeen.Store(&in)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.respond != nil {
		return r.respond(n, in)
	}
	return map[string]any{
		"access_token":  "a2",
		"refresh_token": "r2",
		"expires_in":    3600,
	}, nil
}

func (r *countingRefresher) Refresher(*domain.ProviderTemplate) (ports.TokenRefresher, error) {
	return r, nil
}

type recordingSync struct {
	mu       sync.Mutex
	created  []string
	deleted  []string
	onDelete func(conn *domain.Connection)
	err      error
}

func (s *recordingSync) OnConnectionCreated(_ context.Context, conn *domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, conn.ConnectionID)
	return nil
}

func (s *recordingSync) OnConnectionDeleted(_ context.Context, conn *domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.onDelete != nil {
		s.onDelete(conn)
	}
	s.deleted = append(s.deleted, conn.ConnectionID)
	return nil
}

type recordingActivity struct {
	mu      sync.Mutex
	entries []domain.ActivityEntry
}

func (a *recordingActivity) Log(_ context.Context, entry domain.ActivityEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingActivity) levels() []domain.ActivityLevel {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.ActivityLevel, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Level)
	}
	return out
}

type recordingAnalytics struct {
	mu     sync.Mutex
	events []domain.AnalyticsEvent
	err    error
}

func (a *recordingAnalytics) Track(_ context.Context, event domain.AnalyticsEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.ConnectionEventType
}

func (e *recordingEvents) Publish(event *domain.ConnectionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event.Type)
}

func (e *recordingEvents) types() []domain.ConnectionEventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ConnectionEventType(nil), e.events...)
}

type countingMetrics struct {
	joined   atomic.Int32
	refresh  atomic.Int32
	proxies  atomic.Int32
	outcomes sync.Map
}

func (m *countingMetrics) ObserveRefresh(_, outcome string, _ time.Duration) {
	m.refresh.Add(1)
	m.outcomes.Store(outcome, true)
}
func (m *countingMetrics) RefreshJoined(string) { m.joined.Add(1) }
func (m *countingMetrics) ObserveProxy(string, string, int, time.Duration) {
	m.proxies.Add(1)
}

type fakeIntrospector struct {
	calls   atomic.Int32
	expired bool
	err     error
}

func (f *fakeIntrospector) IsExpired(context.Context, *domain.Connection, *domain.ProviderConfig, *domain.ProviderTemplate) (bool, error) {
	f.calls.Add(1)
	return f.expired, f.err
}

type fakeLock struct {
	locks   atomic.Int32
	unlocks atomic.Int32
}

func (l *fakeLock) Lock(context.Context, string) (func(context.Context) error, error) {
	l.locks.Add(1)
	return func(context.Context) error {
		l.unlocks.Add(1)
		return nil
	}, nil
}

var errSyncDown = errors.New("sync scheduler unavailable")

type harness struct {
	env          *domain.Environment
	repo         *memory.ConnectionRepository
	configRepo   *memory.ProviderConfigRepository
	envRepo      *memory.EnvironmentRepository
	providers    fakeProviders
	refresher    *countingRefresher
	sync         *recordingSync
	activity     *recordingActivity
	analytics    *recordingAnalytics
	events       *recordingEvents
	metrics      *countingMetrics
	introspector *fakeIntrospector
	configs      *ProviderConfigService
	connections  *ConnectionService
	coordinator  *RefreshCoordinator
	credentials  *CredentialsService
}

type harnessOption func(*harness, *RefreshCollaborators, *time.Duration)

func withLock(l ports.RefreshLock) harnessOption {
	return func(_ *harness, c *RefreshCollaborators, _ *time.Duration) { c.Lock = l }
}

func withRefreshTimeout(d time.Duration) harnessOption {
	return func(_ *harness, _ *RefreshCollaborators, timeout *time.Duration) { *timeout = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	codec, err := encryption.NewCodec(testKey)
	require.NoError(t, err)

	h := &harness{
		repo:       memory.NewConnectionRepository(),
		configRepo: memory.NewProviderConfigRepository(),
		envRepo:    memory.NewEnvironmentRepository(),
		providers: fakeProviders{
			"slack":   {Name: "slack", AuthMode: domain.AuthModeOAuth2, TokenURL: "https://slack.com/api/oauth.v2.access"},
			"quick":   {Name: "quick", AuthMode: domain.AuthModeOAuth2, TokenURL: "https://quick.example/token", RefreshBufferSeconds: 300},
			"shopify": {Name: "shopify", AuthMode: domain.AuthModeOAuth2, TokenIntrospection: true, IntrospectionClient: "shopify"},
			"stripe":  {Name: "stripe", AuthMode: domain.AuthModeAPIKey},
		},
		refresher:    &countingRefresher{},
		sync:         &recordingSync{},
		activity:     &recordingActivity{},
		analytics:    &recordingAnalytics{},
		events:       &recordingEvents{},
		metrics:      &countingMetrics{},
		introspector: &fakeIntrospector{},
	}

	h.env = &domain.Environment{ID: 42, Name: "prod", SecretKey: "sk_test"}
	require.NoError(t, h.envRepo.Create(ctx, h.env))

	h.configs = NewProviderConfigService(h.configRepo, codec, h.providers, logger)
	for key, provider := range map[string]string{"slack": "slack", "quick": "quick", "shopify": "shopify", "stripe": "stripe"} {
		_, err := h.configs.Configure(ctx, h.env.ID, ConfigureProviderInput{
			UniqueKey:    key,
			Provider:     provider,
			ClientID:     "client-" + key,
			ClientSecret: "secret-" + key,
		})
		require.NoError(t, err)
	}

	parser := NewCredentialParser()
	h.connections = NewConnectionService(h.repo, h.configRepo, h.envRepo, codec, parser, ConnectionCollaborators{
		Sync:      h.sync,
		Analytics: h.analytics,
		Events:    h.events,
	}, logger)

	collaborators := RefreshCollaborators{
		Introspector: h.introspector,
		Activity:     h.activity,
		Events:       h.events,
		Metrics:      h.metrics,
	}
	timeout := 5 * time.Second
	for _, opt := range opts {
		opt(h, &collaborators, &timeout)
	}
	h.coordinator = NewRefreshCoordinator(h.connections, h.configs, h.providers, h.refresher, parser, collaborators, timeout, logger)
	h.credentials = NewCredentialsService(h.connections, h.coordinator, h.analytics, logger)
	return h
}

func (h *harness) ref(connectionID, providerConfigKey string) domain.ConnectionRef {
	return domain.ConnectionRef{ConnectionID: connectionID, ProviderConfigKey: providerConfigKey, EnvironmentID: h.env.ID}
}

// saveOAuth2 stores an OAuth2 connection whose token expires at expiresAt
// (nil for no expiry)
func (h *harness) saveOAuth2(t *testing.T, connectionID, providerConfigKey, accessToken, refreshToken string, expiresAt *time.Time) *domain.Connection {
	t.Helper()
	conn := &domain.Connection{
		ConnectionID:      connectionID,
		ProviderConfigKey: providerConfigKey,
		EnvironmentID:     h.env.ID,
		Credentials: &domain.OAuth2Credentials{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    expiresAt,
			Raw:          map[string]any{"access_token": accessToken},
		},
		ConnectionConfig: map[string]string{},
		Metadata:         map[string]string{},
	}
	_, _, err := h.connections.Upsert(context.Background(), conn)
	require.NoError(t, err)
	return conn
}

func (h *harness) storedAccessToken(t *testing.T, ref domain.ConnectionRef) string {
	t.Helper()
	conn, err := h.connections.Get(context.Background(), ref)
	require.NoError(t, err)
	creds, ok := conn.OAuth2()
	require.True(t, ok)
	return creds.AccessToken
}

func timePtr(t time.Time) *time.Time { return &t }
