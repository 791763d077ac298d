package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultRefreshTimeout bounds one outbound refresh
const DefaultRefreshTimeout = 30 * time.Second

var tracer = otel.Tracer("archie-core-connections-layer/internal/application")

// connectionStore is the slice of ConnectionService the coordinator needs
type connectionStore interface {
	Get(ctx context.Context, ref domain.ConnectionRef) (*domain.Connection, error)
	Update(ctx context.Context, conn *domain.Connection) error
}

// providerConfigSource resolves decrypted provider configs
type providerConfigSource interface {
	Get(ctx context.Context, uniqueKey string, environmentID int64) (*domain.ProviderConfig, error)
}

// refreshKey identifies one connection in the in-flight registry
type refreshKey struct {
	connectionID      string
	providerConfigKey string
	environmentID     int64
}

// refreshCall is the shared result cell of one in-flight refresh.
// creds and err are written before done is closed.
type refreshCall struct {
	done  chan struct{}
	creds *domain.OAuth2Credentials
	err   error
}

// RefreshOptions tunes one EnsureFresh call
type RefreshOptions struct {
	// InstantRefresh skips the expiry check; the call still joins an in-flight refresh
	InstantRefresh bool
	// Audit attaches activity log entries to the caller's log when set
	Audit *domain.AuditContext
}

// RefreshCoordinator keeps OAuth2 access tokens fresh with at most one
// outbound refresh per connection in flight within this process
type RefreshCoordinator struct {
	store        connectionStore
	configs      providerConfigSource
	providers    ports.ProviderRegistry
	refreshers   ports.TokenRefresherRegistry
	introspector ports.TokenIntrospector
	parser       *CredentialParser
	activity     ports.ActivityLogger
	events       ports.EventPublisher
	metrics      ports.Metrics
	lock         ports.RefreshLock
	timeout      time.Duration
	now          func() time.Time
	logger       zerolog.Logger

	mu       sync.Mutex
	inflight map[refreshKey]*refreshCall
}

// RefreshCollaborators are the optional dependencies of the coordinator.
// Nil fields are skipped.
type RefreshCollaborators struct {
	Introspector ports.TokenIntrospector
	Activity     ports.ActivityLogger
	Events       ports.EventPublisher
	Metrics      ports.Metrics
	// Lock extends deduplication across processes when set
	Lock ports.RefreshLock
}

// NewRefreshCoordinator creates a new refresh coordinator
func NewRefreshCoordinator(
	store connectionStore,
	configs providerConfigSource,
	providers ports.ProviderRegistry,
	refreshers ports.TokenRefresherRegistry,
	parser *CredentialParser,
	collaborators RefreshCollaborators,
	timeout time.Duration,
	logger zerolog.Logger,
) *RefreshCoordinator {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &RefreshCoordinator{
		store:        store,
		configs:      configs,
		providers:    providers,
		refreshers:   refreshers,
		introspector: collaborators.Introspector,
		parser:       parser,
		activity:     collaborators.Activity,
		events:       collaborators.Events,
		metrics:      collaborators.Metrics,
		lock:         collaborators.Lock,
		timeout:      timeout,
		now:          time.Now,
		logger:       logger,
		inflight:     make(map[refreshKey]*refreshCall),
	}
}

// SetClock replaces the coordinator's clock
func (c *RefreshCoordinator) SetClock(now func() time.Time) {
	c.now = now
}

// InFlight returns the number of refreshes currently registered
func (c *RefreshCoordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// EnsureFresh returns OAuth2 credentials for conn that are valid now,
// refreshing and persisting them first when they are stale
func (c *RefreshCoordinator) EnsureFresh(ctx context.Context, conn *domain.Connection, opts RefreshOptions) (*domain.OAuth2Credentials, error) {
	creds, ok := conn.OAuth2()
	if !ok {
		return nil, domain.NewError(domain.KindUnsupportedAuthMode, "connection does not hold OAuth2 credentials").
			WithField("connectionId", conn.ConnectionID)
	}
	if !creds.HasRefreshToken() {
		return creds, nil
	}

	config, err := c.configs.Get(ctx, conn.ProviderConfigKey, conn.EnvironmentID)
	if err != nil {
		return nil, err
	}
	tmpl, err := c.providers.Template(config.Provider)
	if err != nil {
		return nil, err
	}

	if !opts.InstantRefresh && !c.isStale(ctx, conn, creds, config, tmpl) {
		return creds, nil
	}

	key := refreshKey{
		connectionID:      conn.ConnectionID,
		providerConfigKey: conn.ProviderConfigKey,
		environmentID:     conn.EnvironmentID,
	}

	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RefreshJoined(config.Provider)
		}
		c.logger.Debug().
			Str("connectionId", conn.ConnectionID).
			Str("providerConfigKey", conn.ProviderConfigKey).
			Msg("Joining in-flight token refresh")
		return wait(ctx, call)
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	go c.run(ctx, key, call, conn, config, tmpl, opts.Audit)

	return wait(ctx, call)
}

// isStale applies the buffer rule, asking the provider when it does not
// communicate expiry
func (c *RefreshCoordinator) isStale(ctx context.Context, conn *domain.Connection, creds *domain.OAuth2Credentials, config *domain.ProviderConfig, tmpl *domain.ProviderTemplate) bool {
	if creds.ExpiresAt == nil {
		if !tmpl.TokenIntrospection || c.introspector == nil {
			return false
		}
		expired, err := c.introspector.IsExpired(ctx, conn, config, tmpl)
		if err != nil {
			c.logger.Warn().Err(err).
				Str("connectionId", conn.ConnectionID).
				Str("provider", config.Provider).
				Msg("Token introspection failed, assuming token is valid")
			return false
		}
		return expired
	}
	return !c.now().Add(tmpl.RefreshBuffer()).Before(*creds.ExpiresAt)
}

// run performs the refresh detached from the leader's cancellation. The
// registry entry is removed and waiters released only after the outcome has
// been persisted.
func (c *RefreshCoordinator) run(parent context.Context, key refreshKey, call *refreshCall, conn *domain.Connection, config *domain.ProviderConfig, tmpl *domain.ProviderTemplate, audit *domain.AuditContext) {
	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
		close(call.done)
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.timeout)
	defer cancel()

	call.creds, call.err = c.refresh(ctx, conn, config, tmpl, audit)
}

func (c *RefreshCoordinator) refresh(ctx context.Context, conn *domain.Connection, config *domain.ProviderConfig, tmpl *domain.ProviderTemplate, audit *domain.AuditContext) (*domain.OAuth2Credentials, error) {
	ctx, span := tracer.Start(ctx, "RefreshCoordinator.refresh")
	defer span.End()
	span.SetAttributes(
		attribute.String("connection.id", conn.ConnectionID),
		attribute.String("provider.config_key", conn.ProviderConfigKey),
		attribute.String("provider", config.Provider),
	)

	start := c.now()
	log := c.logger.With().
		Int64("environmentId", conn.EnvironmentID).
		Str("connectionId", conn.ConnectionID).
		Str("providerConfigKey", conn.ProviderConfigKey).
		Str("provider", config.Provider).
		Logger()

	c.audit(ctx, audit, domain.ActivityLevelInfo, fmt.Sprintf("Token refresh started for connection %s", conn.ConnectionID))

	creds, skipped, err := c.exchange(ctx, conn, config, tmpl)
	outcome := "success"
	switch {
	case err != nil:
		outcome = "failure"
	case skipped:
		outcome = "skipped"
	}
	if c.metrics != nil {
		c.metrics.ObserveRefresh(config.Provider, outcome, c.now().Sub(start))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		log.Error().Err(err).Msg("Token refresh failed")
		c.audit(ctx, audit, domain.ActivityLevelError, fmt.Sprintf("Token refresh failed for connection %s: %s", conn.ConnectionID, err.Error()))
		c.publish(domain.ConnectionRefreshFailed, conn)
		return nil, err
	}

	log.Info().Bool("skipped", skipped).Msg("Token refresh succeeded")
	c.audit(ctx, audit, domain.ActivityLevelInfo, fmt.Sprintf("Token refresh succeeded for connection %s", conn.ConnectionID))
	if !skipped {
		c.publish(domain.ConnectionRefreshed, conn)
	}
	return creds, nil
}

// exchange calls the provider and persists the new credentials. skipped is
// true when another process refreshed the connection while this one waited
// for the distributed lock.
func (c *RefreshCoordinator) exchange(ctx context.Context, conn *domain.Connection, config *domain.ProviderConfig, tmpl *domain.ProviderTemplate) (*domain.OAuth2Credentials, bool, error) {
	current, _ := conn.OAuth2()

	if c.lock != nil {
		unlock, err := c.lock.Lock(ctx, fmt.Sprintf("refresh:%d:%s:%s", conn.EnvironmentID, conn.ProviderConfigKey, conn.ConnectionID))
		if err != nil {
			return nil, false, refreshFailed(conn, config, fmt.Errorf("failed to acquire refresh lock: %w", err))
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn().Err(err).Str("connectionId", conn.ConnectionID).Msg("Failed to release refresh lock")
			}
		}()

		latest, err := c.store.Get(ctx, conn.Ref())
		if err != nil {
			return nil, false, refreshFailed(conn, config, err)
		}
		if creds, ok := latest.OAuth2(); ok && creds.AccessToken != current.AccessToken {
			return creds, true, nil
		}
	}

	refresher, err := c.refreshers.Refresher(tmpl)
	if err != nil {
		return nil, false, refreshFailed(conn, config, err)
	}

	raw, err := refresher.Refresh(ctx, ports.RefreshInput{
		Connection: conn,
		Config:     config,
		Template:   tmpl,
		Current:    current,
	})
	if err != nil {
		return nil, false, refreshFailed(conn, config, err)
	}

	parsed, err := c.parser.Parse(raw, domain.AuthModeOAuth2)
	if err != nil {
		return nil, false, refreshFailed(conn, config, err)
	}
	creds := parsed.(*domain.OAuth2Credentials)
	if creds.RefreshToken == "" {
		creds.RefreshToken = current.RefreshToken
	}

	updated := *conn
	updated.Credentials = creds
	if err := c.store.Update(ctx, &updated); err != nil {
		return nil, false, refreshFailed(conn, config, fmt.Errorf("failed to persist refreshed credentials: %w", err))
	}
	return creds, false, nil
}

func (c *RefreshCoordinator) audit(ctx context.Context, audit *domain.AuditContext, level domain.ActivityLevel, content string) {
	if audit == nil || c.activity == nil {
		return
	}
	entry := domain.ActivityEntry{
		ID:            uuid.NewString(),
		ActivityLogID: audit.ActivityLogID,
		Level:         level,
		Content:       content,
		Timestamp:     c.now().UTC(),
	}
	if err := c.activity.Log(ctx, entry); err != nil {
		c.logger.Warn().Err(err).Str("activityLogId", audit.ActivityLogID).Msg("Failed to write activity entry")
	}
}

func (c *RefreshCoordinator) publish(eventType domain.ConnectionEventType, conn *domain.Connection) {
	if c.events == nil {
		return
	}
	c.events.Publish(&domain.ConnectionEvent{
		Type:              eventType,
		EnvironmentID:     conn.EnvironmentID,
		ConnectionID:      conn.ConnectionID,
		ProviderConfigKey: conn.ProviderConfigKey,
		OccurredAt:        c.now().UTC(),
	})
}

func wait(ctx context.Context, call *refreshCall) (*domain.OAuth2Credentials, error) {
	select {
	case <-call.done:
		return call.creds, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func refreshFailed(conn *domain.Connection, config *domain.ProviderConfig, err error) error {
	var derr *domain.Error
	if errors.As(err, &derr) && derr.Kind == domain.KindRefreshFailed {
		return err
	}
	message := "token refresh failed"
	if errors.Is(err, context.DeadlineExceeded) {
		message = "token refresh timed out"
	}
	return domain.NewError(domain.KindRefreshFailed, message).
		WithField("connectionId", conn.ConnectionID).
		WithField("providerConfigKey", conn.ProviderConfigKey).
		WithField("provider", config.Provider).
		Wrap(err)
}
