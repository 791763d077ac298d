// Package repotest holds behaviour tests shared by every repository backend.
package repotest

import (
	"context"
	"math/rand/v2"
	"strconv"
	"testing"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Backend builds fresh repositories for one test run
type Backend struct {
	Connections     func(t *testing.T) ports.ConnectionRepository
	ProviderConfigs func(t *testing.T) ports.ProviderConfigRepository
	Environments    func(t *testing.T) ports.EnvironmentRepository
	Activities      func(t *testing.T) ports.ActivityRepository
}

// environmentID returns an id unlikely to collide with rows left in a shared database
func environmentID() int64 {
	return rand.Int64N(1<<40) + 1_000_000
}

func stored(envID int64, connectionID, key, creds string) *domain.StoredConnection {
	return &domain.StoredConnection{
		ConnectionID:      connectionID,
		ProviderConfigKey: key,
		EnvironmentID:     envID,
		Credentials:       creds,
		CredentialsIV:     "iv",
		CredentialsTag:    "tag",
		ConnectionConfig:  map[string]string{"subdomain": "acme"},
		Metadata:          map[string]string{},
	}
}

// Run executes the shared behaviour tests against b
func Run(t *testing.T, b Backend) {
	if b.Connections != nil {
		t.Run("connections", func(t *testing.T) { runConnections(t, b.Connections(t)) })
	}
	if b.ProviderConfigs != nil {
		t.Run("provider configs", func(t *testing.T) { runProviderConfigs(t, b.ProviderConfigs(t)) })
	}
	if b.Environments != nil {
		t.Run("environments", func(t *testing.T) { runEnvironments(t, b.Environments(t)) })
	}
	if b.Activities != nil {
		t.Run("activities", func(t *testing.T) { runActivities(t, b.Activities(t)) })
	}
}

func runConnections(t *testing.T, repo ports.ConnectionRepository) {
	ctx := context.Background()
	env := environmentID()
	ref := domain.ConnectionRef{ConnectionID: "c1", ProviderConfigKey: "slack", EnvironmentID: env}

	t.Run("upsert keeps one row per triple", func(t *testing.T) {
		id, created, err := repo.Upsert(ctx, stored(env, "c1", "slack", "v1"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotZero(t, id)

		again, created, err := repo.Upsert(ctx, stored(env, "c1", "slack", "v2"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, id, again)

		got, err := repo.Get(ctx, ref)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "v2", got.Credentials)
		assert.Equal(t, "iv", got.CredentialsIV)
		assert.Equal(t, "acme", got.ConnectionConfig["subdomain"])
	})

	t.Run("insert refuses a taken triple", func(t *testing.T) {
		_, err := repo.Insert(ctx, stored(env, "c1", "slack", "v9"))
		assert.ErrorIs(t, err, domain.ErrConnectionAlreadyExists)

		got, err := repo.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "v2", got.Credentials)

		id, err := repo.Insert(ctx, stored(env, "c-insert", "slack", "i1"))
		require.NoError(t, err)
		assert.NotZero(t, id)
		require.NoError(t, repo.Delete(ctx, domain.ConnectionRef{ConnectionID: "c-insert", ProviderConfigKey: "slack", EnvironmentID: env}))
	})

	t.Run("get miss returns nil", func(t *testing.T) {
		got, err := repo.Get(ctx, domain.ConnectionRef{ConnectionID: "nope", ProviderConfigKey: "slack", EnvironmentID: env})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("environments are isolated", func(t *testing.T) {
		other := environmentID()
		_, created, err := repo.Upsert(ctx, stored(other, "c1", "slack", "other"))
		require.NoError(t, err)
		assert.True(t, created)

		got, err := repo.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "v2", got.Credentials)
	})

	t.Run("update", func(t *testing.T) {
		row := stored(env, "c1", "slack", "v3")
		row.Metadata = map[string]string{"team": "core"}
		require.NoError(t, repo.Update(ctx, row))

		got, err := repo.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "v3", got.Credentials)
		assert.Equal(t, "core", got.Metadata["team"])

		err = repo.Update(ctx, stored(env, "ghost", "slack", "x"))
		assert.ErrorIs(t, err, domain.ErrUnknownConnection)
	})

	t.Run("list", func(t *testing.T) {
		_, _, err := repo.Upsert(ctx, stored(env, "c2", "github", "g"))
		require.NoError(t, err)
		_, _, err = repo.Upsert(ctx, stored(env, "c1", "github", "g"))
		require.NoError(t, err)

		all, err := repo.List(ctx, env, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		for i := 1; i < len(all); i++ {
			assert.Less(t, all[i-1].ID, all[i].ID)
		}

		c1, err := repo.List(ctx, env, "c1")
		require.NoError(t, err)
		assert.Len(t, c1, 2)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, ref))
		got, err := repo.Get(ctx, ref)
		require.NoError(t, err)
		assert.Nil(t, got)

		assert.ErrorIs(t, repo.Delete(ctx, ref), domain.ErrUnknownConnection)
	})
}

func runProviderConfigs(t *testing.T, repo ports.ProviderConfigRepository) {
	ctx := context.Background()
	env := environmentID()

	id, err := repo.Upsert(ctx, &domain.StoredProviderConfig{
		UniqueKey: "slack", EnvironmentID: env, Provider: "slack",
		ClientID: "id", ClientSecret: "sealed", ClientSecretIV: "iv", Scopes: []string{"chat:write"},
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	again, err := repo.Upsert(ctx, &domain.StoredProviderConfig{
		UniqueKey: "slack", EnvironmentID: env, Provider: "slack", ClientID: "id2", ClientSecret: "sealed2",
	})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	got, err := repo.GetByKey(ctx, "slack", env)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "id2", got.ClientID)

	missing, err := repo.GetByKey(ctx, "slack", env+1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = repo.Upsert(ctx, &domain.StoredProviderConfig{UniqueKey: "github", EnvironmentID: env, Provider: "github"})
	require.NoError(t, err)

	list, err := repo.List(ctx, env)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "github", list[0].UniqueKey)

	require.NoError(t, repo.Delete(ctx, "github", env))
	assert.ErrorIs(t, repo.Delete(ctx, "github", env), domain.ErrUnknownProviderConfig)
}

func runEnvironments(t *testing.T, repo ports.EnvironmentRepository) {
	ctx := context.Background()
	suffix := rand.Int64()
	env := &domain.Environment{Name: "prod-" + strconv.FormatInt(suffix, 10), SecretKey: "sk-" + strconv.FormatInt(suffix, 10)}

	require.NoError(t, repo.Create(ctx, env))
	assert.NotZero(t, env.ID)

	byID, err := repo.GetByID(ctx, env.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, env.Name, byID.Name)

	byKey, err := repo.GetBySecretKey(ctx, env.SecretKey)
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, env.ID, byKey.ID)

	byName, err := repo.GetByName(ctx, env.Name)
	require.NoError(t, err)
	require.NotNil(t, byName)

	miss, err := repo.GetBySecretKey(ctx, "sk-unknown-"+strconv.FormatInt(suffix, 10))
	require.NoError(t, err)
	assert.Nil(t, miss)

	assert.Error(t, repo.Create(ctx, &domain.Environment{Name: env.Name, SecretKey: "other-" + strconv.FormatInt(suffix, 10)}))
}

func runActivities(t *testing.T, repo ports.ActivityRepository) {
	ctx := context.Background()
	logID := "log-" + strconv.FormatInt(rand.Int64(), 10)

	at := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.Insert(ctx, &domain.ActivityEntry{ID: logID + "-1", ActivityLogID: logID, Level: domain.ActivityLevelInfo, Content: "first", Timestamp: at}))
	require.NoError(t, repo.Insert(ctx, &domain.ActivityEntry{ID: logID + "-2", ActivityLogID: logID, Level: domain.ActivityLevelError, Content: "second", Timestamp: at.Add(time.Second)}))

	entries, err := repo.ListByLog(ctx, logID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActivityLevelError, entries[1].Level)
}
