package main

import (
	"context"
	"testing"

	"archie-core-connections-layer/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevel(t *testing.T) {
	logger := newLogger(&config.Config{LogLevel: "debug", ServiceName: "connections"})
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger = newLogger(&config.Config{LogLevel: "nonsense"})
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestOpenStoreMemory(t *testing.T) {
	repos, err := openStore(context.Background(), &config.Config{StoreDriver: config.StoreMemory}, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, repos.connections)
	assert.NotNil(t, repos.activities)
	assert.NoError(t, repos.Close())
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := openStore(context.Background(), &config.Config{StoreDriver: "sqlite"}, zerolog.Nop())
	assert.Error(t, err)
}
