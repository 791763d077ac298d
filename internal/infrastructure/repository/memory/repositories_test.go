package memory

import (
	"testing"

	"archie-core-connections-layer/internal/infrastructure/repository/repotest"
	"archie-core-connections-layer/internal/ports"
)

func TestMemoryRepositories(t *testing.T) {
	repotest.Run(t, repotest.Backend{
		Connections:     func(*testing.T) ports.ConnectionRepository { return NewConnectionRepository() },
		ProviderConfigs: func(*testing.T) ports.ProviderConfigRepository { return NewProviderConfigRepository() },
		Environments:    func(*testing.T) ports.EnvironmentRepository { return NewEnvironmentRepository() },
		Activities:      func(*testing.T) ports.ActivityRepository { return NewActivityRepository() },
	})
}
