package domain

import "context"

// contextKey is a type for context keys to avoid collisions
type contextKey string

const environmentKey contextKey = "environment"

// WithEnvironment stores the authenticated environment in the context
func WithEnvironment(ctx context.Context, env *Environment) context.Context {
	return context.WithValue(ctx, environmentKey, env)
}

// EnvironmentFromContext returns the authenticated environment, or nil
func EnvironmentFromContext(ctx context.Context) *Environment {
	env, _ := ctx.Value(environmentKey).(*Environment)
	return env
}

// EnvironmentIDFromContext returns the authenticated environment's ID, or 0
func EnvironmentIDFromContext(ctx context.Context) int64 {
	if env := EnvironmentFromContext(ctx); env != nil {
		return env.ID
	}
	return 0
}
