package analytics

import (
	"context"
	"fmt"
	"strconv"

	"archie-core-connections-layer/internal/domain"

	"github.com/posthog/posthog-go"
	"github.com/rs/zerolog"
)

// PostHogSink forwards analytics events to PostHog. Enqueue is asynchronous,
// so Track never waits on the network.
type PostHogSink struct {
	client posthog.Client
	logger zerolog.Logger
}

// NewPostHogSink creates a sink for the given project key
func NewPostHogSink(apiKey, endpoint string, logger zerolog.Logger) (*PostHogSink, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, fmt.Errorf("failed to create posthog client: %w", err)
	}
	return newPostHogSink(client, logger), nil
}

func newPostHogSink(client posthog.Client, logger zerolog.Logger) *PostHogSink {
	return &PostHogSink{client: client, logger: logger}
}

// Track enqueues the event with the environment as distinct id
func (s *PostHogSink) Track(_ context.Context, event domain.AnalyticsEvent) error {
	props := posthog.NewProperties()
	for k, v := range event.Properties {
		props.Set(k, v)
	}
	props.Set("environmentId", event.EnvironmentID)

	capture := posthog.Capture{
		DistinctId: "environment-" + strconv.FormatInt(event.EnvironmentID, 10),
		Event:      event.Name,
		Properties: props,
	}
	if err := capture.Validate(); err != nil {
		return fmt.Errorf("invalid analytics event %s: %w", event.Name, err)
	}
	if err := s.client.Enqueue(capture); err != nil {
		return fmt.Errorf("failed to enqueue analytics event %s: %w", event.Name, err)
	}
	return nil
}

// Close flushes pending events
func (s *PostHogSink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
