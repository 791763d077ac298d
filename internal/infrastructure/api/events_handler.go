package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/infrastructure/pubsub"
)

const sseKeepAlive = 25 * time.Second

// streamEvents handles GET /connection/events as a server-sent event stream
// of the caller's environment. ?types= narrows by comma separated event type
// and ?provider_config_key= by provider config.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.services.Events == nil {
		writeError(w, r, s.logger, domain.NewError(domain.KindInvalidRequest, "connection events are not enabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, s.logger, fmt.Errorf("response writer does not support streaming"))
		return
	}

	filter := &pubsub.ConnectionEventFilter{
		EnvironmentID:     domain.EnvironmentIDFromContext(r.Context()),
		ProviderConfigKey: r.URL.Query().Get("provider_config_key"),
	}
	if types := r.URL.Query().Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.Types = append(filter.Types, domain.ConnectionEventType(strings.TrimSpace(t)))
		}
	}

	channel := s.services.Events.Subscribe(r.Context(), filter)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-channel.Done:
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-channel.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error().Err(err).Msg("Failed to encode connection event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
