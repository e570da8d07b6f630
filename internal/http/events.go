package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/wagate/internal/bus"
)

const (
	eventBuffer       = 32
	eventWriteTimeout = 10 * time.Second
	// eventStatus is sent once on connect with the current status.
	eventStatus = "connection.status"
)

type statusPayload struct {
	ConnectionStatus string `json:"connectionStatus"`
}

// handleEvents streams bus events to a websocket client until it goes away.
// Slow clients lose events instead of stalling the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("events.upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	id := "ws-" + uuid.NewString()
	out := make(chan bus.Event, eventBuffer)
	s.bus.Subscribe(id, func(e bus.Event) {
		select {
		case out <- e:
		default:
			slog.Warn("events.dropped", "subscriber", id, "event", e.Name)
		}
	})
	defer s.bus.Unsubscribe(id)

	slog.Info("events.subscribed", "subscriber", id, "client", clientIP(r))

	first := bus.Event{
		Name:      eventStatus,
		Payload:   statusPayload{ConnectionStatus: string(s.tracker.Status())},
		Timestamp: time.Now().UTC(),
	}
	if err := conn.WriteJSON(first); err != nil {
		return
	}

	// Reader loop only detects close frames and dead peers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			slog.Info("events.unsubscribed", "subscriber", id)
			return
		case e := <-out:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
