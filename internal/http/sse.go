package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/clinicpulse/internal/events"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

var heartbeatInterval = 30 * time.Second

// handleEvents streams a session's stage events as Server-Sent Events.
// The event name is the stage status; the stream closes after the
// pipeline complete or aborted event.
//
//	GET /api/v1/sessions/{id}/events
//
//	event: escalated
//	data: {"session_id":"s1","stage":"intake","status":"escalated",...}
func (s *Server) handleEvents(c echo.Context) error {
	if s.nc == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event streaming is not enabled")
	}
	id := c.Param("id")
	if err := session.ValidateID(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sub, err := events.Subscribe(s.nc, events.SessionSubject(s.prefix, id))
	if err != nil {
		return s.fail(c, err)
	}
	defer func() {
		_ = sub.Close()
	}()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	var mu sync.Mutex
	write := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
		w.Flush()
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	heartbeatDone := make(chan struct{})
	defer func() {
		cancel()
		<-heartbeatDone
	}()

	// Heartbeats keep proxies from timing out idle streams.
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				write(func() { fmt.Fprint(w, ": heartbeat\n\n") })
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub.Each(ctx, func(e pipeline.Event) bool {
		data, err := json.Marshal(e)
		if err != nil {
			return true
		}
		write(func() {
			fmt.Fprintf(w, "event: %s\n", e.Status)
			fmt.Fprintf(w, "data: %s\n\n", data)
		})
		return !events.Terminal(e)
	})
}
