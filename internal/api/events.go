package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/jvz-devx/usenetd/internal/events"
)

// eventsHandler streams the event bus as Server-Sent Events, the "event
// interface" half of spec's "REST/event interface" — every Queued,
// DownloadProgress, Complete, Failed, etc. notification forwarded verbatim
// to any connected client.
func eventsHandler(bus *events.Bus) echo.HandlerFunc {
	return func(c *echo.Context) error {
		w := c.Response()
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		ch, unsubscribe := bus.Subscribe()
		defer unsubscribe()

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
					return nil
				}
				w.Flush()
			}
		}
	}
}
