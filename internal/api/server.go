// Package api is the daemon's REST/event interface: the narrow HTTP
// surface spec describes the core as serving downstream media-automation
// tooling through, distinct from (and much thinner than) the teacher's
// Newznab search/RSS indexer endpoints, which belonged to a different
// layer this project doesn't implement. Routes are registered by
// Server.registerRoutes, and every handler is a method on Server itself
// (handlers.go); there is no separate controller type per operation family.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/jvz-devx/usenetd/internal/domain"
	"github.com/jvz-devx/usenetd/internal/downloader"
	"github.com/jvz-devx/usenetd/internal/events"
	"github.com/jvz-devx/usenetd/internal/logger"
	"github.com/jvz-devx/usenetd/internal/store"
)

// Server wires the downloader facade and store onto an echo router.
type Server struct {
	echo *echo.Echo
	fac  *downloader.Facade
	st   *store.PersistentStore
	log  *logger.Logger
}

func New(fac *downloader.Facade, st *store.PersistentStore, bus *events.Bus, lg *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			lg.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	s := &Server{echo: e, fac: fac, st: st, log: lg}
	s.registerRoutes(bus)
	return s
}

func (s *Server) registerRoutes(bus *events.Bus) {
	g := s.echo.Group("/api/v1")

	g.GET("/downloads", s.listDownloads)
	g.GET("/downloads/:id", s.getDownload)
	g.POST("/downloads", s.addDownload)
	g.POST("/downloads/:id/pause", s.pause)
	g.POST("/downloads/:id/resume", s.resume)
	g.DELETE("/downloads/:id", s.cancel)
	g.PUT("/downloads/:id/priority", s.setPriority)
	g.POST("/downloads/:id/reprocess", s.reprocess)

	g.POST("/queue/pause", s.pauseAll)
	g.POST("/queue/resume", s.resumeAll)
	g.PUT("/speed-limit", s.setSpeedLimit)

	g.GET("/events", eventsHandler(bus))
}

// Start begins serving on addr (":PORT") and blocks until the listener
// stops or ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(addr) }()

	select {
	case <-ctx.Done():
		return s.echo.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func parseID(c *echo.Context) (domain.DownloadId, error) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return domain.DownloadId(n), nil
}

func httpError(err error) *echo.HTTPError {
	if de, ok := err.(*domain.Error); ok {
		switch de.Kind {
		case domain.ErrKindNotFound, domain.ErrKindFilesNotFound:
			return echo.NewHTTPError(http.StatusNotFound, de.Message)
		case domain.ErrKindAlreadyInState, domain.ErrKindInvalidState, domain.ErrKindDuplicate:
			return echo.NewHTTPError(http.StatusConflict, de.Message)
		case domain.ErrKindInvalidNZB, domain.ErrKindInsufficientSpace:
			return echo.NewHTTPError(http.StatusBadRequest, de.Message)
		case domain.ErrKindShuttingDown:
			return echo.NewHTTPError(http.StatusServiceUnavailable, de.Message)
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
