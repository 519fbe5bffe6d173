package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/jvz-devx/usenetd/internal/domain"
	"github.com/jvz-devx/usenetd/internal/downloader"
)

type downloadView struct {
	ID                domain.DownloadId      `json:"id"`
	Name              string                 `json:"name"`
	JobName           string                 `json:"job_name"`
	Category          string                 `json:"category"`
	Destination       string                 `json:"destination"`
	Status            domain.JobStatus       `json:"status"`
	Priority          int                    `json:"priority"`
	SizeBytesTotal    int64                  `json:"size_bytes_total"`
	DirectUnpackState domain.DirectUnpackState `json:"direct_unpack_state"`
	Error             *string                `json:"error,omitempty"`
}

func toView(d *domain.Download) downloadView {
	return downloadView{
		ID: d.ID, Name: d.Name, JobName: d.JobName, Category: d.Category,
		Destination: d.Destination, Status: d.Status, Priority: d.Priority,
		SizeBytesTotal: d.SizeBytesTotal, DirectUnpackState: d.DirectUnpackState,
		Error: d.Error,
	}
}

func (s *Server) listDownloads(c *echo.Context) error {
	downloads, err := s.st.ListDownloads(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	views := make([]downloadView, len(downloads))
	for i, d := range downloads {
		views[i] = toView(d)
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) getDownload(c *echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := s.st.GetDownload(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toView(d))
}

// addDownload accepts the raw NZB XML body plus query-string overrides —
// category, destination, post_process, priority, password — mirroring the
// teacher's content-type-agnostic handling of a single uploaded payload.
func (s *Server) addDownload(c *echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}
	name := c.QueryParam("name")
	if name == "" {
		name = "upload.nzb"
	}

	opts := downloader.AddOptions{
		Category:    c.QueryParam("category"),
		Destination: c.QueryParam("destination"),
		Password:    c.QueryParam("password"),
	}
	if pp := c.QueryParam("post_process"); pp != "" {
		opts.PostProcessMode = domain.PostProcessMode(pp)
	}
	if p := c.QueryParam("priority"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			opts.Priority = n
		}
	}

	id, err := s.fac.AddNZBContent(c.Request().Context(), body, name, opts)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) pause(c *echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := s.fac.Pause(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) resume(c *echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := s.fac.Resume(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) cancel(c *echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := s.fac.Cancel(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setPriority(c *echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Priority int `json:"priority"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.fac.SetPriority(c.Request().Context(), id, body.Priority); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) reprocess(c *echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := s.fac.Reprocess(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) pauseAll(c *echo.Context) error {
	if err := s.fac.PauseAll(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) resumeAll(c *echo.Context) error {
	if err := s.fac.ResumeAll(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setSpeedLimit(c *echo.Context) error {
	var body struct {
		LimitBps int64 `json:"limit_bps"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.fac.SetSpeedLimit(body.LimitBps)
	return c.NoContent(http.StatusNoContent)
}
