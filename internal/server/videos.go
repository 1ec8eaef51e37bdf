package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tubewise/tubewise/internal/ingest"
	"github.com/tubewise/tubewise/internal/store"
)

// IngestionCoordinator starts and tracks ingestion jobs.
type IngestionCoordinator interface {
	StartChannelIngestion(ctx context.Context, channel store.Channel, videoIDs []string, maxVideos int) (string, error)
	Job(id string) (ingest.JobStatus, bool)
	JobForChannel(channelID int64) (ingest.JobStatus, bool)
	Cancel(id string) bool
}

type VideosHandler struct {
	Store       *store.Store
	YouTube     ChannelSource
	Coordinator IngestionCoordinator
}

func (h *VideosHandler) Register(g *echo.Group) {
	g.GET("/channel/:id", h.listLive)
	g.GET("/channel/:id/ingested", h.listIngested)
	g.POST("/ingest/:id", h.startIngest)
	g.GET("/ingest/status/:id", h.ingestStatus)
	g.POST("/ingest/cancel/:job", h.cancelIngest)
}

// listLive returns the channel's current video listing from the upstream
// site, not from the database.
func (h *VideosHandler) listLive(c echo.Context) error {
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	videos, err := h.YouTube.ListChannelVideos(c.Request().Context(), ch.ChannelID, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, videos)
}

func (h *VideosHandler) listIngested(c echo.Context) error {
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	videos, err := h.Store.ListVideos(c.Request().Context(), ch.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	ingested := make([]store.Video, 0, len(videos))
	for _, v := range videos {
		if v.IsIngested {
			ingested = append(ingested, v)
		}
	}
	return c.JSON(http.StatusOK, ingested)
}

// startIngest launches a background job and returns its id without waiting.
func (h *VideosHandler) startIngest(c echo.Context) error {
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	var req struct {
		VideoIDs  []string `json:"video_ids"`
		MaxVideos int      `json:"max_videos"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	jobID, err := h.Coordinator.StartChannelIngestion(c.Request().Context(), ch, req.VideoIDs, req.MaxVideos)
	if errors.Is(err, ingest.ErrJobRunning) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID, "status": "processing"})
}

// ingestStatus reports durable progress from the store plus the live job
// snapshot when one exists.
func (h *VideosHandler) ingestStatus(c echo.Context) error {
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	total, ingested, err := h.Store.IngestionProgress(c.Request().Context(), ch.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	progress := 0.0
	if total > 0 {
		progress = float64(ingested) / float64(total)
	}
	out := map[string]interface{}{
		"total":    total,
		"ingested": ingested,
		"failed":   0,
		"progress": progress,
	}
	if job, ok := h.Coordinator.JobForChannel(ch.ID); ok {
		out["failed"] = job.Failed
		out["job"] = job
	}
	return c.JSON(http.StatusOK, out)
}

func (h *VideosHandler) cancelIngest(c echo.Context) error {
	jobID := c.Param("job")
	if !h.Coordinator.Cancel(jobID) {
		return echo.NewHTTPError(http.StatusNotFound, "job not found or already finished")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "canceling"})
}

func (h *VideosHandler) channel(c echo.Context) (store.Channel, error) {
	id, err := channelParam(c)
	if err != nil {
		return store.Channel{}, err
	}
	ch, err := h.Store.GetChannel(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Channel{}, echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	if err != nil {
		return store.Channel{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ch, nil
}
