package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tubewise/tubewise/internal/store"
	"github.com/tubewise/tubewise/internal/youtube"
)

// ChannelSource is the youtube surface the handlers call out to.
type ChannelSource interface {
	AnalyzeChannel(ctx context.Context, url string) (youtube.ChannelInfo, error)
	ListChannelVideos(ctx context.Context, channelID string, maxVideos int) ([]youtube.VideoInfo, error)
}

type ChannelsHandler struct {
	Store   *store.Store
	YouTube ChannelSource
}

func (h *ChannelsHandler) Register(g *echo.Group) {
	g.POST("/analyze", h.analyze)
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
}

// analyze inspects a channel URL without persisting anything.
func (h *ChannelsHandler) analyze(c echo.Context) error {
	var req struct {
		URL string `json:"url"`
	}
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}
	if _, err := youtube.ExtractChannelID(req.URL); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	info, err := h.YouTube.AnalyzeChannel(c.Request().Context(), req.URL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, info)
}

func (h *ChannelsHandler) create(c echo.Context) error {
	var req struct {
		URL string `json:"url"`
	}
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}
	if _, err := youtube.ExtractChannelID(req.URL); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	info, err := h.YouTube.AnalyzeChannel(c.Request().Context(), req.URL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	ch, err := h.Store.CreateChannel(c.Request().Context(), store.Channel{
		ChannelID:       info.ChannelID,
		Name:            info.Name,
		URL:             req.URL,
		Description:     info.Description,
		ThumbnailURL:    info.ThumbnailURL,
		SubscriberCount: info.SubscriberCount,
		VideoCount:      info.VideoCount,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, ch)
}

func (h *ChannelsHandler) list(c echo.Context) error {
	channels, err := h.Store.ListChannels(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if channels == nil {
		channels = []store.Channel{}
	}
	return c.JSON(http.StatusOK, channels)
}

func (h *ChannelsHandler) get(c echo.Context) error {
	id, err := channelParam(c)
	if err != nil {
		return err
	}
	ch, err := h.Store.GetChannel(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ch)
}

func (h *ChannelsHandler) delete(c echo.Context) error {
	id, err := channelParam(c)
	if err != nil {
		return err
	}
	if err := h.Store.DeleteChannel(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "channel not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "channel deleted"})
}

func channelParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid channel id")
	}
	return id, nil
}
