package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tubewise/tubewise/internal/responder"
	"github.com/tubewise/tubewise/internal/store"
)

// Answerer is the retrieval-augmented responder surface.
type Answerer interface {
	Chat(ctx context.Context, channelID int64, message string) (responder.ChatResponse, error)
	Search(ctx context.Context, channelID, videoID int64, query string, topK int) ([]store.SearchResult, error)
	StudyGuide(ctx context.Context, channelID int64, topic string) (string, error)
	Summarize(ctx context.Context, channelID int64) (string, error)
}

type ChatHandler struct {
	Store     *store.Store
	Responder Answerer
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/:id", h.chat)
	g.POST("/search/:id", h.search)
	g.POST("/study-guide/:id", h.studyGuide)
	g.POST("/summary/:id", h.summary)
}

func (h *ChatHandler) chat(c echo.Context) error {
	chatRequests.WithLabelValues("chat").Inc()
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&req); err != nil || req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	resp, err := h.Responder.Chat(c.Request().Context(), ch.ID, req.Message)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if resp.Sources == nil {
		resp.Sources = []responder.Source{}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) search(c echo.Context) error {
	chatRequests.WithLabelValues("search").Inc()
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	var req struct {
		Query   string `json:"query"`
		Limit   int    `json:"limit"`
		VideoID int64  `json:"video_id"`
	}
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	results, err := h.Responder.Search(c.Request().Context(), ch.ID, req.VideoID, req.Query, req.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if results == nil {
		results = []store.SearchResult{}
	}
	return c.JSON(http.StatusOK, results)
}

func (h *ChatHandler) studyGuide(c echo.Context) error {
	chatRequests.WithLabelValues("study_guide").Inc()
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	var req struct {
		Topic string `json:"topic"`
	}
	if err := c.Bind(&req); err != nil || req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic required")
	}
	guide, err := h.Responder.StudyGuide(c.Request().Context(), ch.ID, req.Topic)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"study_guide": guide})
}

func (h *ChatHandler) summary(c echo.Context) error {
	chatRequests.WithLabelValues("summary").Inc()
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	summary, err := h.Responder.Summarize(c.Request().Context(), ch.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"summary": summary})
}

func (h *ChatHandler) channel(c echo.Context) (store.Channel, error) {
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
