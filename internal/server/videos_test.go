package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/tubewise/tubewise/internal/ingest"
	"github.com/tubewise/tubewise/internal/store"
)

type stubCoordinator struct {
	jobID     string
	startErr  error
	job       ingest.JobStatus
	hasJob    bool
	canceled  []string
	lastIDs   []string
	cancelAny bool
}

func (s *stubCoordinator) StartChannelIngestion(ctx context.Context, channel store.Channel, videoIDs []string, maxVideos int) (string, error) {
	s.lastIDs = videoIDs
	return s.jobID, s.startErr
}

func (s *stubCoordinator) Job(id string) (ingest.JobStatus, bool) {
	return s.job, s.hasJob
}

func (s *stubCoordinator) JobForChannel(channelID int64) (ingest.JobStatus, bool) {
	return s.job, s.hasJob
}

func (s *stubCoordinator) Cancel(id string) bool {
	s.canceled = append(s.canceled, id)
	return s.cancelAny
}

func expectGetChannel(mock sqlmock.Sqlmock, id int64) {
	now := time.Now()
	mock.ExpectQuery("SELECT id, channel_id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "channel_id", "name", "url", "description", "thumbnail_url",
			"subscriber_count", "video_count", "created_at", "updated_at",
		}).AddRow(id, "UCabc", "Creator", "https://www.youtube.com/@creator", "", "", int64(0), 0, now, now))
}

func TestStartIngestReturnsJobID(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	coord := &stubCoordinator{jobID: "job-1"}
	handler := &VideosHandler{Store: &store.Store{DB: db}, Coordinator: coord}
	expectGetChannel(mock, 2)

	ctx, rec := newJSONContext(e, http.MethodPost, "/api/videos/ingest/2", `{"video_ids":["v1","v2"]}`)
	ctx.SetParamNames("id")
	ctx.SetParamValues("2")

	if err := handler.startIngest(ctx); err != nil {
		t.Fatalf("startIngest: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["job_id"] != "job-1" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if len(coord.lastIDs) != 2 || coord.lastIDs[0] != "v1" {
		t.Fatalf("selection not forwarded: %v", coord.lastIDs)
	}
}

func TestStartIngestConflictWhenRunning(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	coord := &stubCoordinator{startErr: ingest.ErrJobRunning}
	handler := &VideosHandler{Store: &store.Store{DB: db}, Coordinator: coord}
	expectGetChannel(mock, 2)

	ctx, _ := newJSONContext(e, http.MethodPost, "/api/videos/ingest/2", `{}`)
	ctx.SetParamNames("id")
	ctx.SetParamValues("2")

	err = handler.startIngest(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestIngestStatusCombinesStoreAndJob(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	coord := &stubCoordinator{
		hasJob: true,
		job:    ingest.JobStatus{ID: "job-1", Total: 4, Ingested: 2},
	}
	handler := &VideosHandler{Store: &store.Store{DB: db}, Coordinator: coord}
	expectGetChannel(mock, 2)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "ingested"}).AddRow(4, 2))

	ctx, rec := newJSONContext(e, http.MethodGet, "/api/videos/ingest/status/2", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues("2")

	if err := handler.ingestStatus(ctx); err != nil {
		t.Fatalf("ingestStatus: %v", err)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["progress"].(float64) != 0.5 {
		t.Fatalf("unexpected progress: %v", resp["progress"])
	}
	if _, ok := resp["job"]; !ok {
		t.Fatalf("live job missing from status: %v", resp)
	}
}

func TestCancelIngestUnknownJob(t *testing.T) {
	e := echo.New()
	handler := &VideosHandler{Coordinator: &stubCoordinator{cancelAny: false}}

	ctx, _ := newJSONContext(e, http.MethodPost, "/api/videos/ingest/cancel/nope", "")
	ctx.SetParamNames("job")
	ctx.SetParamValues("nope")

	err := handler.cancelIngest(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestListIngestedFiltersFlag(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	handler := &VideosHandler{Store: &store.Store{DB: db}}
	expectGetChannel(mock, 2)
	now := time.Now()
	mock.ExpectQuery("SELECT id, channel_id, video_id").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "channel_id", "video_id", "title", "description", "thumbnail_url",
			"duration", "view_count", "published_at", "url", "transcript", "is_ingested", "has_captions", "created_at",
		}).
			AddRow(int64(1), int64(2), "v1", "Ingested", "", "", 100, int64(0), nil, "u1", nil, true, true, now).
			AddRow(int64(2), int64(2), "v2", "Pending", "", "", 100, int64(0), nil, "u2", nil, false, true, now))

	ctx, rec := newJSONContext(e, http.MethodGet, "/api/videos/channel/2/ingested", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues("2")

	if err := handler.listIngested(ctx); err != nil {
		t.Fatalf("listIngested: %v", err)
	}
	var videos []store.Video
	if err := json.Unmarshal(rec.Body.Bytes(), &videos); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(videos) != 1 || videos[0].VideoID != "v1" {
		t.Fatalf("expected only ingested videos, got %+v", videos)
	}
}
