package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestCreateChannel(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
INSERT INTO channels (channel_id, name, url, description, thumbnail_url, subscriber_count, video_count, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
ON CONFLICT (channel_id) DO UPDATE SET
  name = EXCLUDED.name,
  url = EXCLUDED.url,
  description = EXCLUDED.description,
  thumbnail_url = EXCLUDED.thumbnail_url,
  subscriber_count = EXCLUDED.subscriber_count,
  video_count = EXCLUDED.video_count,
  deleted_at = NULL,
  updated_at = NOW()
RETURNING id, created_at, updated_at
`)
	now := time.Now()
	mock.ExpectQuery(query).
		WithArgs("UCabc", "Creator", "https://www.youtube.com/channel/UCabc", "about", "thumb", int64(1000), 42).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))

	ch, err := st.CreateChannel(context.Background(), Channel{
		ChannelID:       "UCabc",
		Name:            "Creator",
		URL:             "https://www.youtube.com/channel/UCabc",
		Description:     "about",
		ThumbnailURL:    "thumb",
		SubscriberCount: 1000,
		VideoCount:      42,
	})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if ch.ID != 7 {
		t.Fatalf("expected id 7, got %d", ch.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetChannelNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery("SELECT id, channel_id").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := st.GetChannel(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteChannelAlreadyGone(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE channels SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.DeleteChannel(context.Background(), 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted channel, got %v", err)
	}
}

func TestReplaceVideoChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	records := []ChunkRecord{
		{Ordinal: 0, Text: "first chunk", StartTime: 0, EndTime: 12.5, Vector: []float32{0.1, 0.2}},
		{Ordinal: 1, Text: "second chunk", StartTime: 10, EndTime: 25, Vector: []float32{0.3, 0.4}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM video_chunks WHERE video_id=$1`)).
		WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 2))

	insertQuery := regexp.QuoteMeta(`
INSERT INTO video_chunks (video_id, ordinal, chunk_text, start_time, end_time, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6::vector,NOW())
`)
	prep := mock.ExpectPrepare(insertQuery)
	prep.ExpectExec().
		WithArgs(int64(3), 0, "first chunk", 0.0, 12.5, "[0.1,0.2]").
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs(int64(3), 1, "second chunk", 10.0, 25.0, "[0.3,0.4]").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	if err := st.ReplaceVideoChunks(context.Background(), 3, records); err != nil {
		t.Fatalf("ReplaceVideoChunks: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceVideoChunksRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM video_chunks WHERE video_id=$1`)).
		WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare("INSERT INTO video_chunks")
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = st.ReplaceVideoChunks(context.Background(), 3, []ChunkRecord{
		{Ordinal: 0, Text: "chunk", Vector: []float32{0.1}},
	})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceVideoChunksEmptyClearsVideo(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM video_chunks WHERE video_id=$1`)).
		WithArgs(int64(8)).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	if err := st.ReplaceVideoChunks(context.Background(), 8, nil); err != nil {
		t.Fatalf("ReplaceVideoChunks with no records: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	rows := sqlmock.NewRows([]string{"id", "video_id", "title", "url", "youtube_id", "chunk_text", "start_time", "end_time", "distance"}).
		AddRow(int64(1), int64(10), "Video A", "https://www.youtube.com/watch?v=aaa", "aaa", "relevant text", 0.0, 12.0, 0.15).
		AddRow(int64(2), int64(11), "Video B", "https://www.youtube.com/watch?v=bbb", "bbb", "other text", 30.0, 45.0, 1.4)

	mock.ExpectQuery("SELECT c.id, v.id, v.title").
		WithArgs("[0.1,0.2]", int64(4), int64(0), 5).
		WillReturnRows(rows)

	results, err := st.SearchChunks(context.Background(), []float32{0.1, 0.2}, SearchFilter{ChannelID: 4}, 5)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Similarity != 0.85 {
		t.Fatalf("expected similarity 0.85, got %v", results[0].Similarity)
	}
	// distance above 1 clamps to zero similarity rather than going negative
	if results[1].Similarity != 0 {
		t.Fatalf("expected clamped similarity 0, got %v", results[1].Similarity)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchChunksRequiresChannel(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	if _, err := st.SearchChunks(context.Background(), []float32{0.1}, SearchFilter{}, 5); err == nil {
		t.Fatalf("expected error for missing channel filter")
	}
}

func TestIngestionProgress(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COUNT(*) FILTER (WHERE is_ingested)")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "ingested"}).AddRow(10, 4))

	total, ingested, err := st.IngestionProgress(context.Background(), 4)
	if err != nil {
		t.Fatalf("IngestionProgress: %v", err)
	}
	if total != 10 || ingested != 4 {
		t.Fatalf("unexpected progress: total=%d ingested=%d", total, ingested)
	}
}

func TestEncodeVectorLiteral(t *testing.T) {
	lit, err := encodeVectorLiteral([]float32{0.5, -1, 2.25})
	if err != nil {
		t.Fatalf("encodeVectorLiteral: %v", err)
	}
	if lit != "[0.5,-1,2.25]" {
		t.Fatalf("unexpected literal: %s", lit)
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatalf("expected error for empty vector")
	}
}
