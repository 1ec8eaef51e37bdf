// Package store persists channels, videos and transcript chunk embeddings in
// Postgres with pgvector.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// ErrStorage wraps persistence failures so callers can classify them without
// depending on driver error types.
var ErrStorage = errors.New("storage error")

// ErrNotFound reports that a requested row does not exist or is deleted.
var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

// Channel is a tracked YouTube channel.
type Channel struct {
	ID              int64
	ChannelID       string
	Name            string
	URL             string
	Description     string
	ThumbnailURL    string
	SubscriberCount int64
	VideoCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Video is one video of a tracked channel. IsIngested flips to true only
// after its chunk embeddings are confirmed in storage.
type Video struct {
	ID           int64
	ChannelID    int64
	VideoID      string
	Title        string
	Description  string
	ThumbnailURL string
	Duration     int
	ViewCount    int64
	PublishedAt  *time.Time
	URL          string
	Transcript   *string
	IsIngested   bool
	HasCaptions  bool
	CreatedAt    time.Time
}

// ChunkRecord is one embedded transcript window ready for persistence.
type ChunkRecord struct {
	Ordinal   int
	Text      string
	StartTime float64
	EndTime   float64
	Vector    []float32
}

// SearchResult is one retrieval hit with provenance.
type SearchResult struct {
	ChunkID    int64
	VideoID    int64
	VideoTitle string
	VideoURL   string
	YoutubeID  string
	Text       string
	StartTime  float64
	EndTime    float64
	Similarity float64
}

// SearchFilter narrows a chunk search. ChannelID is mandatory; VideoID
// optionally restricts the search to one video.
type SearchFilter struct {
	ChannelID int64
	VideoID   int64
}

// New opens a Postgres connection and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", ErrStorage, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: ping postgres: %v", ErrStorage, err)
	}
	return &Store{DB: db}, nil
}

// CreateChannel inserts a channel or revives/updates an existing row with the
// same youtube channel id.
func (s *Store) CreateChannel(ctx context.Context, ch Channel) (Channel, error) {
	row := s.DB.QueryRowContext(ctx, `
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
`, ch.ChannelID, ch.Name, ch.URL, ch.Description, ch.ThumbnailURL, ch.SubscriberCount, ch.VideoCount)
	if err := row.Scan(&ch.ID, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return Channel{}, fmt.Errorf("%w: create channel: %v", ErrStorage, err)
	}
	return ch, nil
}

// GetChannel returns a channel by primary key, excluding soft-deleted rows.
func (s *Store) GetChannel(ctx context.Context, id int64) (Channel, error) {
	var ch Channel
	err := s.DB.QueryRowContext(ctx, `
SELECT id, channel_id, name, url, description, thumbnail_url, subscriber_count, video_count, created_at, updated_at
FROM channels WHERE id=$1 AND deleted_at IS NULL
`, id).Scan(&ch.ID, &ch.ChannelID, &ch.Name, &ch.URL, &ch.Description, &ch.ThumbnailURL,
		&ch.SubscriberCount, &ch.VideoCount, &ch.CreatedAt, &ch.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, fmt.Errorf("%w: get channel: %v", ErrStorage, err)
	}
	return ch, nil
}

// ListChannels returns all live channels, newest first.
func (s *Store) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, channel_id, name, url, description, thumbnail_url, subscriber_count, video_count, created_at, updated_at
FROM channels WHERE deleted_at IS NULL ORDER BY created_at DESC
`)
	if err != nil {
		return nil, fmt.Errorf("%w: list channels: %v", ErrStorage, err)
	}
	defer rows.Close()
	var channels []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.ChannelID, &ch.Name, &ch.URL, &ch.Description, &ch.ThumbnailURL,
			&ch.SubscriberCount, &ch.VideoCount, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan channel: %v", ErrStorage, err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list channels: %v", ErrStorage, err)
	}
	return channels, nil
}

// DeleteChannel soft-deletes a channel. Its videos and chunks stay in place
// but stop being visible to listings and search.
func (s *Store) DeleteChannel(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE channels SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("%w: delete channel: %v", ErrStorage, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateChannelMetadata refreshes the advisory fields reported by the
// upstream site.
func (s *Store) UpdateChannelMetadata(ctx context.Context, id int64, name, description, thumbnailURL string, subscriberCount int64, videoCount int) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE channels SET name=$2, description=$3, thumbnail_url=$4, subscriber_count=$5, video_count=$6, updated_at=NOW()
WHERE id=$1 AND deleted_at IS NULL
`, id, name, description, thumbnailURL, subscriberCount, videoCount)
	if err != nil {
		return fmt.Errorf("%w: update channel metadata: %v", ErrStorage, err)
	}
	return nil
}

// UpsertVideo inserts a video listing entry, keeping ingestion state intact
// when the row already exists.
func (s *Store) UpsertVideo(ctx context.Context, v Video) (Video, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO videos (channel_id, video_id, title, description, thumbnail_url, duration, view_count, published_at, url, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (video_id) DO UPDATE SET
  title = EXCLUDED.title,
  description = EXCLUDED.description,
  thumbnail_url = EXCLUDED.thumbnail_url,
  duration = EXCLUDED.duration,
  view_count = EXCLUDED.view_count,
  published_at = EXCLUDED.published_at
RETURNING id, is_ingested, has_captions, created_at
`, v.ChannelID, v.VideoID, v.Title, v.Description, v.ThumbnailURL, v.Duration, v.ViewCount, v.PublishedAt, v.URL)
	if err := row.Scan(&v.ID, &v.IsIngested, &v.HasCaptions, &v.CreatedAt); err != nil {
		return Video{}, fmt.Errorf("%w: upsert video: %v", ErrStorage, err)
	}
	return v, nil
}

// ListVideos returns a channel's videos, most recently published first.
func (s *Store) ListVideos(ctx context.Context, channelID int64) ([]Video, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, channel_id, video_id, title, description, thumbnail_url, duration, view_count, published_at, url, transcript, is_ingested, has_captions, created_at
FROM videos WHERE channel_id=$1 ORDER BY published_at DESC NULLS LAST, created_at DESC
`, channelID)
	if err != nil {
		return nil, fmt.Errorf("%w: list videos: %v", ErrStorage, err)
	}
	defer rows.Close()
	var videos []Video
	for rows.Next() {
		var v Video
		if err := rows.Scan(&v.ID, &v.ChannelID, &v.VideoID, &v.Title, &v.Description, &v.ThumbnailURL,
			&v.Duration, &v.ViewCount, &v.PublishedAt, &v.URL, &v.Transcript, &v.IsIngested, &v.HasCaptions, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan video: %v", ErrStorage, err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list videos: %v", ErrStorage, err)
	}
	return videos, nil
}

// SetVideoTranscript stores the raw transcript text and flags that a caption
// track exists.
func (s *Store) SetVideoTranscript(ctx context.Context, id int64, transcript string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE videos SET transcript=$2, has_captions=TRUE WHERE id=$1`, id, transcript)
	if err != nil {
		return fmt.Errorf("%w: set video transcript: %v", ErrStorage, err)
	}
	return nil
}

// SetVideoCaptions records whether a caption track was found for the video.
func (s *Store) SetVideoCaptions(ctx context.Context, id int64, hasCaptions bool) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE videos SET has_captions=$2 WHERE id=$1`, id, hasCaptions)
	if err != nil {
		return fmt.Errorf("%w: set video captions: %v", ErrStorage, err)
	}
	return nil
}

// MarkVideoIngested flips the ingestion flag once chunk storage is confirmed.
func (s *Store) MarkVideoIngested(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE videos SET is_ingested=TRUE WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("%w: mark video ingested: %v", ErrStorage, err)
	}
	return nil
}

// ReplaceVideoChunks atomically replaces all stored chunks of one video.
// Readers never observe a partially written video: either the previous chunk
// set or the new one is visible.
func (s *Store) ReplaceVideoChunks(ctx context.Context, videoID int64, records []ChunkRecord) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin chunk replace: %v", ErrStorage, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("%w: commit chunk replace: %v", ErrStorage, cerr)
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM video_chunks WHERE video_id=$1`, videoID); err != nil {
		return fmt.Errorf("%w: delete existing chunks: %v", ErrStorage, err)
	}
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO video_chunks (video_id, ordinal, chunk_text, start_time, end_time, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6::vector,NOW())
`)
	if err != nil {
		return fmt.Errorf("%w: prepare chunk insert: %v", ErrStorage, err)
	}
	defer stmt.Close()
	for _, rec := range records {
		if strings.TrimSpace(rec.Text) == "" {
			return fmt.Errorf("%w: empty chunk text at ordinal %d", ErrStorage, rec.Ordinal)
		}
		vectorLiteral, verr := encodeVectorLiteral(rec.Vector)
		if verr != nil {
			return fmt.Errorf("%w: chunk %d: %v", ErrStorage, rec.Ordinal, verr)
		}
		if _, err = stmt.ExecContext(ctx, videoID, rec.Ordinal, rec.Text, rec.StartTime, rec.EndTime, vectorLiteral); err != nil {
			return fmt.Errorf("%w: insert chunk %d: %v", ErrStorage, rec.Ordinal, err)
		}
	}
	return nil
}

// SearchChunks returns the topK most similar chunks within the filtered
// channel. Results carry similarity as 1 - cosine distance, clamped to
// [0, 1], ordered best first with deterministic tie-breaking.
func (s *Store) SearchChunks(ctx context.Context, vector []float32, filter SearchFilter, topK int) ([]SearchResult, error) {
	if filter.ChannelID == 0 {
		return nil, fmt.Errorf("%w: channel filter required", ErrStorage)
	}
	if topK <= 0 {
		topK = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id, v.id, v.title, v.url, v.video_id, c.chunk_text, c.start_time, c.end_time, c.embedding <=> $1::vector AS distance
FROM video_chunks c
JOIN videos v ON v.id = c.video_id
JOIN channels ch ON ch.id = v.channel_id
WHERE ch.id = $2 AND ch.deleted_at IS NULL AND ($3 = 0 OR v.id = $3)
ORDER BY distance, c.ordinal, v.created_at
LIMIT $4
`, vecLiteral, filter.ChannelID, filter.VideoID, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: search chunks: %v", ErrStorage, err)
	}
	defer rows.Close()
	var results []SearchResult
	for rows.Next() {
		var (
			res      SearchResult
			distance float64
		)
		if err := rows.Scan(&res.ChunkID, &res.VideoID, &res.VideoTitle, &res.VideoURL, &res.YoutubeID,
			&res.Text, &res.StartTime, &res.EndTime, &distance); err != nil {
			return nil, fmt.Errorf("%w: scan search result: %v", ErrStorage, err)
		}
		res.Similarity = clamp01(1 - distance)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search chunks: %v", ErrStorage, err)
	}
	return results, nil
}

// ChunkSample is a chunk text with its video title, used for channel-wide
// summaries.
type ChunkSample struct {
	Text       string
	VideoTitle string
}

// SampleChunks returns up to limit chunks of a channel in storage order.
func (s *Store) SampleChunks(ctx context.Context, channelID int64, limit int) ([]ChunkSample, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.chunk_text, v.title
FROM video_chunks c
JOIN videos v ON v.id = c.video_id
WHERE v.channel_id = $1
ORDER BY c.id
LIMIT $2
`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: sample chunks: %v", ErrStorage, err)
	}
	defer rows.Close()
	var samples []ChunkSample
	for rows.Next() {
		var cs ChunkSample
		if err := rows.Scan(&cs.Text, &cs.VideoTitle); err != nil {
			return nil, fmt.Errorf("%w: scan chunk sample: %v", ErrStorage, err)
		}
		samples = append(samples, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sample chunks: %v", ErrStorage, err)
	}
	return samples, nil
}

// IngestionProgress reports how many of a channel's known videos are
// ingested.
func (s *Store) IngestionProgress(ctx context.Context, channelID int64) (total, ingested int, err error) {
	err = s.DB.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(*) FILTER (WHERE is_ingested)
FROM videos WHERE channel_id=$1
`, channelID).Scan(&total, &ingested)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: ingestion progress: %v", ErrStorage, err)
	}
	return total, ingested, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
