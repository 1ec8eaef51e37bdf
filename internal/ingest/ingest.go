// Package ingest runs the transcript ingestion pipeline: per channel, fetch
// the video listing, then fetch, chunk, embed and store each transcript under
// bounded concurrency.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tubewise/tubewise/config"
	"github.com/tubewise/tubewise/internal/chunker"
	"github.com/tubewise/tubewise/internal/provider"
	"github.com/tubewise/tubewise/internal/store"
	"github.com/tubewise/tubewise/internal/youtube"
)

// ErrJobRunning reports that the channel already has an active ingestion job.
var ErrJobRunning = errors.New("ingestion already running for channel")

// VideoState is one step of the per-video pipeline.
type VideoState string

const (
	StateSelected  VideoState = "selected"
	StateFetching  VideoState = "fetching"
	StateChunking  VideoState = "chunking"
	StateEmbedding VideoState = "embedding"
	StateStoring   VideoState = "storing"
	StateIngested  VideoState = "ingested"
	StateFailed    VideoState = "failed"
)

// Failure reasons recorded on videos that did not reach StateIngested.
const (
	ReasonNoTranscript        = "no_transcript"
	ReasonRateLimited         = "rate_limited"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonInvalidInput        = "invalid_input"
	ReasonStorage             = "storage"
	ReasonCanceled            = "canceled"
)

// TranscriptSource lists a channel's videos and fetches caption tracks.
type TranscriptSource interface {
	ListChannelVideos(ctx context.Context, channelID string, maxVideos int) ([]youtube.VideoInfo, error)
	FetchTranscript(ctx context.Context, videoID string) ([]chunker.Segment, error)
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Library is the slice of the store the pipeline writes through.
type Library interface {
	UpsertVideo(ctx context.Context, v store.Video) (store.Video, error)
	SetVideoCaptions(ctx context.Context, id int64, hasCaptions bool) error
	SetVideoTranscript(ctx context.Context, id int64, transcript string) error
	ReplaceVideoChunks(ctx context.Context, videoID int64, records []store.ChunkRecord) error
	MarkVideoIngested(ctx context.Context, id int64) error
}

// VideoProgress is the externally visible state of one video in a job.
type VideoProgress struct {
	VideoID string     `json:"video_id"`
	Title   string     `json:"title"`
	State   VideoState `json:"state"`
	Reason  string     `json:"reason,omitempty"`
}

// JobStatus is a point-in-time snapshot of a running or finished job.
type JobStatus struct {
	ID        string          `json:"id"`
	ChannelID int64           `json:"channel_id"`
	Total     int             `json:"total"`
	Ingested  int             `json:"ingested"`
	Failed    int             `json:"failed"`
	Done      bool            `json:"done"`
	Canceled  bool            `json:"canceled"`
	Error     string          `json:"error,omitempty"`
	Videos    []VideoProgress `json:"videos"`
	StartedAt time.Time       `json:"started_at"`
}

type job struct {
	id        string
	channel   store.Channel
	startedAt time.Time

	mu       sync.Mutex
	videos   []VideoProgress
	done     bool
	canceled bool
	err      string
}

func (j *job) snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStatus{
		ID:        j.id,
		ChannelID: j.channel.ID,
		Total:     len(j.videos),
		Done:      j.done,
		Canceled:  j.canceled,
		Error:     j.err,
		Videos:    append([]VideoProgress(nil), j.videos...),
		StartedAt: j.startedAt,
	}
	for _, v := range j.videos {
		switch v.State {
		case StateIngested:
			st.Ingested++
		case StateFailed:
			st.Failed++
		}
	}
	return st
}

func (j *job) setState(i int, state VideoState, reason string) {
	j.mu.Lock()
	j.videos[i].State = state
	j.videos[i].Reason = reason
	j.mu.Unlock()
}

func (j *job) isCanceled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.canceled
}

// Coordinator owns ingestion jobs. One job per channel at a time; starting is
// non-blocking and progress is polled by job id.
type Coordinator struct {
	cfg     config.IngestConfig
	source  TranscriptSource
	embed   Embedder
	library Library
	rdb     *redis.Client
	logger  *log.Logger
	chunk   *chunker.Chunker
	backoff time.Duration

	mu       sync.Mutex
	jobs     map[string]*job
	byChan   map[int64]string
	maxJobs  int
	ordering []string
}

const lockTTL = 30 * time.Minute

// NewCoordinator wires the pipeline. rdb may be nil; the in-process lock
// still prevents duplicate jobs, just not across replicas.
func NewCoordinator(cfg config.IngestConfig, source TranscriptSource, embed Embedder, library Library, rdb *redis.Client, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Coordinator{
		cfg:     cfg,
		source:  source,
		embed:   embed,
		library: library,
		rdb:     rdb,
		logger:  logger,
		chunk:   chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
		backoff: 2 * time.Second,
		jobs:    make(map[string]*job),
		byChan:  make(map[int64]string),
		maxJobs: 256,
	}
}

// StartChannelIngestion launches a background job for the channel and returns
// its id immediately. videoIDs selects which videos to ingest; empty means
// every video in the listing. ErrJobRunning when the channel is already being
// ingested, here or on another replica holding the redis lock.
func (c *Coordinator) StartChannelIngestion(ctx context.Context, channel store.Channel, videoIDs []string, maxVideos int) (string, error) {
	c.mu.Lock()
	if jobID, ok := c.byChan[channel.ID]; ok {
		if j := c.jobs[jobID]; j != nil && !j.snapshotDone() {
			c.mu.Unlock()
			return "", ErrJobRunning
		}
	}
	if c.rdb != nil {
		lockKey := lockKeyFor(channel.ID)
		ok, err := c.rdb.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil {
			c.logger.Printf("[INGEST] redis lock unavailable, continuing with local lock: %v", err)
		} else if !ok {
			c.mu.Unlock()
			return "", ErrJobRunning
		}
	}

	j := &job{
		id:        uuid.New().String(),
		channel:   channel,
		startedAt: time.Now(),
	}
	c.jobs[j.id] = j
	c.byChan[channel.ID] = j.id
	c.ordering = append(c.ordering, j.id)
	c.evictOldLocked()
	c.mu.Unlock()

	go c.run(j, videoIDs, maxVideos)
	return j.id, nil
}

func (j *job) snapshotDone() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.done
}

// Job returns a snapshot of the job with the given id.
func (c *Coordinator) Job(id string) (JobStatus, bool) {
	c.mu.Lock()
	j, ok := c.jobs[id]
	c.mu.Unlock()
	if !ok {
		return JobStatus{}, false
	}
	return j.snapshot(), true
}

// JobForChannel returns the most recent job for a channel.
func (c *Coordinator) JobForChannel(channelID int64) (JobStatus, bool) {
	c.mu.Lock()
	id, ok := c.byChan[channelID]
	j := c.jobs[id]
	c.mu.Unlock()
	if !ok || j == nil {
		return JobStatus{}, false
	}
	return j.snapshot(), true
}

// Cancel stops the job from starting new videos. Videos already in flight
// run to completion so stored state stays consistent.
func (c *Coordinator) Cancel(id string) bool {
	c.mu.Lock()
	j, ok := c.jobs[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	j.mu.Lock()
	already := j.done
	j.canceled = true
	j.mu.Unlock()
	return !already
}

func lockKeyFor(channelID int64) string {
	return fmt.Sprintf("ingest:lock:%d", channelID)
}

func (c *Coordinator) releaseLock(channelID int64) {
	if c.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.rdb.Del(ctx, lockKeyFor(channelID))
}

// evictOldLocked caps the in-memory job history. Caller holds c.mu.
func (c *Coordinator) evictOldLocked() {
	for len(c.ordering) > c.maxJobs {
		oldest := c.ordering[0]
		c.ordering = c.ordering[1:]
		if j, ok := c.jobs[oldest]; ok && j.snapshotDone() {
			delete(c.jobs, oldest)
			if c.byChan[j.channel.ID] == oldest {
				delete(c.byChan, j.channel.ID)
			}
		}
	}
}

func (c *Coordinator) run(j *job, videoIDs []string, maxVideos int) {
	ctx := context.Background()
	defer c.releaseLock(j.channel.ID)

	c.logger.Printf("[INGEST] job %s: starting channel %d (%s)", j.id, j.channel.ID, j.channel.ChannelID)

	infos, err := c.source.ListChannelVideos(ctx, j.channel.ChannelID, maxVideos)
	if err != nil {
		c.logger.Printf("[INGEST] job %s: list videos: %v", j.id, err)
		j.mu.Lock()
		j.err = fmt.Sprintf("list videos: %v", err)
		j.done = true
		j.mu.Unlock()
		return
	}
	if len(videoIDs) > 0 {
		selected := make(map[string]struct{}, len(videoIDs))
		for _, id := range videoIDs {
			selected[id] = struct{}{}
		}
		filtered := infos[:0]
		for _, info := range infos {
			if _, ok := selected[info.VideoID]; ok {
				filtered = append(filtered, info)
			}
		}
		infos = filtered
	}

	videos := make([]store.Video, 0, len(infos))
	j.mu.Lock()
	for _, info := range infos {
		v, uerr := c.library.UpsertVideo(context.Background(), store.Video{
			ChannelID:    j.channel.ID,
			VideoID:      info.VideoID,
			Title:        info.Title,
			Description:  info.Description,
			ThumbnailURL: info.ThumbnailURL,
			Duration:     info.Duration,
			ViewCount:    info.ViewCount,
			PublishedAt:  info.PublishedAt,
			URL:          info.URL,
		})
		if uerr != nil {
			c.logger.Printf("[INGEST] job %s: upsert video %s: %v", j.id, info.VideoID, uerr)
			continue
		}
		videos = append(videos, v)
		j.videos = append(j.videos, VideoProgress{VideoID: v.VideoID, Title: v.Title, State: StateSelected})
	}
	j.mu.Unlock()

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := range videos {
		sem <- struct{}{}
		if j.isCanceled() {
			<-sem
			j.setState(i, StateFailed, ReasonCanceled)
			videosCanceled.Inc()
			continue
		}
		wg.Add(1)
		go func(i int, v store.Video) {
			defer wg.Done()
			defer func() { <-sem }()
			c.ingestVideo(ctx, j, i, v)
		}(i, videos[i])
	}
	wg.Wait()

	j.mu.Lock()
	j.done = true
	j.mu.Unlock()
	snap := j.snapshot()
	c.logger.Printf("[INGEST] job %s: done, %d/%d ingested, %d failed", j.id, snap.Ingested, snap.Total, snap.Failed)
}

// ingestVideo walks one video through the pipeline, retrying transient
// provider failures at the video level.
func (c *Coordinator) ingestVideo(ctx context.Context, j *job, i int, v store.Video) {
	attempts := c.cfg.VideoRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(c.backoff * time.Duration(1<<(attempt-1)))
		}
		err := c.tryIngestVideo(ctx, j, i, v)
		if err == nil {
			videosIngested.Inc()
			return
		}
		reason, retryable := classifyIngestError(err)
		if !retryable || attempt == attempts-1 {
			c.logger.Printf("[INGEST] job %s: video %s failed (%s): %v", j.id, v.VideoID, reason, err)
			j.setState(i, StateFailed, reason)
			videosFailed.WithLabelValues(reason).Inc()
			return
		}
		c.logger.Printf("[INGEST] job %s: video %s attempt %d failed, retrying: %v", j.id, v.VideoID, attempt+1, err)
	}
}

func (c *Coordinator) tryIngestVideo(ctx context.Context, j *job, i int, v store.Video) error {
	j.setState(i, StateFetching, "")
	segments, err := c.source.FetchTranscript(ctx, v.VideoID)
	if err != nil {
		if errors.Is(err, youtube.ErrNoTranscript) {
			_ = c.library.SetVideoCaptions(ctx, v.ID, false)
		}
		return err
	}
	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		texts = append(texts, seg.Text)
	}
	if err := c.library.SetVideoTranscript(ctx, v.ID, strings.Join(texts, " ")); err != nil {
		return err
	}

	j.setState(i, StateChunking, "")
	chunks := c.chunk.Split(segments)
	if len(chunks) == 0 {
		return youtube.ErrNoTranscript
	}

	j.setState(i, StateEmbedding, "")
	chunkTexts := make([]string, len(chunks))
	for k, ch := range chunks {
		chunkTexts[k] = ch.Text
	}
	vectors, err := c.embed.CreateEmbedding(ctx, chunkTexts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: got %d vectors for %d chunks", provider.ErrProviderUnavailable, len(vectors), len(chunks))
	}

	j.setState(i, StateStoring, "")
	records := make([]store.ChunkRecord, len(chunks))
	for k, ch := range chunks {
		records[k] = store.ChunkRecord{
			Ordinal:   k,
			Text:      ch.Text,
			StartTime: ch.Start,
			EndTime:   ch.End,
			Vector:    vectors[k],
		}
	}
	if err := c.library.ReplaceVideoChunks(ctx, v.ID, records); err != nil {
		return err
	}
	// The ingested flag flips only after chunk storage is confirmed.
	if err := c.library.MarkVideoIngested(ctx, v.ID); err != nil {
		return err
	}
	chunksStored.Add(float64(len(records)))
	j.setState(i, StateIngested, "")
	return nil
}

// classifyIngestError maps an error to a failure reason and whether the video
// is worth retrying.
func classifyIngestError(err error) (reason string, retryable bool) {
	switch {
	case errors.Is(err, youtube.ErrNoTranscript):
		return ReasonNoTranscript, false
	case errors.Is(err, provider.ErrRateLimited):
		return ReasonRateLimited, true
	case errors.Is(err, provider.ErrProviderUnavailable):
		return ReasonProviderUnavailable, true
	case errors.Is(err, provider.ErrInvalidInput):
		return ReasonInvalidInput, false
	case errors.Is(err, store.ErrStorage):
		return ReasonStorage, true
	default:
		return ReasonProviderUnavailable, true
	}
}
