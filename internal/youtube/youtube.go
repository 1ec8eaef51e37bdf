// Package youtube drives yt-dlp as a subprocess to extract channel metadata,
// video listings and caption tracks.
package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/tubewise/tubewise/internal/chunker"
)

// ErrNoTranscript reports that a video has no usable caption track. Per-video
// ingestion treats it as a skip, not a failure of the job.
var ErrNoTranscript = errors.New("no transcript available")

// ChannelInfo is the metadata yt-dlp reports for a channel page.
type ChannelInfo struct {
	ChannelID       string
	Name            string
	Description     string
	ThumbnailURL    string
	SubscriberCount int64
	VideoCount      int
}

// VideoInfo is one entry of a channel's video listing.
type VideoInfo struct {
	VideoID      string
	Title        string
	Description  string
	ThumbnailURL string
	Duration     int
	ViewCount    int64
	PublishedAt  *time.Time
	URL          string
}

// Service wraps yt-dlp invocations. The zero value is not usable; construct
// with NewService.
type Service struct {
	ytdlpPath  string
	httpClient *http.Client
}

func NewService(ytdlpPath string) *Service {
	if ytdlpPath == "" {
		ytdlpPath = "yt-dlp"
	}
	return &Service{
		ytdlpPath:  ytdlpPath,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var channelURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/channel/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`youtube\.com/c/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`youtube\.com/@([a-zA-Z0-9_.-]+)`),
	regexp.MustCompile(`youtube\.com/user/([a-zA-Z0-9_-]+)`),
}

// ExtractChannelID pulls the channel handle/id out of the supported YouTube
// channel URL formats.
func ExtractChannelID(url string) (string, error) {
	for _, pat := range channelURLPatterns {
		if m := pat.FindStringSubmatch(url); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("invalid YouTube channel URL: %s", url)
}

type ytdlpInfo struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Thumbnails      []ytdlpThumb    `json:"thumbnails"`
	SubscriberCount int64           `json:"channel_follower_count"`
	PlaylistCount   int             `json:"playlist_count"`
	Duration        float64         `json:"duration"`
	ViewCount       int64           `json:"view_count"`
	UploadDate      string          `json:"upload_date"`
	Entries         []ytdlpInfo     `json:"entries"`
	AutomaticCaps   ytdlpCaptionMap `json:"automatic_captions"`
	Subtitles       ytdlpCaptionMap `json:"subtitles"`
}

type ytdlpThumb struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ytdlpCaptionMap map[string][]ytdlpCaption

type ytdlpCaption struct {
	Ext string `json:"ext"`
	URL string `json:"url"`
}

// run executes yt-dlp with -J (single JSON document) plus the given args.
func (s *Service) run(ctx context.Context, args ...string) (*ytdlpInfo, error) {
	full := append([]string{"-J", "--no-warnings"}, args...)
	cmd := exec.CommandContext(ctx, s.ytdlpPath, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}
	return &info, nil
}

// AnalyzeChannel fetches channel metadata without persisting anything.
func (s *Service) AnalyzeChannel(ctx context.Context, url string) (ChannelInfo, error) {
	info, err := s.run(ctx, "--flat-playlist", url)
	if err != nil {
		return ChannelInfo{}, fmt.Errorf("failed to analyze channel: %w", err)
	}
	if info.ID == "" {
		return ChannelInfo{}, fmt.Errorf("could not extract channel information from %s", url)
	}
	return ChannelInfo{
		ChannelID:       info.ID,
		Name:            info.Title,
		Description:     info.Description,
		ThumbnailURL:    bestThumbnail(info.Thumbnails),
		SubscriberCount: info.SubscriberCount,
		VideoCount:      info.PlaylistCount,
	}, nil
}

// ListChannelVideos returns up to maxVideos entries from the channel's
// videos tab.
func (s *Service) ListChannelVideos(ctx context.Context, channelID string, maxVideos int) ([]VideoInfo, error) {
	if maxVideos <= 0 {
		maxVideos = 100
	}
	channelURL := fmt.Sprintf("https://www.youtube.com/channel/%s/videos", channelID)
	info, err := s.run(ctx, "--flat-playlist", "--playlist-end", fmt.Sprint(maxVideos), channelURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel videos: %w", err)
	}
	videos := make([]VideoInfo, 0, len(info.Entries))
	for _, entry := range info.Entries {
		if entry.ID == "" {
			continue
		}
		videos = append(videos, VideoInfo{
			VideoID:      entry.ID,
			Title:        entry.Title,
			Description:  entry.Description,
			ThumbnailURL: bestThumbnail(entry.Thumbnails),
			Duration:     int(entry.Duration),
			ViewCount:    entry.ViewCount,
			PublishedAt:  parseUploadDate(entry.UploadDate),
			URL:          fmt.Sprintf("https://www.youtube.com/watch?v=%s", entry.ID),
		})
	}
	return videos, nil
}

// FetchTranscript downloads and parses the English caption track of a video
// into timed segments. Automatic captions are preferred, then manual
// subtitles, matching how the upstream site exposes them.
func (s *Service) FetchTranscript(ctx context.Context, videoID string) ([]chunker.Segment, error) {
	videoURL := fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID)
	info, err := s.run(ctx, "--skip-download", videoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch video info: %w", err)
	}

	tracks := info.AutomaticCaps["en"]
	if len(tracks) == 0 {
		tracks = info.Subtitles["en"]
	}
	if len(tracks) == 0 {
		return nil, ErrNoTranscript
	}

	captionURL := ""
	for _, tr := range tracks {
		if tr.Ext == "vtt" {
			captionURL = tr.URL
			break
		}
	}
	if captionURL == "" {
		captionURL = tracks[0].URL
	}

	body, err := s.download(ctx, captionURL)
	if err != nil {
		return nil, fmt.Errorf("download captions: %w", err)
	}
	segments := ParseVTT(body)
	if len(segments) == 0 {
		return nil, ErrNoTranscript
	}
	return segments, nil
}

func (s *Service) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("caption download returned status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// bestThumbnail picks the highest-resolution thumbnail.
func bestThumbnail(thumbs []ytdlpThumb) string {
	best := ""
	bestArea := -1
	for _, th := range thumbs {
		area := th.Width * th.Height
		if area > bestArea {
			bestArea = area
			best = th.URL
		}
	}
	return best
}

func parseUploadDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	ts, err := time.Parse("20060102", raw)
	if err != nil {
		return nil
	}
	return &ts
}
