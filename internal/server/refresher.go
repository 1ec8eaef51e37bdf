package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/tubewise/tubewise/internal/store"
)

// Refresher periodically re-reads channel metadata from the upstream site so
// listings stay roughly current. It never touches ingested transcripts.
type Refresher struct {
	Store    *store.Store
	YouTube  ChannelSource
	Rdb      *redis.Client
	CronSpec string
	Logger   *log.Logger
	Stop     chan struct{}
}

func (r *Refresher) Start() {
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-r.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				r.tick()
			}
		}
	}()
}

func (r *Refresher) tick() {
	ctx := context.Background()
	channels, err := r.Store.ListChannels(ctx)
	if err != nil {
		r.Logger.Printf("list channels: %v", err)
		return
	}
	for _, ch := range channels {
		if !isDue(r.CronSpec, &ch.UpdatedAt) {
			continue
		}
		// distributed lock to avoid duplicate refreshes across replicas
		if r.Rdb != nil {
			lockKey := "refresh:lock:" + ch.ChannelID
			ok, _ := r.Rdb.SetNX(ctx, lockKey, "1", 10*time.Minute).Result()
			if !ok {
				continue
			}
		}
		info, err := r.YouTube.AnalyzeChannel(ctx, ch.URL)
		if err != nil {
			r.Logger.Printf("refresh channel %s: %v", ch.ChannelID, err)
			continue
		}
		if err := r.Store.UpdateChannelMetadata(ctx, ch.ID, info.Name, info.Description, info.ThumbnailURL, info.SubscriberCount, info.VideoCount); err != nil {
			r.Logger.Printf("update channel %s: %v", ch.ChannelID, err)
		}
	}
}

// isDue reports whether a refresh scheduled by cronSpec should run now given
// the last update time. Supports "@daily", "@hourly" and standard cron
// expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
