package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	videosIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tubewise_videos_ingested_total",
		Help: "Videos whose transcript chunks were embedded and stored.",
	})
	videosFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubewise_videos_failed_total",
		Help: "Videos that did not reach the ingested state, by reason.",
	}, []string{"reason"})
	videosCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tubewise_videos_canceled_total",
		Help: "Videos skipped because their job was canceled.",
	})
	chunksStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tubewise_chunks_stored_total",
		Help: "Transcript chunks written to the vector store.",
	})
)
