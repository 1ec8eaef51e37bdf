package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tubewise_chat_requests_total",
	Help: "Chat surface requests, by endpoint.",
}, []string{"endpoint"})
