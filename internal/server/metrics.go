package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lattis",
		Name:      "searches_submitted_total",
		Help:      "Number of search jobs submitted, by method.",
	}, []string{"method"})

	searchesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lattis",
		Name:      "searches_finished_total",
		Help:      "Number of search jobs finished, by method and outcome.",
	}, []string{"method", "status"})

	searchesRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lattis",
		Name:      "searches_running",
		Help:      "Number of search jobs currently running.",
	})
)
