// Package metrics содержит prometheus-метрики движка синхронизации.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatches считает примененные действия.
	// Labels: action, changed (true/false)
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsync",
		Subsystem: "store",
		Name:      "dispatches_total",
		Help:      "Total actions dispatched to the store",
	}, []string{"action", "changed"})

	// ClampWarnings считает обрезания счетчиков голосов до нуля.
	ClampWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedsync",
		Subsystem: "votes",
		Name:      "clamp_warnings_total",
		Help:      "Vote counters that would have gone negative",
	})

	// Mutations считает оптимистичные мутации по исходу.
	// Labels: op, outcome (confirmed, rolled_back, rejected)
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsync",
		Subsystem: "optimistic",
		Name:      "mutations_total",
		Help:      "Optimistic mutations by outcome",
	}, []string{"op", "outcome"})

	// MutationLatency - время от оптимистичного патча до ответа сервера.
	MutationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "feedsync",
		Subsystem: "optimistic",
		Name:      "latency_seconds",
		Help:      "Remote round trip of optimistic mutations",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"op"})

	// Events считает события ленты изменений.
	// Labels: kind, type, result (applied, dropped, correlated, refetched)
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsync",
		Subsystem: "realtime",
		Name:      "events_total",
		Help:      "Change feed events by outcome",
	}, []string{"kind", "type", "result"})

	// FeedStatus - 1 если лента подключена.
	FeedStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "feedsync",
		Subsystem: "realtime",
		Name:      "connected",
		Help:      "Whether the change feed is connected",
	})

	// Fetches считает загрузки срезов.
	// Labels: slice, outcome (success, failure, shared)
	Fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsync",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Slice fetches by outcome",
	}, []string{"slice", "outcome"})

	// FeedSubscribers - число подписчиков ленты на сервере.
	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "feedsync",
		Subsystem: "feed",
		Name:      "subscribers",
		Help:      "Active change feed subscribers",
	})
)
