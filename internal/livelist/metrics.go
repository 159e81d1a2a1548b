package livelist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoadsTotal counts full reloads by collection and result (ok, error, stale).
	LoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livelist_loads_total",
			Help: "Total number of full list reloads",
		},
		[]string{"collection", "result"},
	)

	// NotificationsTotal counts change notifications that triggered a reload.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livelist_notifications_total",
			Help: "Total number of change notifications received",
		},
		[]string{"collection", "type"},
	)

	// WritesTotal counts inserts and updates issued through a list.
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livelist_writes_total",
			Help: "Total number of remote writes",
		},
		[]string{"collection", "op", "result"},
	)

	// OpenChannels tracks currently open change channels.
	OpenChannels = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livelist_open_channels",
			Help: "Number of open change channels",
		},
		[]string{"collection"},
	)
)
