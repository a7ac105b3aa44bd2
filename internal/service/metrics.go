package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Transactions recorded, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	lockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_lock_wait_seconds",
			Help:    "Time spent waiting for a per-account lock.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	lockBusy = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_lock_busy_total",
			Help: "Requests rejected because the account lock stayed held for the whole wait.",
		},
	)
)
