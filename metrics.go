package ydoc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	txBegun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ydoc_transactions_total",
		Help: "Transactions opened",
	})

	txLeaked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ydoc_transactions_leaked_total",
		Help: "Transactions released by the garbage collector instead of Free",
	})

	lockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ydoc_lock_wait_seconds",
		Help:    "Time spent waiting for a document in Begin",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
	})

	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ydoc_commit_seconds",
		Help:    "Time spent in Free before the document is released",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	updatesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ydoc_updates_applied_total",
		Help: "Updates applied by result",
	}, []string{"result"})

	observerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ydoc_observer_calls_total",
		Help: "Observer invocations by kind",
	}, []string{"kind"})

	observersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ydoc_observers",
		Help: "Registered observers",
	})
)
