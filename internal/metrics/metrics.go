package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "scans_total",
		Help:      "Barcode scans by result.",
	}, []string{"result"})

	AllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "allocations_total",
		Help:      "Allocation attempts by result.",
	}, []string{"result"})

	ShipmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "shipments_total",
		Help:      "Finalized shipments.",
	})

	ActiveWorkspaces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fulfillment",
		Name:      "active_workspaces",
		Help:      "Workspaces currently open.",
	})
)
