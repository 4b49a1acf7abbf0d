package metrics

import (
	"math/big"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"evergreen/core/events"
)

type MatrixMetrics struct {
	registrations prometheus.Counter
	upgrades      *prometheus.CounterVec
	placements    *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	payouts       *prometheus.CounterVec
	payoutVolume  *prometheus.CounterVec
}

var (
	matrixOnce     sync.Once
	matrixRegistry *MatrixMetrics
)

func Matrix() *MatrixMetrics {
	matrixOnce.Do(func() {
		matrixRegistry = &MatrixMetrics{
			registrations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "matrix_registrations_total",
				Help: "Count of committed participant registrations.",
			}),
			upgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "matrix_upgrades_total",
				Help: "Count of level purchases by level.",
			}, []string{"level"}),
			placements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "matrix_placements_total",
				Help: "Count of node attachments by level and placement kind.",
			}, []string{"level", "kind"}),
			cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "matrix_cycles_total",
				Help: "Count of node completions by level.",
			}, []string{"level"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "matrix_payouts_total",
				Help: "Count of payouts pushed out of custody by kind.",
			}, []string{"kind"}),
			payoutVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "matrix_payout_volume",
				Help: "Payout volume in token minor units by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			matrixRegistry.registrations,
			matrixRegistry.upgrades,
			matrixRegistry.placements,
			matrixRegistry.cycles,
			matrixRegistry.payouts,
			matrixRegistry.payoutVolume,
		)
	})
	return matrixRegistry
}

// Emit implements events.Emitter so the registry can sit behind a fanout.
func (m *MatrixMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	switch e := evt.(type) {
	case events.MatrixRegistration:
		m.registrations.Inc()
	case events.MatrixUpgrade:
		m.upgrades.WithLabelValues(levelLabel(e.Level)).Inc()
	case events.MatrixPlacement:
		kind := "direct"
		switch {
		case e.Reentry:
			kind = "reentry"
		case e.Spillover:
			kind = "spillover"
		}
		m.placements.WithLabelValues(levelLabel(e.Level), kind).Inc()
	case events.MatrixCycle:
		m.cycles.WithLabelValues(levelLabel(e.Level)).Inc()
	case events.MatrixPayout:
		kind := e.Kind
		if kind == "" {
			kind = "unknown"
		}
		m.payouts.WithLabelValues(kind).Inc()
		m.payoutVolume.WithLabelValues(kind).Add(bigToFloat(e.Amount))
	}
}

func levelLabel(level uint8) string {
	return strconv.FormatUint(uint64(level), 10)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	return f
}
