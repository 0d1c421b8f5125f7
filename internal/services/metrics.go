package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemflow_merges_total",
		Help: "Upstream merges by result.",
	}, []string{"result"})

	rollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemflow_rollbacks_total",
		Help: "Track rollbacks by result.",
	}, []string{"result"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemflow_review_decisions_total",
		Help: "Recorded reviewer decisions by decision.",
	}, []string{"decision"})

	stagesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stemflow_rollback_stages_deleted_total",
		Help: "Stages removed by rollback cascades.",
	})
)

// resultLabel maps an operation outcome to a metric label
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrTransaction):
		return "transaction_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "rejected"
	}
}
