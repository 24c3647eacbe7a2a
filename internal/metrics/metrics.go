// Package metrics exposes Prometheus collectors for the worker and pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RepositoriesProcessed counts worker iterations by terminal status.
	RepositoriesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendeepwiki_repositories_processed_total",
		Help: "Repositories processed by the worker loop, by outcome.",
	}, []string{"status"})

	// StageDuration observes wall time per pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opendeepwiki_stage_duration_seconds",
		Help:    "Pipeline stage execution duration.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})

	// LLMRetries counts retry attempts against the model endpoint.
	LLMRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendeepwiki_llm_retries_total",
		Help: "LLM call retries, by stage.",
	}, []string{"stage"})

	// ToolInvocations counts kernel tool calls issued by the model.
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendeepwiki_tool_invocations_total",
		Help: "Kernel tool invocations, by tool name.",
	}, []string{"tool"})

	// IncrementalUpdates counts incremental updater runs by outcome.
	IncrementalUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendeepwiki_incremental_updates_total",
		Help: "Incremental updater runs, by outcome.",
	}, []string{"status"})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
