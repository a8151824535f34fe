// Package metrics exposes the Prometheus instrumentation for the secret
// resolution cache: resolution outcomes by category, and vault login and
// fetch behavior by vault.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheResolutionTotal *prometheus.CounterVec

	vaultLoginTotal    *prometheus.CounterVec
	vaultLoginDuration *prometheus.HistogramVec

	vaultFetchTotal    *prometheus.CounterVec
	vaultFetchDuration *prometheus.HistogramVec

	cacheEntryFresh *prometheus.GaugeVec

	metricsOnce       sync.Once
	metricsRegistered bool
)

// CacheMetrics provides methods to record cache and vault metrics.
type CacheMetrics struct{}

// NewCacheMetrics creates a new CacheMetrics instance. Metrics are
// registered on first InitMetrics call, not here.
func NewCacheMetrics() *CacheMetrics {
	return &CacheMetrics{}
}

// InitMetrics initializes all Prometheus metrics. This should be called
// once at startup if Prometheus metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		cacheResolutionTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seccache_cache_resolution_total",
				Help: "Total number of secret resolution attempts by category and outcome",
			},
			[]string{"category", "outcome"},
		)

		vaultLoginTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seccache_vault_login_total",
				Help: "Total number of vault login attempts by vault and status",
			},
			[]string{"vault", "status"},
		)

		vaultLoginDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seccache_vault_login_duration_seconds",
				Help:    "Duration of vault login requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"vault"},
		)

		vaultFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seccache_vault_fetch_total",
				Help: "Total number of vault secret fetches by vault and status",
			},
			[]string{"vault", "status"},
		)

		vaultFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seccache_vault_fetch_duration_seconds",
				Help:    "Duration of vault secret fetch requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"vault", "status"},
		)

		cacheEntryFresh = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "seccache_cache_entry_fresh",
				Help: "Whether the most recent resolution of a category/name entry was fresh (1) or fell back to stale contents (0)",
			},
			[]string{"category"},
		)

		metricsRegistered = true
	})
}

// RecordResolution records one GetSecretEntry outcome: "cache_fresh" when
// no refresh was attempted, "resolved" on a successful refresh, or
// "failed" when a refresh failed and stale contents (or no contents)
// were returned instead.
func (m *CacheMetrics) RecordResolution(category, outcome string) {
	if !metricsRegistered || cacheResolutionTotal == nil {
		return
	}
	cacheResolutionTotal.WithLabelValues(category, outcome).Inc()
}

// RecordEntryFresh records whether the entry just served for category
// held freshly resolved contents.
func (m *CacheMetrics) RecordEntryFresh(category string, fresh bool) {
	if !metricsRegistered || cacheEntryFresh == nil {
		return
	}
	value := 0.0
	if fresh {
		value = 1.0
	}
	cacheEntryFresh.WithLabelValues(category).Set(value)
}

// RecordVaultLogin records a vault login attempt's outcome and duration.
func (m *CacheMetrics) RecordVaultLogin(vault, status string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if vaultLoginTotal != nil {
		vaultLoginTotal.WithLabelValues(vault, status).Inc()
	}
	if vaultLoginDuration != nil {
		vaultLoginDuration.WithLabelValues(vault).Observe(durationSeconds)
	}
}

// RecordVaultFetch records a vault secret fetch's outcome and duration.
func (m *CacheMetrics) RecordVaultFetch(vault, status string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if vaultFetchTotal != nil {
		vaultFetchTotal.WithLabelValues(vault, status).Inc()
	}
	if vaultFetchDuration != nil {
		vaultFetchDuration.WithLabelValues(vault, status).Observe(durationSeconds)
	}
}

// GetCacheResolutionTotal returns the cache resolution counter for testing.
func GetCacheResolutionTotal() *prometheus.CounterVec {
	return cacheResolutionTotal
}

// GetVaultLoginTotal returns the vault login counter for testing.
func GetVaultLoginTotal() *prometheus.CounterVec {
	return vaultLoginTotal
}

// GetVaultLoginDuration returns the vault login duration histogram for testing.
func GetVaultLoginDuration() *prometheus.HistogramVec {
	return vaultLoginDuration
}

// GetVaultFetchTotal returns the vault fetch counter for testing.
func GetVaultFetchTotal() *prometheus.CounterVec {
	return vaultFetchTotal
}

// GetVaultFetchDuration returns the vault fetch duration histogram for testing.
func GetVaultFetchDuration() *prometheus.HistogramVec {
	return vaultFetchDuration
}

// GetCacheEntryFresh returns the cache entry freshness gauge for testing.
func GetCacheEntryFresh() *prometheus.GaugeVec {
	return cacheEntryFresh
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
