/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "atlas"

	// Security token service.
	sts                       = "sts"
	stsTokensIssuedMetric     = "tokens_issued_total"
	stsTokenCacheHitsMetric   = "token_cache_hits_total"
	stsInvalidationsMetric    = "token_invalidations_total"
	stsIssueTokenTimeMetric   = "issue_token_seconds"

	// Transfer pipeline.
	transfer                   = "transfer"
	transferDownloadedMetric   = "shipments_downloaded_total"
	transferAcknowledgedMetric = "shipments_acknowledged_total"
	transferFailedMetric       = "shipments_failed_total"
	transferDownloadTimeMetric = "download_seconds"
	transferBucketWidthMetric  = "rate_limit_bucket_width"

	// Commission pipeline.
	commission                  = "commission"
	commissionImportedMetric    = "rows_imported_total"
	commissionMatchedMetric     = "rows_matched_total"
	settlementsGeneratedMetric  = "settlements_generated_total"
	commissionRecalcTimeMetric  = "recalc_seconds"
)

var (
	instance *Metrics  //nolint:gochecknoglobals
	once     sync.Once //nolint:gochecknoglobals
)

// Metrics manages the metrics for Atlas.
type Metrics struct {
	stsTokensIssued   prometheus.Counter
	stsTokenCacheHits prometheus.Counter
	stsInvalidations  prometheus.Counter
	stsIssueTokenTime prometheus.Histogram

	transferDownloaded   *prometheus.CounterVec
	transferAcknowledged *prometheus.CounterVec
	transferFailed       *prometheus.CounterVec
	transferDownloadTime prometheus.Histogram
	transferBucketWidth  *prometheus.GaugeVec

	commissionImported   prometheus.Counter
	commissionMatched    prometheus.Counter
	settlementsGenerated prometheus.Counter
	commissionRecalcTime prometheus.Histogram
}

// Get returns the singleton Atlas metrics provider, registering the instruments with the
// default prometheus registry on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})

	return instance
}

func newMetrics() *Metrics {
	carrierLabel := []string{"carrier"}

	m := &Metrics{
		stsTokensIssued: newCounter(sts, stsTokensIssuedMetric,
			"The number of security tokens issued by carrier STS endpoints"),
		stsTokenCacheHits: newCounter(sts, stsTokenCacheHitsMetric,
			"The number of token requests served from the cache"),
		stsInvalidations: newCounter(sts, stsInvalidationsMetric,
			"The number of cached tokens that were explicitly invalidated after an auth failure"),
		stsIssueTokenTime: newHistogram(sts, stsIssueTokenTimeMetric,
			"The time (in seconds) that it takes to issue a token at a carrier STS"),
		transferDownloaded: newCounterVec(transfer, transferDownloadedMetric,
			"The number of shipments downloaded", carrierLabel),
		transferAcknowledged: newCounterVec(transfer, transferAcknowledgedMetric,
			"The number of shipments acknowledged", carrierLabel),
		transferFailed: newCounterVec(transfer, transferFailedMetric,
			"The number of shipments that failed to download, persist or acknowledge", carrierLabel),
		transferDownloadTime: newHistogram(transfer, transferDownloadTimeMetric,
			"The time (in seconds) that it takes to download and persist one shipment"),
		transferBucketWidth: newGaugeVec(transfer, transferBucketWidthMetric,
			"The current width (tokens/second) of the adaptive rate-limit bucket", carrierLabel),
		commissionImported: newCounter(commission, commissionImportedMetric,
			"The number of commission rows imported"),
		commissionMatched: newCounter(commission, commissionMatchedMetric,
			"The number of commission rows auto-matched to a contract"),
		settlementsGenerated: newCounter(commission, settlementsGeneratedMetric,
			"The number of settlement snapshots generated"),
		commissionRecalcTime: newHistogram(commission, commissionRecalcTimeMetric,
			"The time (in seconds) that it takes to recompute splits and settlements after a rate-model change"),
	}

	prometheus.MustRegister(
		m.stsTokensIssued, m.stsTokenCacheHits, m.stsInvalidations, m.stsIssueTokenTime,
		m.transferDownloaded, m.transferAcknowledged, m.transferFailed, m.transferDownloadTime,
		m.transferBucketWidth,
		m.commissionImported, m.commissionMatched, m.settlementsGenerated, m.commissionRecalcTime,
	)

	return m
}

// TokenIssued increments the issued-tokens counter and records the issuance time.
func (m *Metrics) TokenIssued(value time.Duration) {
	m.stsTokensIssued.Inc()
	m.stsIssueTokenTime.Observe(value.Seconds())
}

// TokenCacheHit increments the token-cache-hit counter.
func (m *Metrics) TokenCacheHit() {
	m.stsTokenCacheHits.Inc()
}

// TokenInvalidated increments the token-invalidation counter.
func (m *Metrics) TokenInvalidated() {
	m.stsInvalidations.Inc()
}

// ShipmentDownloaded records a downloaded shipment and the time it took to download and persist it.
func (m *Metrics) ShipmentDownloaded(carrier string, value time.Duration) {
	m.transferDownloaded.WithLabelValues(carrier).Inc()
	m.transferDownloadTime.Observe(value.Seconds())
}

// ShipmentAcknowledged records an acknowledged shipment.
func (m *Metrics) ShipmentAcknowledged(carrier string) {
	m.transferAcknowledged.WithLabelValues(carrier).Inc()
}

// ShipmentFailed records a failed shipment.
func (m *Metrics) ShipmentFailed(carrier string) {
	m.transferFailed.WithLabelValues(carrier).Inc()
}

// BucketWidth sets the current rate-limit bucket width for the given carrier.
func (m *Metrics) BucketWidth(carrier string, width float64) {
	m.transferBucketWidth.WithLabelValues(carrier).Set(width)
}

// RowsImported adds to the imported-rows counter.
func (m *Metrics) RowsImported(count int) {
	m.commissionImported.Add(float64(count))
}

// RowsMatched adds to the matched-rows counter.
func (m *Metrics) RowsMatched(count int) {
	m.commissionMatched.Add(float64(count))
}

// SettlementGenerated increments the settlements-generated counter.
func (m *Metrics) SettlementGenerated() {
	m.settlementsGenerated.Inc()
}

// RecalcTime records the time it took to recompute splits and settlements after a rate-model change.
func (m *Metrics) RecalcTime(value time.Duration) {
	m.commissionRecalcTime.Observe(value.Seconds())
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newGaugeVec(subsystem, name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newHistogram(subsystem, name, help string) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}
