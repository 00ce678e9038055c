/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReceiptRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_receipt_requests_total",
		Help: "The number of receipt period lookups, by outcome status",
	}, []string{"status"})

	ReceiptRemoteFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_receipt_remote_fetches_total",
		Help: "The number of calls to the remote receipt source, by result",
	}, []string{"result"})

	ReceiptSourceKeyErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_receipt_source_key_errors_total",
		Help: "The number of candidate keys skipped because of an unexpected store error",
	})

	ReceiptNegativeCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_receipt_negative_cache_hits_total",
		Help: "The number of lookups answered from the not-found period cache",
	})

	ReceiptSnapshotsSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_receipt_snapshots_saved_total",
		Help: "The number of receipt snapshot versions written to the catalog",
	})

	ReceiptLockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portal_receipt_lock_wait_seconds",
		Help:    "Time spent waiting for a receipt period lock",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
	})

	ReceiptLockKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_receipt_lock_keys",
		Help: "The number of receipt periods currently held or awaited",
	})
)
