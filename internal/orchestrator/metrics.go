// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cockroachdb/dbsync/internal/util/metrics"
)

// Per-session metrics, labeled by scope rather than table since a
// session spans every table at once: a duration histogram and an error
// counter per synchronize() call, plus row and conflict counters.
var (
	sessionDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dbsync_session_duration_seconds",
		Help:    "the length of time a complete synchronize() call took",
		Buckets: metrics.LatencyBuckets,
	}, metrics.ScopeLabels)
	sessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbsync_session_errors_total",
		Help: "the number of synchronize() calls that returned an error",
	}, metrics.ScopeLabels)

	rowsUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbsync_rows_uploaded_total",
		Help: "the number of change rows applied to the server during upload",
	}, metrics.ScopeLabels)
	rowsDownloaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbsync_rows_downloaded_total",
		Help: "the number of change rows applied to the client during download",
	}, metrics.ScopeLabels)
	conflictsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbsync_conflicts_resolved_total",
		Help: "the number of rows that required conflict resolution during apply",
	}, metrics.ScopeLabels)
)
