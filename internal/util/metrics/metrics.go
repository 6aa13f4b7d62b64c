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

// Package metrics holds shared Prometheus conventions used across the
// module: a common histogram bucket scheme and label set so every
// package's metrics stay comparable.
package metrics

// LatencyBuckets is the shared histogram bucket scheme for duration
// metrics throughout the module.
var LatencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// TableLabels is the shared label set for metrics keyed by table name.
var TableLabels = []string{"table"}

// ScopeLabels is the shared label set for metrics keyed by scope name,
// used by the orchestrator's own per-session metrics.
var ScopeLabels = []string{"scope"}
