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

// Package diag implements a small health-check registry. diag.New(ctx)
// returns a *Diagnostics plus a cleanup func, and provider constructors
// call diags.Register(name, obj) to register themselves for health
// reporting.
package diag

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Healther is implemented by anything that can report its own health.
// Registering a value that does not implement Healther is allowed; it is
// reported as always-healthy with a nil detail.
type Healther interface {
	Health(ctx context.Context) error
}

// Diagnostics is a named registry of health-checkable components.
type Diagnostics struct {
	mu   sync.Mutex
	objs map[string]any
}

// New constructs a Diagnostics bound to ctx. The returned cleanup
// function is a no-op placeholder kept for parity with the wire
// providers that return a cleanup func.
func New(ctx context.Context) (*Diagnostics, func()) {
	d := &Diagnostics{objs: make(map[string]any)}
	return d, func() {}
}

// Register adds obj to the registry under name. It returns an error if
// the name is already registered.
func (d *Diagnostics) Register(name string, obj any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objs[name]; ok {
		return errors.Errorf("diagnostic %q already registered", name)
	}
	d.objs[name] = obj
	return nil
}

// report is the JSON shape returned by HealthCheck for a single
// registered component.
type report struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// HealthCheck runs Health on every registered Healther and returns a
// JSON-serializable summary plus an error if any component reported
// unhealthy.
func (d *Diagnostics) HealthCheck(ctx context.Context) (json.RawMessage, error) {
	d.mu.Lock()
	names := make([]string, 0, len(d.objs))
	objs := make(map[string]any, len(d.objs))
	for name, obj := range d.objs {
		names = append(names, name)
		objs[name] = obj
	}
	d.mu.Unlock()

	var reports []report
	var failures error
	for _, name := range names {
		r := report{Name: name, Healthy: true}
		if h, ok := objs[name].(Healther); ok {
			if err := h.Health(ctx); err != nil {
				r.Healthy = false
				r.Detail = err.Error()
				failures = errors.Wrapf(err, "component %q unhealthy", name)
			}
		}
		reports = append(reports, r)
	}
	out, err := json.Marshal(reports)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling health report")
	}
	return out, failures
}
