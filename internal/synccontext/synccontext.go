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

// Package synccontext defines SyncContext, the session-scoped value that
// is threaded explicitly through every Provider call.
package synccontext

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/dbsync/internal/scopeid"
)

// SyncType selects the overall behavior of a session.
type SyncType int

// The recognized sync types.
const (
	// Normal performs an incremental sync against the last known
	// timestamps.
	Normal SyncType = iota
	// Reinitialize is carried to both peers in begin_session. The
	// orchestrator selects and applies changes exactly as for Normal, and
	// neither sqlprovider nor testutil's in-memory provider acts on it.
	Reinitialize
	// ReinitializeWithUpload is carried to both peers the same way as
	// Reinitialize and, like it, does not change how changes are
	// selected or applied.
	ReinitializeWithUpload
)

// String implements fmt.Stringer.
func (t SyncType) String() string {
	switch t {
	case Reinitialize:
		return "Reinitialize"
	case ReinitializeWithUpload:
		return "ReinitializeWithUpload"
	default:
		return "Normal"
	}
}

// SyncWay is the current direction of the active phase.
type SyncWay int

// The recognized directions.
const (
	// Idle is used before the first direction-specific phase runs.
	Idle SyncWay = iota
	// Upload is the client-to-server direction.
	Upload
	// Download is the server-to-client direction.
	Download
)

// String implements fmt.Stringer.
func (w SyncWay) String() string {
	switch w {
	case Upload:
		return "Upload"
	case Download:
		return "Download"
	default:
		return "Idle"
	}
}

// Parameters is an ordered collection of named filter bindings threaded
// into the session at start and applied by providers during change
// selection. Ordering is preserved (unlike a plain map) so that
// providers which render parameters positionally (e.g. into a prepared
// statement) see a stable order.
type Parameters struct {
	names  []string
	values map[string]any
}

// NewParameters builds an empty Parameters collection.
func NewParameters() *Parameters {
	return &Parameters{values: make(map[string]any)}
}

// Set adds or replaces a named parameter, preserving insertion order for
// new names.
func (p *Parameters) Set(name string, value any) {
	if _, exists := p.values[name]; !exists {
		p.names = append(p.names, name)
	}
	p.values[name] = value
}

// Get retrieves a named parameter.
func (p *Parameters) Get(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Names returns the parameter names in insertion order.
func (p *Parameters) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Len returns the number of parameters.
func (p *Parameters) Len() int {
	return len(p.names)
}

// namedParameter is the wire representation of a single Parameters
// entry; MarshalJSON/UnmarshalJSON use a slice of these to carry
// insertion order across a proxy transport, which a plain map would
// lose.
type namedParameter struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (p *Parameters) MarshalJSON() ([]byte, error) {
	out := make([]namedParameter, len(p.names))
	for i, name := range p.names {
		out[i] = namedParameter{Name: name, Value: p.values[name]}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Parameters) UnmarshalJSON(data []byte) error {
	var in []namedParameter
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.names = make([]string, 0, len(in))
	p.values = make(map[string]any, len(in))
	for _, np := range in {
		p.Set(np.Name, np.Value)
	}
	return nil
}

// Counters tallies the aggregate outcome of a session.
type Counters struct {
	TotalChangesUploaded   int
	TotalChangesDownloaded int
	TotalSyncErrors        int
	TotalSyncConflicts     int
}

// SyncContext is the session-scoped value threaded through every
// Provider call. Providers may return an updated copy; callers should
// always use the returned value rather than continue with a stale one.
type SyncContext struct {
	SessionID    scopeid.ID
	StartTime    time.Time
	CompleteTime time.Time

	SyncType SyncType
	SyncWay  SyncWay

	Parameters *Parameters

	Counters Counters
}

// New starts a fresh SyncContext for a session about to begin.
func New(syncType SyncType, params *Parameters) *SyncContext {
	if params == nil {
		params = NewParameters()
	}
	return &SyncContext{
		SessionID:  scopeid.New(),
		StartTime:  time.Now(),
		SyncType:   syncType,
		SyncWay:    Idle,
		Parameters: params,
	}
}

// Clone returns a shallow copy of ctx. Providers that mutate in place
// should call this first so that the orchestrator's in/out discipline
// holds even for providers that don't bother building a new value.
func (c *SyncContext) Clone() *SyncContext {
	cp := *c
	return &cp
}

// Duration returns CompleteTime - StartTime. It is zero until Complete
// is called.
func (c *SyncContext) Duration() time.Duration {
	if c.CompleteTime.IsZero() {
		return 0
	}
	return c.CompleteTime.Sub(c.StartTime)
}

// Complete stamps CompleteTime as now, unless it has already been
// stamped. It is idempotent so that both a session's normal completion
// point and a deferred finalizer that measures duration for a failed
// session can call it safely.
func (c *SyncContext) Complete() {
	if c.CompleteTime.IsZero() {
		c.CompleteTime = time.Now()
	}
}
