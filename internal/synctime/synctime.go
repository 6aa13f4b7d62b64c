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

// Package synctime defines the opaque, peer-scoped timestamps used to
// bound change selection. Unlike a hybrid-logical clock, these values
// are comparable only within the peer that produced them: a
// ClientTimestamp and a ServerTimestamp are deliberately distinct Go
// types so that the two cannot be compared or stored in each other's
// place by accident.
package synctime

import "fmt"

// ClientTimestamp is a timestamp sourced from the local (client) peer's
// clock or version store.
type ClientTimestamp int64

// ServerTimestamp is a timestamp sourced from the remote (server) peer's
// clock or version store.
type ServerTimestamp int64

// ZeroClient is the timestamp of a scope that has never synced.
const ZeroClient ClientTimestamp = 0

// ZeroServer is the timestamp of a scope that has never synced.
const ZeroServer ServerTimestamp = 0

// String implements fmt.Stringer.
func (t ClientTimestamp) String() string { return fmt.Sprintf("client@%d", int64(t)) }

// String implements fmt.Stringer.
func (t ServerTimestamp) String() string { return fmt.Sprintf("server@%d", int64(t)) }

// Opaque is the raw, peer-agnostic form of a timestamp as persisted in a
// ScopeInfo record. Providers and stores work in terms of Opaque values;
// the ClientTimestamp/ServerTimestamp distinction exists only at the
// orchestrator layer, where mixing them would be a bug.
type Opaque int64

// ZeroOpaque is the timestamp of a scope that has never synced.
const ZeroOpaque Opaque = 0

// FromClient widens a ClientTimestamp for storage in a ScopeInfo record.
func FromClient(t ClientTimestamp) Opaque { return Opaque(t) }

// FromServer widens a ServerTimestamp for storage in a ScopeInfo record.
func FromServer(t ServerTimestamp) Opaque { return Opaque(t) }

// AsClient narrows an Opaque value back to a ClientTimestamp. Callers
// must only do this for a value that is known to have originated on the
// local peer (i.e., a ScopeInfo record describing the local peer).
func (o Opaque) AsClient() ClientTimestamp { return ClientTimestamp(o) }

// AsServer narrows an Opaque value back to a ServerTimestamp. Callers
// must only do this for a value known to have originated on the remote
// peer.
func (o Opaque) AsServer() ServerTimestamp { return ServerTimestamp(o) }
