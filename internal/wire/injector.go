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

//go:build wireinject
// +build wireinject

package wire

import (
	"github.com/google/wire"

	"github.com/cockroachdb/dbsync/internal/orchestrator"
)

// NewOrchestrator constructs a direct, database-backed Orchestrator
// syncing localConnect against remoteConnect over the given tables.
// This declaration is only compiled by `go run
// github.com/google/wire/cmd/wire`; wire_gen.go carries the
// hand-maintained equivalent this module ships.
func NewOrchestrator(
	localConnect, remoteConnect, scopeName string,
	tables []string,
	observer orchestrator.Observer,
) (*orchestrator.Orchestrator, func(), error) {
	panic(wire.Build(Set, ProvideOrchestrator))
}
