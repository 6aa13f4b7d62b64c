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

// Package syncerr classifies the failures the orchestrator can produce.
package syncerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure.
type Kind int

// The recognized error kinds.
const (
	// Unknown wraps anything that doesn't fit another kind.
	Unknown Kind = iota
	// Cancelled indicates the session was aborted via cancellation.
	Cancelled
	// Protocol indicates a violated invariant, such as an unexpected
	// scope count returned by a peer.
	Protocol
	// Provider indicates a peer operation failed. Stage identifies which
	// phase was running.
	Provider
	// Configuration indicates construction-time misuse of the
	// orchestrator (empty scope name, empty table list, and so on).
	Configuration
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Cancelled:
		return "Cancelled"
	case Protocol:
		return "Protocol"
	case Provider:
		return "Provider"
	case Configuration:
		return "Configuration"
	default:
		return "Unknown"
	}
}

// Stage identifies which phase of the orchestrator was running when a
// Provider error occurred.
type Stage int

// The recognized stages. None is used for errors that aren't tied to a
// specific phase.
const (
	None Stage = iota
	BeginSession
	EnsureScopes
	EnsureSchema
	EnsureDatabase
	SelectingChanges
	ApplyingChanges
	WritingScopes
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case BeginSession:
		return "BeginSession"
	case EnsureScopes:
		return "EnsureScopes"
	case EnsureSchema:
		return "EnsureSchema"
	case EnsureDatabase:
		return "EnsureDatabase"
	case SelectingChanges:
		return "SelectingChanges"
	case ApplyingChanges:
		return "ApplyingChanges"
	case WritingScopes:
		return "WritingScopes"
	default:
		return "None"
	}
}

// Error is a classified, stage-tagged failure raised by the
// orchestrator. It is always constructed with an underlying cause so
// that errors.Unwrap (and so errors.Is/errors.As) reach the original
// error. It has no Cause method, so errors.Cause stops at the *Error.
type Error struct {
	Kind  Kind
	Stage Stage
	cause error
}

var _ error = (*Error)(nil)

// New constructs an Error of the given kind wrapping cause. Stage
// defaults to None; use WithStage to attach one.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Stage: None, cause: cause}
}

// WithStage returns a copy of e tagged with the given stage.
func (e *Error) WithStage(stage Stage) *Error {
	return &Error{Kind: e.Kind, Stage: stage, cause: e.cause}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Stage == None {
		return fmt.Sprintf("%s: %s", e.Kind, e.cause)
	}
	return fmt.Sprintf("%s (stage %s): %s", e.Kind, e.Stage, e.cause)
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Cancelledf builds a Cancelled error.
func Cancelledf(format string, args ...any) *Error {
	return New(Cancelled, errors.Errorf(format, args...))
}

// Protocolf builds a Protocol error.
func Protocolf(format string, args ...any) *Error {
	return New(Protocol, errors.Errorf(format, args...))
}

// Configurationf builds a Configuration error.
func Configurationf(format string, args ...any) *Error {
	return New(Configuration, errors.Errorf(format, args...))
}

// Providerf builds a Provider error tagged with the given stage.
func Providerf(stage Stage, cause error, format string, args ...any) *Error {
	return New(Provider, errors.Wrapf(cause, format, args...)).WithStage(stage)
}

// Is reports whether err is a *Error of the given kind. It follows the
// IsLeaseBusy(err) (*LeaseBusyError, bool) convention used elsewhere in
// this codebase for typed-error predicates.
func Is(err error, kind Kind) (se *Error, ok bool) {
	if errors.As(err, &se) {
		return se, se.Kind == kind
	}
	return nil, false
}

// IsProtocol reports whether err is a Protocol error.
func IsProtocol(err error) bool {
	_, ok := Is(err, Protocol)
	return ok
}

// IsProvider reports whether err is a Provider error, also returning the
// stage it occurred in.
func IsProvider(err error) (stage Stage, ok bool) {
	se, ok := Is(err, Provider)
	if !ok {
		return None, false
	}
	return se.Stage, true
}

// IsCancelled reports whether err represents session cancellation.
func IsCancelled(err error) bool {
	_, ok := Is(err, Cancelled)
	return ok
}

// IsConfiguration reports whether err is a Configuration error.
func IsConfiguration(err error) bool {
	_, ok := Is(err, Configuration)
	return ok
}
