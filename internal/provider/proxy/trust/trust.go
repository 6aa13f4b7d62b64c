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

// Package trust authenticates incoming proxy requests. An Authenticator
// is constructed once and handed to the request handler.
package trust

import (
	"crypto/subtle"
	"net/http"
)

// Authenticator decides whether an incoming proxy request is allowed.
type Authenticator struct {
	token string
}

// New returns an Authenticator that requires requests to present token
// as a bearer token. An empty token disables authentication, serving as
// a DisableAuth escape hatch at the call site.
func New(token string) *Authenticator {
	return &Authenticator{token: token}
}

// AllowAll returns an Authenticator that admits every request.
func AllowAll() *Authenticator {
	return New("")
}

// Allow reports whether r carries valid credentials.
func (a *Authenticator) Allow(r *http.Request) bool {
	if a == nil || a.token == "" {
		return true
	}
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	presented := header[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) == 1
}
