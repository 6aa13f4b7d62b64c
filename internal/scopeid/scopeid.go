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

// Package scopeid defines the 128-bit identifiers used to name
// replication scopes and sync sessions.
package scopeid

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// An ID identifies a ScopeInfo record or a sync session. It is backed by
// a UUID, but callers should treat it as an opaque 128-bit value.
type ID uuid.UUID

// Nil is the zero value of ID.
var Nil = ID(uuid.Nil)

// New returns a fresh, randomly-generated ID.
func New() ID {
	return ID(uuid.New())
}

// Parse decodes the canonical string form of an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, errors.Wrap(err, "parsing id")
	}
	return ID(u), nil
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil returns true if id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}

// Value implements driver.Valuer so an ID can be written directly by a
// database/sql or pgx driver.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

// MarshalJSON implements json.Marshaler, rendering an ID as its
// canonical string form rather than the underlying 16-byte array.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case nil:
		*id = Nil
		return nil
	default:
		return errors.Errorf("scopeid: cannot scan %T into ID", src)
	}
}
