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

// Package proxy carries Provider calls across an HTTP transport, for
// the "proxy" construction variant where the caller supplies only a
// reachable remote endpoint rather than a capability-negotiated peer.
//
// The wire shape (a small envelope carrying an operation name, the
// SyncContext, and a JSON payload) is a SyncRequest/SyncResponse pair
// marshaled with encoding/json and POSTed with a context-scoped
// *http.Client.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/message"
	"github.com/cockroachdb/dbsync/internal/provider"
	"github.com/cockroachdb/dbsync/internal/provider/proxy/trust"
	"github.com/cockroachdb/dbsync/internal/scope"
	"github.com/cockroachdb/dbsync/internal/synccontext"
	"github.com/cockroachdb/dbsync/internal/types"
)

// The operation names carried in a wireRequest, one per Provider method.
const (
	opBeginSession     = "begin_session"
	opEndSession       = "end_session"
	opEnsureScopes     = "ensure_scopes"
	opEnsureSchema     = "ensure_schema"
	opEnsureDatabase   = "ensure_database"
	opGetLocalTime     = "get_local_timestamp"
	opGetChangeBatch   = "get_change_batch"
	opApplyChanges     = "apply_changes"
	opWriteScopes      = "write_scopes"
)

// wireRequest is the envelope POSTed for every operation.
type wireRequest struct {
	Op      string                   `json:"op"`
	Context *synccontext.SyncContext `json:"context"`
	Payload json.RawMessage          `json:"payload"`
}

// wireResponse is the envelope returned for every operation. Error is
// populated, and Payload left empty, when the target Provider call
// failed.
type wireResponse struct {
	Context *synccontext.SyncContext `json:"context"`
	Payload json.RawMessage          `json:"payload,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// Config binds the network settings for a proxy server, using the same
// Bind/Preflight shape as the rest of the configuration surface.
type Config struct {
	BindAddr    string
	BearerToken string
}

// Bind registers the proxy's flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.BindAddr, "proxyBindAddr", ":26258",
		"the network address the proxy server listens on")
	flags.StringVar(&c.BearerToken, "proxyToken", "",
		"the bearer token incoming proxy requests must present")
}

// Preflight validates the proxy configuration.
func (c *Config) Preflight() error {
	if c.BindAddr == "" {
		return errors.New("proxyBindAddr unset")
	}
	return nil
}

// getChangeBatchResult and applyChangesPayload carry a materialized row
// slice in place of the types.BatchInfo of their in-process counterparts,
// since BatchInfo is a local resource handle (possibly backed by an open
// file) and not itself serializable. Client.ApplyChanges clears the
// message's Changes field before sending; the Handler rebuilds it from
// Rows.
type getChangeBatchPayload struct {
	message.GetChangesBatch
}

type getChangeBatchResult struct {
	Rows     []types.ChangeRow             `json:"rows"`
	Selected types.DatabaseChangesSelected `json:"selected"`
}

type applyChangesPayload struct {
	message.ApplyChanges
	Rows []types.ChangeRow `json:"rows"`
}

// Client implements provider.RemoteProvider by forwarding every call
// over HTTP to a Handler listening at baseURL.
type Client struct {
	provider.BaseRemote

	baseURL string
	token   string
	http    *http.Client

	cancel   <-chan struct{}
	progress provider.ProgressSink
	mutator  provider.ConfigMutator
}

var _ provider.RemoteProvider = (*Client)(nil)

// NewClient returns a Client posting requests to baseURL, authenticated
// with token (sent as a bearer token; pass "" to disable).
func NewClient(baseURL, token string) *Client {
	return &Client{baseURL: baseURL, token: token, http: &http.Client{}}
}

// IsServer reports false: a proxy endpoint is reached over a transport
// the orchestrator cannot capability-negotiate with ahead of time, so it
// is never eligible for the direct/tables-aware construction variant;
// only NewProxy may use it.
func (c *Client) IsServer() bool { return false }

func (c *Client) SetCancellation(token <-chan struct{})          { c.cancel = token }
func (c *Client) SetProgress(sink provider.ProgressSink)         { c.progress = sink }
func (c *Client) SetConfiguration(mutate provider.ConfigMutator) { c.mutator = mutate }

func (c *Client) call(ctx context.Context, op string, sc *synccontext.SyncContext, payload any) (*synccontext.SyncContext, json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return sc, nil, errors.Wrapf(err, "could not marshal %s payload", op)
	}
	req := wireRequest{Op: op, Context: sc, Payload: body}
	reqBody, err := json.Marshal(req)
	if err != nil {
		return sc, nil, errors.Wrapf(err, "could not marshal %s request", op)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return sc, nil, errors.Wrapf(err, "could not build %s request", op)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return sc, nil, errors.Wrapf(err, "%s request failed", op)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return sc, nil, errors.Wrapf(err, "could not read %s response", op)
	}
	if resp.StatusCode != http.StatusOK {
		return sc, nil, errors.Errorf("%s returned HTTP %d: %s", op, resp.StatusCode, string(respBytes))
	}

	var wire wireResponse
	if err := json.Unmarshal(respBytes, &wire); err != nil {
		return sc, nil, errors.Wrapf(err, "could not decode %s response", op)
	}
	if wire.Error != "" {
		return wire.Context, nil, errors.New(wire.Error)
	}
	return wire.Context, wire.Payload, nil
}

// BeginSession implements provider.Provider.
func (c *Client) BeginSession(ctx context.Context, sc *synccontext.SyncContext, msg message.BeginSession) (*synccontext.SyncContext, config.Configuration, error) {
	sc, raw, err := c.call(ctx, opBeginSession, sc, msg)
	if err != nil {
		return sc, config.Configuration{}, err
	}
	var cfg config.Configuration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return sc, config.Configuration{}, errors.Wrap(err, "could not decode begin_session result")
	}
	return sc, cfg, nil
}

// EndSession implements provider.Provider.
func (c *Client) EndSession(ctx context.Context, sc *synccontext.SyncContext) (*synccontext.SyncContext, error) {
	sc, _, err := c.call(ctx, opEndSession, sc, struct{}{})
	return sc, err
}

// EnsureScopes implements provider.Provider.
func (c *Client) EnsureScopes(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureScopes) (*synccontext.SyncContext, []scope.Info, error) {
	sc, raw, err := c.call(ctx, opEnsureScopes, sc, msg)
	if err != nil {
		return sc, nil, err
	}
	var infos []scope.Info
	if err := json.Unmarshal(raw, &infos); err != nil {
		return sc, nil, errors.Wrap(err, "could not decode ensure_scopes result")
	}
	return sc, infos, nil
}

// EnsureSchema implements provider.Provider.
func (c *Client) EnsureSchema(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureSchema) (*synccontext.SyncContext, config.Schema, error) {
	sc, raw, err := c.call(ctx, opEnsureSchema, sc, msg)
	if err != nil {
		return sc, config.Schema{}, err
	}
	var schema config.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return sc, config.Schema{}, errors.Wrap(err, "could not decode ensure_schema result")
	}
	return sc, schema, nil
}

// EnsureDatabase implements provider.Provider.
func (c *Client) EnsureDatabase(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureDatabase) (*synccontext.SyncContext, error) {
	sc, _, err := c.call(ctx, opEnsureDatabase, sc, msg)
	return sc, err
}

// GetLocalTimestamp implements provider.Provider.
func (c *Client) GetLocalTimestamp(ctx context.Context, sc *synccontext.SyncContext, msg message.Timestamp) (*synccontext.SyncContext, int64, error) {
	sc, raw, err := c.call(ctx, opGetLocalTime, sc, msg)
	if err != nil {
		return sc, 0, err
	}
	var ts int64
	if err := json.Unmarshal(raw, &ts); err != nil {
		return sc, 0, errors.Wrap(err, "could not decode get_local_timestamp result")
	}
	return sc, ts, nil
}

// GetChangeBatch implements provider.Provider.
func (c *Client) GetChangeBatch(ctx context.Context, sc *synccontext.SyncContext, msg message.GetChangesBatch) (*synccontext.SyncContext, types.BatchInfo, types.DatabaseChangesSelected, error) {
	sc, raw, err := c.call(ctx, opGetChangeBatch, sc, getChangeBatchPayload{GetChangesBatch: msg})
	if err != nil {
		return sc, nil, types.DatabaseChangesSelected{}, err
	}
	var result getChangeBatchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return sc, nil, types.DatabaseChangesSelected{}, errors.Wrap(err, "could not decode get_change_batch result")
	}
	return sc, types.NewMemoryBatch(result.Rows), result.Selected, nil
}

// ApplyChanges implements provider.Provider.
func (c *Client) ApplyChanges(ctx context.Context, sc *synccontext.SyncContext, msg message.ApplyChanges) (*synccontext.SyncContext, types.DatabaseChangesApplied, error) {
	rows, err := msg.Changes.Rows()
	if err != nil {
		return sc, types.DatabaseChangesApplied{}, errors.Wrap(err, "could not read staged changes")
	}
	msg.Changes = nil
	sc, raw, err := c.call(ctx, opApplyChanges, sc, applyChangesPayload{ApplyChanges: msg, Rows: rows})
	if err != nil {
		return sc, types.DatabaseChangesApplied{}, err
	}
	var applied types.DatabaseChangesApplied
	if err := json.Unmarshal(raw, &applied); err != nil {
		return sc, types.DatabaseChangesApplied{}, errors.Wrap(err, "could not decode apply_changes result")
	}
	return sc, applied, nil
}

// WriteScopes implements provider.Provider.
func (c *Client) WriteScopes(ctx context.Context, sc *synccontext.SyncContext, msg message.WriteScopes) (*synccontext.SyncContext, error) {
	sc, _, err := c.call(ctx, opWriteScopes, sc, msg)
	return sc, err
}

// Handler serves a target Provider over HTTP, the server side of the
// proxy transport. It authenticates every request with auth before
// dispatching; auth checking can be disabled by constructing it with
// trust.AllowAll().
type Handler struct {
	target provider.RemoteProvider
	auth   *trust.Authenticator
}

var _ http.Handler = (*Handler)(nil)

// NewHandler returns a Handler dispatching to target, authenticated by
// auth (pass trust.AllowAll() to disable authentication).
func NewHandler(target provider.RemoteProvider, auth *trust.Authenticator) *Handler {
	return &Handler{target: target, auth: auth}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.auth.Allow(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req wireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sc, payload, err := h.dispatch(r.Context(), req)
	resp := wireResponse{Context: sc}
	if err != nil {
		resp.Error = err.Error()
		log.WithError(err).WithField("op", req.Op).Warn("proxy operation failed")
	} else {
		resp.Payload = payload
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithError(err).Warn("could not encode proxy response")
	}
}

func (h *Handler) dispatch(ctx context.Context, req wireRequest) (*synccontext.SyncContext, json.RawMessage, error) {
	switch req.Op {
	case opBeginSession:
		var msg message.BeginSession
		if err := json.Unmarshal(req.Payload, &msg); err != nil {
			return req.Context, nil, err
		}
		sc, cfg, err := h.target.BeginSession(ctx, req.Context, msg)
		return sc, encode(cfg), err
	case opEndSession:
		sc, err := h.target.EndSession(ctx, req.Context)
		return sc, nil, err
	case opEnsureScopes:
		var msg message.EnsureScopes
		if err := json.Unmarshal(req.Payload, &msg); err != nil {
			return req.Context, nil, err
		}
		sc, infos, err := h.target.EnsureScopes(ctx, req.Context, msg)
		return sc, encode(infos), err
	case opEnsureSchema:
		var msg message.EnsureSchema
		if err := json.Unmarshal(req.Payload, &msg); err != nil {
			return req.Context, nil, err
		}
		sc, schema, err := h.target.EnsureSchema(ctx, req.Context, msg)
		return sc, encode(schema), err
	case opEnsureDatabase:
		var msg message.EnsureDatabase
		if err := json.Unmarshal(req.Payload, &msg); err != nil {
			return req.Context, nil, err
		}
		sc, err := h.target.EnsureDatabase(ctx, req.Context, msg)
		return sc, nil, err
	case opGetLocalTime:
		var msg message.Timestamp
		if err := json.Unmarshal(req.Payload, &msg); err != nil {
			return req.Context, nil, err
		}
		sc, ts, err := h.target.GetLocalTimestamp(ctx, req.Context, msg)
		return sc, encode(ts), err
	case opGetChangeBatch:
		var payload getChangeBatchPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return req.Context, nil, err
		}
		sc, batch, selected, err := h.target.GetChangeBatch(ctx, req.Context, payload.GetChangesBatch)
		if err != nil {
			return sc, nil, err
		}
		rows, rerr := batch.Rows()
		if rerr != nil {
			return sc, nil, rerr
		}
		return sc, encode(getChangeBatchResult{Rows: rows, Selected: selected}), nil
	case opApplyChanges:
		var payload applyChangesPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return req.Context, nil, err
		}
		payload.ApplyChanges.Changes = types.NewMemoryBatch(payload.Rows)
		sc, applied, err := h.target.ApplyChanges(ctx, req.Context, payload.ApplyChanges)
		return sc, encode(applied), err
	case opWriteScopes:
		var msg message.WriteScopes
		if err := json.Unmarshal(req.Payload, &msg); err != nil {
			return req.Context, nil, err
		}
		sc, err := h.target.WriteScopes(ctx, req.Context, msg)
		return sc, nil, err
	default:
		return req.Context, nil, fmt.Errorf("unknown proxy operation %q", req.Op)
	}
}

func encode(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Warn("could not encode proxy payload")
		return json.RawMessage("null")
	}
	return raw
}
