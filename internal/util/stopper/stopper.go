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

// Package stopper implements cooperative goroutine lifecycle management.
// A *stopper.Context is constructed once with
// stopper.WithContext(context.Background()) and consumed elsewhere via
// Go, Stopping, and Done.
package stopper

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Context is a context.Context that also tracks a group of goroutines
// launched with Go, and distinguishes two shutdown phases: Stopping,
// signaled first to ask background work to wind down, and Done (the
// embedded context.Context's own cancellation), signaled once Stop has
// been called and every Go'd goroutine has returned.
type Context struct {
	context.Context

	mu struct {
		sync.Mutex
		err error
	}

	stopping chan struct{}
	stopOnce sync.Once

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WithContext returns a new *Context deriving from parent.
func WithContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		Context:  ctx,
		stopping: make(chan struct{}),
		cancel:   cancel,
	}
}

// Go launches fn in a new goroutine tracked by the Context. If fn
// returns a non-nil error, it is recorded (the first error wins) and the
// Context is stopped.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			if c.mu.err == nil {
				c.mu.err = err
			}
			c.mu.Unlock()
			c.Stop()
		}
	}()
}

// Stopping returns a channel that is closed once Stop has been called,
// signaling background work to begin winding down without yet tearing
// down the context returned by Done.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Stop requests a graceful shutdown: Stopping() fires immediately, and
// once every goroutine launched with Go has returned, the underlying
// context is canceled so Done() fires too.
func (c *Context) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopping)
		go func() {
			c.wg.Wait()
			c.cancel()
		}()
	})
}

// Wait blocks until every goroutine launched with Go has returned, and
// returns the first error any of them reported, if any.
func (c *Context) Wait() error {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.err
}

// ErrStopped is returned by operations that notice a Context is already
// stopping and decline to start new work.
var ErrStopped = errors.New("stopper: context is stopping")
