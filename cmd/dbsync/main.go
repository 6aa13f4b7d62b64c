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

// Command dbsync runs a single synchronization session between a local
// and a remote database, using a pflag-bound configuration that is
// validated with a Preflight pass before the session starts.
package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/orchestrator"
	"github.com/cockroachdb/dbsync/internal/scope"
	"github.com/cockroachdb/dbsync/internal/synccontext"
	"github.com/cockroachdb/dbsync/internal/syncerr"
	"github.com/cockroachdb/dbsync/internal/wire"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 0 on success or when help is
// requested, 2 for flag, configuration and missing connection-string
// errors, 130 for a cancelled session, and 1 for any other failure, whose
// error is printed to stderr as returned.
func run(args []string) int {
	flags := pflag.NewFlagSet("dbsync", pflag.ContinueOnError)

	var cfg config.Configuration
	cfg.Bind(flags)
	localConnect := flags.String("local", "", "connection string for the local (client) database")
	remoteConnect := flags.String("remote", "", "connection string for the remote (server) database")
	reinitialize := flags.Bool("reinitialize", false, "run the session with sync type Reinitialize (passed to both peers in begin_session)")

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if cfg.ScopeName == "" {
		cfg.ScopeName = scope.DefaultScopeName
	}
	if err := cfg.Preflight(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *localConnect == "" || *remoteConnect == "" {
		fmt.Fprintln(os.Stderr, "both --local and --remote connection strings are required")
		return 2
	}

	observer := orchestrator.ObserverFunc(func(state orchestrator.SessionState) {
		log.WithField("state", state).Info("session state changed")
	})

	orch, cleanup, err := wire.NewOrchestrator(*localConnect, *remoteConnect, cfg.ScopeName, cfg.Tables, observer)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cleanup()

	syncType := synccontext.Normal
	if *reinitialize {
		syncType = synccontext.Reinitialize
	}

	sc, err := orch.Synchronize(context.Background(), syncType)
	if err != nil {
		if syncErr, ok := syncerr.Is(err, syncerr.Cancelled); ok {
			fmt.Fprintln(os.Stderr, syncErr)
			return 130
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log.WithFields(log.Fields{
		"uploaded":   sc.Counters.TotalChangesUploaded,
		"downloaded": sc.Counters.TotalChangesDownloaded,
		"conflicts":  sc.Counters.TotalSyncConflicts,
		"errors":     sc.Counters.TotalSyncErrors,
		"duration":   sc.Duration(),
	}).Info("synchronization complete")
	return 0
}
