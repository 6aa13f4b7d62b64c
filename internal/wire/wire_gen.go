// This file is maintained by hand, in the shape Wire generates from
// injector.go.

//go:generate go run github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package wire

import (
	"github.com/cockroachdb/dbsync/internal/orchestrator"
)

// Injectors from injector.go:

// NewOrchestrator constructs a direct, database-backed Orchestrator
// syncing localConnect against remoteConnect over the given tables.
func NewOrchestrator(
	localConnect, remoteConnect, scopeName string,
	tables []string,
	observer orchestrator.Observer,
) (*orchestrator.Orchestrator, func(), error) {
	ctx, cleanup, err := ProvideContext()
	if err != nil {
		return nil, nil, err
	}
	diagnostics, cleanup2 := ProvideDiagnostics(ctx)
	localPool, cleanup3, err := ProvideLocalPool(ctx, diagnostics, localConnect)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	remotePool, cleanup4, err := ProvideRemotePool(ctx, diagnostics, remoteConnect)
	if err != nil {
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	localProvider := ProvideLocalProvider(localPool)
	remoteProvider := ProvideRemoteProvider(remotePool)
	orch, err := ProvideOrchestrator(localProvider, remoteProvider, scopeName, tables, observer)
	if err != nil {
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	return orch, func() {
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}
