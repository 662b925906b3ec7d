// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"

	"github.com/archon-research/stl-logfeed/internal/domain/entity"
)

// HealthChecker defines the interface for services that can report readiness and liveness.
//
// Implementations:
//   - log_list.Service: ready after the first page of the current network was ingested,
//     healthy while not torn down. HasLiveFeed reports the live subscription, whose
//     absence degrades the list but is not fatal.
type HealthChecker interface {
	IsReady() bool
	IsHealthy() bool
	HasLiveFeed() bool
}

// LogListView is what presentation renders: the ordered logs plus paging state.
type LogListView struct {
	Network     string
	Records     []entity.LogRecord
	HasNextPage bool
	Loading     int64
}

// LogListReader exposes the reconciled log list to presentation adapters.
type LogListReader interface {
	// View returns a consistent copy of the current list.
	View() LogListView

	// FetchNextPage loads the next historical page if a cursor is held.
	FetchNextPage(ctx context.Context)
}

// NetworkSwitcher selects the active network.
type NetworkSwitcher interface {
	Current() string
	Names() []string

	// Select activates the named network. An empty name deselects.
	Select(name string) error
}
