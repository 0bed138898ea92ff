// Package storage persists run summaries for history queries and
// cross-network comparison.
package storage

import (
	"context"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// Storage is the persistence interface for completed runs.
type Storage interface {
	// SaveRun persists a completed run summary.
	SaveRun(ctx context.Context, summary types.RunSummary) error

	// GetRun returns one run by ID. A missing run is (nil, nil).
	GetRun(ctx context.Context, id string) (*types.RunSummary, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)

	// LatestByNetwork returns the most recent run for a network under the
	// given operation and mode, for cross-network comparison. No matching
	// history is (nil, nil).
	LatestByNetwork(ctx context.Context, network, operation string, mode types.RunMode) (*types.RunSummary, error)

	// DeleteRun removes one run from history.
	DeleteRun(ctx context.Context, id string) error

	Close() error
}

// PaginatedRuns is one page of run history.
type PaginatedRuns struct {
	Runs   []types.RunSummary `json:"runs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}
