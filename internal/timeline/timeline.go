// Package timeline orchestrates one resolution run end to end: load the
// project's graph snapshot, resolve dependent start periods, optionally
// persist them, and assemble the response summary.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gridstone/gridstone/internal/ctxlog"
	"github.com/gridstone/gridstone/internal/report"
	"github.com/gridstone/gridstone/internal/schedule"
	"github.com/gridstone/gridstone/internal/store"
)

// ErrValidation is returned (wrapped) by Run when ValidateOnly is set and
// the resolution pass produced any error. The returned summary still
// carries the partial results and the error list.
var ErrValidation = errors.New("timeline: resolution reported errors")

// Options selects the run mode.
type Options struct {
	// DryRun computes and reports without persisting.
	DryRun bool

	// ValidateOnly implies DryRun and additionally fails the run when the
	// resolution pass reports any error.
	ValidateOnly bool
}

// Runner executes resolution runs against one store. Apply-mode runs on
// the same project are serialized; preview runs and runs on different
// projects proceed concurrently.
type Runner struct {
	store *store.Store

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewRunner creates a Runner backed by the given store.
func NewRunner(s *store.Store) *Runner {
	return &Runner{store: s, locks: make(map[int64]*sync.Mutex)}
}

// Run performs one resolution run for a project. Resolution-time problems
// (cycles, dangling references, unknown trigger events) are reported in
// the summary's Errors and do not fail the run, except under
// ValidateOnly. A persistence failure fails the run; nothing is committed.
func (r *Runner) Run(ctx context.Context, projectID int64, opts Options) (*report.Summary, error) {
	logger := ctxlog.FromContext(ctx).With("project_id", projectID)
	ctx = ctxlog.WithLogger(ctx, logger)

	dryRun := opts.DryRun || opts.ValidateOnly

	if !dryRun {
		lock := r.projectLock(projectID)
		lock.Lock()
		defer lock.Unlock()
	}

	graph, err := r.store.LoadGraph(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("timeline: loading project %d: %w", projectID, err)
	}

	result := schedule.Resolve(ctx, graph)
	summary := report.Build(graph, result, dryRun)

	if opts.ValidateOnly && len(result.Errors) > 0 {
		logger.Warn("validate-only run blocked by resolution errors", "errors", len(result.Errors))
		return summary, fmt.Errorf("%w: %d error(s)", ErrValidation, len(result.Errors))
	}

	if dryRun {
		logger.Info("timeline resolved (preview)",
			"items", summary.ItemsProcessed,
			"resolved", summary.DependenciesResolved,
			"warnings", len(summary.Errors))
		return summary, nil
	}

	applied, err := r.store.ApplyResolved(ctx, projectID, result.StartPeriods)
	if err != nil {
		// The transaction rolled back: the stored schedule is unchanged.
		return nil, fmt.Errorf("timeline: applying resolved periods for project %d: %w", projectID, err)
	}
	logger.Info("timeline resolved and applied",
		"items", summary.ItemsProcessed,
		"applied", applied,
		"warnings", len(summary.Errors))
	return summary, nil
}

func (r *Runner) projectLock(projectID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.locks[projectID]; !ok {
		r.locks[projectID] = &sync.Mutex{}
	}
	return r.locks[projectID]
}
