package storage

import (
	"context"
	"log/slog"
	"slices"

	"medialoader/internal/entity"
)

// CleanCompleted removes every Completed job and keeps the order of the rest.
// It returns the number of removed jobs.
func (r *Registry) CleanCompleted(ctx context.Context) int {
	r.mu.Lock()

	before := len(r.order)
	r.order = slices.DeleteFunc(r.order, func(id string) bool {
		if r.jobs[id].Status != entity.JobStatusCompleted {
			return false
		}

		delete(r.jobs, id)
		delete(r.cancelFuncs, id)

		return true
	})
	removed := before - len(r.order)

	r.mu.Unlock()

	r.log.DebugContext(ctx, "removed completed jobs", slog.Int("count", removed))

	return removed
}

// ListAndCleanCompleted returns snapshots of every job in insertion order and
// removes exactly the jobs whose snapshot is Completed, under one lock.
func (r *Registry) ListAndCleanCompleted(ctx context.Context) []entity.Job {
	r.mu.Lock()

	jobs := make([]entity.Job, 0, len(r.order))
	r.order = slices.DeleteFunc(r.order, func(id string) bool {
		snap := r.jobs[id].Snapshot()
		jobs = append(jobs, snap)

		if snap.Status != entity.JobStatusCompleted {
			return false
		}

		delete(r.jobs, id)
		delete(r.cancelFuncs, id)

		return true
	})
	remaining := len(r.order)

	r.mu.Unlock()

	r.log.DebugContext(ctx, "listed jobs and removed completed ones",
		slog.Int("listed", len(jobs)), slog.Int("remaining", remaining))

	return jobs
}
