// Package storage keeps the in-memory job registry of a download engine.
package storage

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"medialoader/internal/entity"
	"medialoader/internal/errs"
)

// Registry stores jobs in insertion order. Readers only ever get snapshots.
type Registry struct {
	log *slog.Logger

	mu          sync.RWMutex
	order       []string
	jobs        map[string]*entity.Job        // job UUID : job
	cancelFuncs map[string]context.CancelFunc // job UUID : cancel func
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	return &Registry{
		log:         log.With(slog.String("package", "storage")),
		jobs:        make(map[string]*entity.Job),
		cancelFuncs: make(map[string]context.CancelFunc),
	}
}

// Add registers job at the end of the registry.
func (r *Registry) Add(ctx context.Context, job *entity.Job) error {
	if job == nil || job.ID == "" {
		r.log.ErrorContext(ctx, "add job: nil job")

		return errs.ErrJobNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; !exists {
		r.order = append(r.order, job.ID)
	}

	r.jobs[job.ID] = job

	return nil
}

// Get returns a snapshot of job id.
func (r *Registry) Get(id string) (entity.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return entity.Job{}, false
	}

	return job.Snapshot(), true
}

// List returns snapshots of all jobs in insertion order.
func (r *Registry) List() []entity.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]entity.Job, 0, len(r.order))
	for _, id := range r.order {
		jobs = append(jobs, r.jobs[id].Snapshot())
	}

	return jobs
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

// Update applies fn to job id under the write lock and stamps UpdatedAt.
// It returns the resulting snapshot, or false once the job was removed.
func (r *Registry) Update(id string, fn func(job *entity.Job)) (entity.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return entity.Job{}, false
	}

	fn(job)
	job.UpdatedAt = time.Now()

	return job.Snapshot(), true
}

// RegisterCancelFunc stores a cancel function for a job.
func (r *Registry) RegisterCancelFunc(id string, cancelFunc context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelFuncs[id] = cancelFunc
}

// UnregisterCancelFunc removes the cancel function for a job.
func (r *Registry) UnregisterCancelFunc(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.cancelFuncs, id)
}

// RemoveUnless atomically removes job id unless keep reports true for it.
// It returns the removed snapshot and its cancel function, which may be nil.
func (r *Registry) RemoveUnless(id string, keep func(job entity.Job) bool) (entity.Job, context.CancelFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return entity.Job{}, nil, false
	}

	snap := job.Snapshot()
	if keep != nil && keep(snap) {
		return entity.Job{}, nil, false
	}

	cancelFunc := r.cancelFuncs[id]
	r.removeLocked(id)

	return snap, cancelFunc, true
}

func (r *Registry) removeLocked(id string) {
	delete(r.jobs, id)
	delete(r.cancelFuncs, id)

	r.order = slices.DeleteFunc(r.order, func(orderID string) bool { return orderID == id })
}
