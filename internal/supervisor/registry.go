package supervisor

import (
	"sort"
	"sync"
	"time"
)

// Registry is the in-memory worker table, an intentionally dumb map guarded
// by one mutex. It only tracks the lifecycle facts the supervisor core
// needs, not connection-level routing state.
// Only the supervisor core holds write access
// (Insert/MarkReady/MarkDraining/Remove); the IPC surface only calls
// Snapshot()/Size().
type Registry struct {
	mu      sync.Mutex
	workers map[int]*WorkerInfo
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[int]*WorkerInfo)}
}

// Insert records a freshly forked worker as Starting.
func (r *Registry) Insert(id, pid int, startTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[id] = &WorkerInfo{ID: id, Pid: pid, State: Starting, StartTime: startTime}
}

// MarkReady transitions a worker to Ready. No-op if the worker is unknown
// (it may have already exited and been removed).
func (r *Registry) MarkReady(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.State = Ready
	}
}

// MarkDraining transitions a worker to Draining.
func (r *Registry) MarkDraining(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.State = Draining
	}
}

// Remove deletes a worker's entry, e.g. on observed process exit.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
}

// Get returns a copy of the WorkerInfo for id, and whether it was found.
func (r *Registry) Get(id int) (WorkerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return WorkerInfo{}, false
	}
	return *w, true
}

// ByPid returns the WorkerInfo tracking pid, and whether it was found.
func (r *Registry) ByPid(pid int) (WorkerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.Pid == pid {
			return *w, true
		}
	}
	return WorkerInfo{}, false
}

// Snapshot returns a defensive copy of every tracked worker, sorted by id,
// so readers (the IPC surface) never observe a torn view of the map.
func (r *Registry) Snapshot() []WorkerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Size returns the number of tracked workers.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Oldest returns the lowest-id worker currently tracked, and whether the
// registry was non-empty. Used by scaleDown, which retires the oldest
// worker.
func (r *Registry) Oldest() (WorkerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *WorkerInfo
	for _, w := range r.workers {
		if oldest == nil || w.ID < oldest.ID {
			oldest = w
		}
	}
	if oldest == nil {
		return WorkerInfo{}, false
	}
	return *oldest, true
}
