package worker

import (
	"sync"
	"time"
)

// WorkerInfo is a point-in-time snapshot of one worker pool process,
// surfaced by the admin API's worker listing endpoint.
type WorkerInfo struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ActiveTasks   int       `json:"active_tasks"`
	Workers       int       `json:"workers"`
}

// registry tracks every live Pool in this process. Per-task liveness is
// Storage's job (the heartbeat column plus the recovery manager's
// staleness check); this registry only answers "which worker pools are
// up", which never needs to survive a process restart, so an in-memory
// map replaces the Redis-backed worker directory the distributed
// version used.
var registry = struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}{pools: make(map[string]*Pool)}

func registerPool(p *Pool) {
	registry.mu.Lock()
	registry.pools[p.id] = p
	registry.mu.Unlock()
}

func deregisterPool(p *Pool) {
	registry.mu.Lock()
	delete(registry.pools, p.id)
	registry.mu.Unlock()
}

// PoolByID looks up a registered pool by id, for the admin API's
// pause/resume-by-worker-id endpoints.
func PoolByID(id string) (*Pool, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	p, ok := registry.pools[id]
	return p, ok
}

// ActiveWorkers returns a snapshot of every worker pool registered in
// this process.
func ActiveWorkers() []WorkerInfo {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	infos := make([]WorkerInfo, 0, len(registry.pools))
	for _, p := range registry.pools {
		infos = append(infos, WorkerInfo{
			ID:          p.id,
			State:       p.State().String(),
			StartedAt:   p.startedAt,
			ActiveTasks: p.ActiveTasks(),
			Workers:     p.WorkerCount(),
		})
	}
	return infos
}
