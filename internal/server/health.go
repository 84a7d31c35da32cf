package server

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status       string            `json:"status"`
	Uptime       string            `json:"uptime"`
	Goroutines   int               `json:"goroutines"`
	Memory       *MemoryStats      `json:"memory,omitempty"`
	Queue        map[string]int64  `json:"queue,omitempty"`
	QueueError   string            `json:"queue_error,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// MemoryStats reports host and process memory
type MemoryStats struct {
	HostTotalBytes     uint64  `json:"host_total_bytes"`
	HostAvailableBytes uint64  `json:"host_available_bytes"`
	HostUsedPercent    float64 `json:"host_used_percent"`
	HeapAllocBytes     uint64  `json:"heap_alloc_bytes"`
}

const dependencyCheckTimeout = 5 * time.Second

// handleHealth reports liveness and, when a queue is configured, its backlog.
// With ?deep=true it also probes collaborators. Any failure reports "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Memory:     memoryStats(r.Context()),
	}

	if s.config.Queue != nil {
		ctx, cancel := context.WithTimeout(r.Context(), dependencyCheckTimeout)
		stats, err := s.config.Queue.Stats(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("Queue stats unavailable", "error", err)
			resp.Status = "degraded"
			resp.QueueError = err.Error()
		} else {
			resp.Queue = stats
		}
	}

	if deep := r.URL.Query().Get("deep"); deep == "true" || deep == "1" {
		resp.Dependencies = s.checkDependencies(r.Context())
		for _, state := range resp.Dependencies {
			if state != "ok" {
				resp.Status = "degraded"
				break
			}
		}
	}

	respondJSON(w, resp, http.StatusOK)
}

func (s *Server) checkDependencies(ctx context.Context) map[string]string {
	names := make([]string, 0, len(s.config.Dependencies))
	for name := range s.config.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	states := make(map[string]string, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, dependencyCheckTimeout)
		err := s.config.Dependencies[name].HealthCheck(checkCtx)
		cancel()
		if err != nil {
			s.logger.Warn("Dependency health check failed", "dependency", name, "error", err)
			states[name] = err.Error()
			continue
		}
		states[name] = "ok"
	}
	return states
}

func memoryStats(ctx context.Context) *MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := &MemoryStats{HeapAllocBytes: ms.HeapAlloc}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.HostTotalBytes = vm.Total
		stats.HostAvailableBytes = vm.Available
		stats.HostUsedPercent = vm.UsedPercent
	}
	return stats
}
