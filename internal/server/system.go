package server

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemStats is the host summary reported by /api/health
type SystemStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryPercent float64 `json:"memory_percent,omitempty"`
	MemoryUsedMB  uint64  `json:"memory_used_mb,omitempty"`
	Load1         float64 `json:"load1,omitempty"`
}

// collectSystemStats gathers what the host exposes. Unsupported probes leave
// their fields at zero.
func collectSystemStats(ctx context.Context) SystemStats {
	stats := SystemStats{Goroutines: runtime.NumGoroutine()}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryUsedMB = vm.Used / (1024 * 1024)
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1 = avg.Load1
	}
	return stats
}
