package status

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats describes the machine running the relay.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// ReadHostStats samples CPU and memory usage. Fields that cannot be read stay zero.
func ReadHostStats() *HostStats {
	var h HostStats
	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		h.CPUPercent = percentages[0]
	}
	if v, err := mem.VirtualMemory(); err == nil {
		h.MemoryTotalMB = v.Total / (1024 * 1024)
		h.MemoryUsedMB = v.Used / (1024 * 1024)
		h.MemoryPercent = v.UsedPercent
	}
	return &h
}
