package report

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// StatusReport is one sample of agent and host status.
type StatusReport struct {
	DeviceID         string    `json:"device_id"`
	ControlState     string    `json:"control_state"`
	Stations         []string  `json:"stations"`
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryUsedBytes  uint64    `json:"memory_used_bytes"`
	MemoryPercent    float64   `json:"memory_percent"`
	StorageUsedBytes uint64    `json:"storage_used_bytes"`
	Timestamp        time.Time `json:"timestamp"`
}

func collectHostStats(ctx context.Context, sampleInterval time.Duration, storagePath string, req *StatusReport) {
	req.CPUPercent = getCPUUsage(ctx, sampleInterval)
	req.MemoryUsedBytes, req.MemoryPercent = getMemoryUsage(ctx)
	if storagePath != "" {
		req.StorageUsedBytes = getStorageUsedBytes(ctx, storagePath)
	}
}

func getCPUUsage(ctx context.Context, sampleInterval time.Duration) float64 {
	if sampleInterval <= 0 {
		return 0
	}
	percents, err := cpu.PercentWithContext(ctx, sampleInterval, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}

func getMemoryUsage(ctx context.Context) (uint64, float64) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0
	}
	return v.Used, v.UsedPercent
}

func getStorageUsedBytes(ctx context.Context, path string) uint64 {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0
	}
	return usage.Used
}
