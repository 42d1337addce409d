// Package sysinfo reports host resources used for concurrency defaults and
// the doctor command.
package sysinfo

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mediacheck/mediacheck/internal/errors"
)

// Info is a snapshot of the host.
type Info struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	LogicalCPUs     int    `json:"logical_cpus"`
	PhysicalCPUs    int    `json:"physical_cpus"`
	MemoryTotal     uint64 `json:"memory_total"`
	MemoryAvailable uint64 `json:"memory_available"`
}

// CPUCount returns the number of logical CPUs, falling back to the Go
// runtime's view when the host cannot be queried.
func CPUCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// DefaultConcurrency is half the logical CPUs, at least one.
func DefaultConcurrency() int {
	return max(1, CPUCount()/2)
}

// Collect gathers CPU, memory and host facts. Partial results are returned
// together with the first error encountered.
func Collect(ctx context.Context) (Info, error) {
	info := Info{OS: runtime.GOOS, LogicalCPUs: CPUCount()}
	var first error

	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.PhysicalCPUs = n
	} else {
		first = errors.Wrap(err, "failed to count physical cpus")
	}

	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = v.Total
		info.MemoryAvailable = v.Available
	} else if first == nil {
		first = errors.Wrap(err, "failed to get memory stats")
	}

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform + " " + h.PlatformVersion
	} else if first == nil {
		first = errors.Wrap(err, "failed to get host info")
	}
	return info, first
}
