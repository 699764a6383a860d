package sandbox

import (
	"fmt"

	"github.com/docker/docker/api/types/container"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ResourceLimits caps one container: CPU period (microseconds), memory
// (MiB), and process count.
type ResourceLimits struct {
	CPUPeriod int64 `json:"cpu_period"`
	MemoryMB  int64 `json:"memory_mb"`
	PidsLimit int64 `json:"pids_limit"`
}

// DefaultLimits returns the per-execution defaults: 1,000,000 µs CPU
// period, 100 MiB memory, 500 pids.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		CPUPeriod: 1_000_000,
		MemoryMB:  100,
		PidsLimit: 500,
	}
}

func (rl ResourceLimits) Validate() error {
	if rl.CPUPeriod < 1000 || rl.CPUPeriod > 10_000_000 {
		return fmt.Errorf("%w: cpu_period must be 1000-10000000, got %d", ErrInvalidRequest, rl.CPUPeriod)
	}
	if rl.MemoryMB < 16 || rl.MemoryMB > 16384 {
		return fmt.Errorf("%w: memory_mb must be 16-16384, got %d", ErrInvalidRequest, rl.MemoryMB)
	}
	if rl.PidsLimit < 5 || rl.PidsLimit > 2000 {
		return fmt.Errorf("%w: pids_limit must be 5-2000, got %d", ErrInvalidRequest, rl.PidsLimit)
	}
	return nil
}

// DockerResources translates ResourceLimits into the Docker Engine API's
// container.Resources shape for the primary Docker-SDK backend.
func (rl ResourceLimits) DockerResources() container.Resources {
	memoryBytes := rl.MemoryMB * 1024 * 1024
	return container.Resources{
		CPUPeriod:  rl.CPUPeriod,
		Memory:     memoryBytes,
		MemorySwap: memoryBytes, // no swap beyond the hard limit
		PidsLimit:  &rl.PidsLimit,
	}
}

// ApplyOCIResourceLimits sets CPU/memory/pids limits on an OCI runtime
// spec for the alternate containerd backend.
func ApplyOCIResourceLimits(spec *specs.Spec, limits ResourceLimits) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Linux.Resources == nil {
		spec.Linux.Resources = &specs.LinuxResources{}
	}

	period := uint64(limits.CPUPeriod)
	quota := int64(limits.CPUPeriod) // one full core's worth of quota per period
	spec.Linux.Resources.CPU = &specs.LinuxCPU{
		Period: &period,
		Quota:  &quota,
	}

	memoryBytes := limits.MemoryMB * 1024 * 1024
	spec.Linux.Resources.Memory = &specs.LinuxMemory{
		Limit: &memoryBytes,
		Swap:  &memoryBytes,
	}

	spec.Linux.Resources.Pids = &specs.LinuxPids{
		Limit: limits.PidsLimit,
	}

	spec.Process.Rlimits = []specs.POSIXRlimit{
		{Type: "RLIMIT_NOFILE", Hard: 256, Soft: 256},
		{Type: "RLIMIT_NPROC", Hard: safeUint64(limits.PidsLimit), Soft: safeUint64(limits.PidsLimit)},
		{Type: "RLIMIT_CORE", Hard: 0, Soft: 0},
		{Type: "RLIMIT_STACK", Hard: 8388608, Soft: 8388608},
	}
}

func safeUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
