package sandbox

import "testing"

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	if l.CPUPeriod != 1_000_000 {
		t.Errorf("CPUPeriod = %d, want 1000000", l.CPUPeriod)
	}
	if l.MemoryMB != 100 {
		t.Errorf("MemoryMB = %d, want 100", l.MemoryMB)
	}
	if l.PidsLimit != 500 {
		t.Errorf("PidsLimit = %d, want 500", l.PidsLimit)
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultLimits().Validate(); err != nil {
		t.Errorf("DefaultLimits().Validate() = %v, want nil", err)
	}

	tests := []struct {
		name   string
		limits ResourceLimits
	}{
		{"cpu period too low", ResourceLimits{CPUPeriod: 1, MemoryMB: 100, PidsLimit: 500}},
		{"memory too low", ResourceLimits{CPUPeriod: 1_000_000, MemoryMB: 1, PidsLimit: 500}},
		{"memory too high", ResourceLimits{CPUPeriod: 1_000_000, MemoryMB: 100000, PidsLimit: 500}},
		{"pids too low", ResourceLimits{CPUPeriod: 1_000_000, MemoryMB: 100, PidsLimit: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.limits.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDockerResources(t *testing.T) {
	l := DefaultLimits()
	r := l.DockerResources()
	if r.Memory != 100*1024*1024 {
		t.Errorf("Memory = %d, want %d", r.Memory, 100*1024*1024)
	}
	if r.CPUPeriod != 1_000_000 {
		t.Errorf("CPUPeriod = %d, want 1000000", r.CPUPeriod)
	}
	if r.PidsLimit == nil || *r.PidsLimit != 500 {
		t.Errorf("PidsLimit = %v, want 500", r.PidsLimit)
	}
}
