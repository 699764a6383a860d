package seccomp

import (
	"encoding/json"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func allowsSyscall(p *specs.LinuxSeccomp, name string) bool {
	for _, rule := range p.Syscalls {
		if rule.Action != specs.ActAllow {
			continue
		}
		for _, n := range rule.Names {
			if n == name {
				return true
			}
		}
	}
	return false
}

func TestCompileProfile_DenyByDefault(t *testing.T) {
	p := CompileProfile()
	if p.DefaultAction != specs.ActErrno {
		t.Errorf("DefaultAction = %v, want ActErrno", p.DefaultAction)
	}
}

func TestCompileProfile_AllowsCompilerSubprocesses(t *testing.T) {
	p := CompileProfile()
	for _, name := range []string{"execve", "fork", "vfork", "clone", "wait4"} {
		if !allowsSyscall(p, name) {
			t.Errorf("compile profile should allow %q (gcc/rustc spawn subprocesses)", name)
		}
	}
}

func TestRunProfile_DeniesExecAndFork(t *testing.T) {
	p := RunProfile()
	for _, name := range []string{"execve", "execveat", "fork", "vfork", "wait4"} {
		if allowsSyscall(p, name) {
			t.Errorf("run profile should not allow %q — the run stage is a single process", name)
		}
	}
}

func TestRunProfile_AllowsCloneForThreading(t *testing.T) {
	p := RunProfile()
	if !allowsSyscall(p, "clone") {
		t.Error("run profile should allow clone for interpreter thread pools")
	}
}

func TestRunProfile_MemfdCreateTrapped(t *testing.T) {
	p := RunProfile()
	found := false
	for _, rule := range p.Syscalls {
		if rule.Action != specs.ActTrap {
			continue
		}
		for _, name := range rule.Names {
			if name == "memfd_create" {
				found = true
			}
		}
	}
	if !found {
		t.Error("memfd_create should be trapped, not silently allowed or denied, in the run profile")
	}
}

func TestProfiles_AuditLogIntrospectionSyscalls(t *testing.T) {
	for _, p := range []*specs.LinuxSeccomp{CompileProfile(), RunProfile()} {
		for _, name := range []string{"sched_getaffinity", "capget"} {
			found := false
			for _, rule := range p.Syscalls {
				if rule.Action != specs.ActLog {
					continue
				}
				for _, n := range rule.Names {
					if n == name {
						found = true
					}
				}
			}
			if !found {
				t.Errorf("%q should be audit-logged (allowed with a kernel log entry)", name)
			}
		}
	}
}

func TestRunNetworkProfile_HasSocketSyscalls(t *testing.T) {
	p := RunNetworkProfile()

	needed := []string{"socket", "connect", "bind"}
	for _, name := range needed {
		if !allowsSyscall(p, name) {
			t.Errorf("network-enabled run profile missing allowed syscall %q", name)
		}
	}
}

func TestRunProfile_NoNetworkSyscalls(t *testing.T) {
	p := RunProfile()
	if allowsSyscall(p, "socket") {
		t.Error("run profile (no network) should not allow 'socket'")
	}
}

func TestDockerProfileJSON_ValidJSON(t *testing.T) {
	for _, jsonFn := range []func() ([]byte, error){CompileProfileJSON, RunProfileJSON, RunNetworkProfileJSON} {
		data, err := jsonFn()
		if err != nil {
			t.Fatalf("profile JSON export: %v", err)
		}

		var dp struct {
			DefaultAction string `json:"defaultAction"`
			Syscalls      []struct {
				Names  []string `json:"names"`
				Action string   `json:"action"`
			} `json:"syscalls"`
		}
		if err := json.Unmarshal(data, &dp); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if dp.DefaultAction != "SCMP_ACT_ERRNO" {
			t.Errorf("defaultAction = %q, want SCMP_ACT_ERRNO", dp.DefaultAction)
		}
		if len(dp.Syscalls) == 0 {
			t.Error("expected syscall rules, got none")
		}
	}
}

func TestProfileBuilder(t *testing.T) {
	p := NewBuilder().AllowSyscalls("read", "write").Build()

	if p.DefaultAction != specs.ActErrno {
		t.Errorf("DefaultAction = %v, want ActErrno", p.DefaultAction)
	}
	if len(p.Syscalls) != 1 {
		t.Fatalf("got %d rules, want 1", len(p.Syscalls))
	}
	rule := p.Syscalls[0]
	if rule.Action != specs.ActAllow {
		t.Errorf("rule Action = %v, want ActAllow", rule.Action)
	}
	if len(rule.Names) != 2 {
		t.Errorf("got %d names, want 2", len(rule.Names))
	}
	if rule.Names[0] != "read" || rule.Names[1] != "write" {
		t.Errorf("names = %v, want [read write]", rule.Names)
	}
}

func TestProfileBuilder_AllowSyscallWithArgs(t *testing.T) {
	p := NewBuilder().AllowSyscallWithArgs("prctl", []SyscallArg{
		{Index: 0, Value: 15, Op: specs.OpEqualTo},
	}).Build()

	if len(p.Syscalls) != 1 {
		t.Fatalf("got %d rules, want 1", len(p.Syscalls))
	}
	rule := p.Syscalls[0]
	if len(rule.Args) != 1 || rule.Args[0].Value != 15 {
		t.Errorf("args = %v, want one arg with value 15", rule.Args)
	}
}
