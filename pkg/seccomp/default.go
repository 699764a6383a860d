package seccomp

import (
	"encoding/json"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// baseSyscalls is the set every stage needs regardless of whether it
// spawns child processes: file I/O, memory management, signals, clocks,
// and the handful of identity/epoll calls the language runtimes and
// compilers both rely on.
func baseSyscalls(b *ProfileBuilder) *ProfileBuilder {
	return b.
		AllowSyscalls(
			"read", "write", "readv", "writev", "pread64", "pwrite64",
			"open", "openat", "close", "lseek",
			"stat", "fstat", "lstat", "newfstatat",
			"access", "faccessat", "faccessat2",
			"dup", "dup2", "dup3",
			"fcntl",
			"poll", "ppoll", "select", "pselect6",
			"pipe", "pipe2",
			"readlink", "readlinkat",
			"getdents64",
		).
		AllowSyscalls(
			"brk", "mmap", "munmap", "mprotect", "mremap",
			"madvise",
		).
		AllowSyscalls(
			"exit", "exit_group",
			"set_tid_address",
			"set_robust_list", "get_robust_list",
		).
		AllowSyscalls(
			"futex",
			"gettid",
			"tgkill",
			"rt_sigaction", "rt_sigprocmask", "rt_sigreturn",
			"sigaltstack",
		).
		AllowSyscalls(
			"clock_gettime", "clock_getres",
			"gettimeofday",
			"nanosleep", "clock_nanosleep",
		).
		AllowSyscalls(
			"getpid", "getppid",
			"getuid", "geteuid",
			"getgid", "getegid",
			"uname",
			"getcwd",
		).
		AllowSyscalls(
			"epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait",
			"eventfd2",
		).
		AllowSyscalls(
			"getrandom",
			"arch_prctl",
			"ioctl",
			"sysinfo",
			"getrlimit", "prlimit64",
			"umask",
			"chmod", "fchmod", "fchmodat",
			"chdir", "fchdir",
			"rename", "renameat", "renameat2",
			"unlink", "unlinkat",
			"mkdir", "mkdirat",
			"rmdir",
			"symlink", "symlinkat",
			"link", "linkat",
			"ftruncate",
			"fallocate",
			"fsync", "fdatasync",
			"flock",
			"statfs", "fstatfs",
			"statx",
			"copy_file_range",
		).
		// prctl restricted to PR_SET_NAME (15) and PR_GET_NAME (16) only
		AllowSyscallWithArgs("prctl", []SyscallArg{
			{Index: 0, Value: 15, Op: specs.OpEqualTo}, // PR_SET_NAME
		}).
		AllowSyscallWithArgs("prctl", []SyscallArg{
			{Index: 0, Value: 16, Op: specs.OpEqualTo}, // PR_GET_NAME
		}).
		// Audit-logged introspection: cpu-affinity and capability reads
		// the language runtimes make at startup. They succeed, but a
		// submission probing its capability set lands in the kernel
		// audit log.
		LogSyscalls("sched_getaffinity", "capget")
}

// compileProcessSyscalls allows the fork/exec/wait cycle a compiler
// toolchain genuinely needs: gcc/c++/rustc invoke cc1/cc1plus/as/ld (or
// rustc's own codegen units) as separate processes and wait for each to
// finish before producing the "code" artifact.
func compileProcessSyscalls(b *ProfileBuilder) *ProfileBuilder {
	return b.AllowSyscalls(
		"execve", "execveat",
		"fork", "vfork",
		"clone", "clone3",
		"wait4", "waitid",
	)
}

// runProcessSyscalls is deliberately narrower than the compile stage's:
// a submission's run stage is a single process — the compiled binary or
// the interpreter — started directly as the container's entrypoint. It
// has no legitimate reason to exec or fork a child; a program that
// tries (monitor.EscapeDetector's *_process_spawn patterns watch for
// the same attempt in the source) is denied at the kernel boundary too.
// clone is still allowed because Python/Node.js use it for in-process
// threads (the GIL worker pool, libuv's thread pool), not for spawning
// new programs.
func runProcessSyscalls(b *ProfileBuilder) *ProfileBuilder {
	return b.AllowSyscalls("clone")
}

func dangerousSyscalls(b *ProfileBuilder) *ProfileBuilder {
	return b.
		TrapSyscalls(
			"ptrace",
			"process_vm_readv", "process_vm_writev",
			"keyctl",
			"add_key", "request_key",
			"bpf",
			"perf_event_open",
			"userfaultfd",
			"memfd_create", // fileless execution: anonymous in-memory files executable via /proc/self/fd
			"kexec_load", "kexec_file_load",
			"finit_module", "init_module", "delete_module",
		).
		BlockSyscalls(
			"mount", "umount2", "pivot_root",
			"reboot",
			"swapon", "swapoff",
			"sethostname", "setdomainname",
			"setns", "unshare",
			"acct",
			"settimeofday", "adjtimex", "clock_adjtime",
			"nfsservctl",
			"personality",
			"lookup_dcookie",
			"ioperm", "iopl",
		)
}

// CompileProfile is the deny-by-default seccomp profile for the compile
// stage: base syscalls plus the fork/exec/wait cycle gcc/c++/rustc need
// to run their subprocesses.
func CompileProfile() *specs.LinuxSeccomp {
	b := NewBuilder()
	b = baseSyscalls(b)
	b = compileProcessSyscalls(b)
	b = dangerousSyscalls(b)
	return b.Build()
}

// RunProfile is the deny-by-default seccomp profile for the run stage:
// the same base syscalls, but no execve/fork/wait4 — the run stage is
// one process end to end.
func RunProfile() *specs.LinuxSeccomp {
	b := NewBuilder()
	b = baseSyscalls(b)
	b = runProcessSyscalls(b)
	b = dangerousSyscalls(b)
	return b.Build()
}

// dockerSeccompProfile mirrors the Docker daemon's seccomp profile JSON format.
type dockerSeccompProfile struct {
	DefaultAction string              `json:"defaultAction"`
	Architectures []string            `json:"architectures"`
	Syscalls      []dockerSeccompRule `json:"syscalls"`
}

type dockerSeccompRule struct {
	Names  []string           `json:"names"`
	Action string             `json:"action"`
	Args   []dockerSeccompArg `json:"args,omitempty"`
}

type dockerSeccompArg struct {
	Index uint   `json:"index"`
	Value uint64 `json:"value"`
	Op    string `json:"op"`
}

// CompileProfileJSON exports CompileProfile as Docker-format JSON
// suitable for --security-opt seccomp=<path>.
func CompileProfileJSON() ([]byte, error) {
	return profileToDockerJSON(CompileProfile())
}

// RunProfileJSON exports RunProfile as Docker-format JSON.
func RunProfileJSON() ([]byte, error) {
	return profileToDockerJSON(RunProfile())
}

// RunNetworkProfileJSON exports the network-enabled run-stage allowlist
// as Docker-format JSON.
func RunNetworkProfileJSON() ([]byte, error) {
	return profileToDockerJSON(RunNetworkProfile())
}

func profileToDockerJSON(profile *specs.LinuxSeccomp) ([]byte, error) {
	actionMap := map[specs.LinuxSeccompAction]string{
		specs.ActAllow: "SCMP_ACT_ALLOW",
		specs.ActErrno: "SCMP_ACT_ERRNO",
		specs.ActTrap:  "SCMP_ACT_TRAP",
		specs.ActLog:   "SCMP_ACT_LOG",
		specs.ActKill:  "SCMP_ACT_KILL",
	}
	archMap := map[specs.Arch]string{
		specs.ArchX86_64:  "SCMP_ARCH_X86_64",
		specs.ArchAARCH64: "SCMP_ARCH_AARCH64",
		specs.ArchX86:     "SCMP_ARCH_X86",
		specs.ArchARM:     "SCMP_ARCH_ARM",
	}
	opMap := map[specs.LinuxSeccompOperator]string{
		specs.OpEqualTo:      "SCMP_CMP_EQ",
		specs.OpNotEqual:     "SCMP_CMP_NE",
		specs.OpGreaterThan:  "SCMP_CMP_GT",
		specs.OpGreaterEqual: "SCMP_CMP_GE",
		specs.OpLessThan:     "SCMP_CMP_LT",
		specs.OpLessEqual:    "SCMP_CMP_LE",
		specs.OpMaskedEqual:  "SCMP_CMP_MASKED_EQ",
	}

	dp := dockerSeccompProfile{
		DefaultAction: actionMap[profile.DefaultAction],
	}
	for _, a := range profile.Architectures {
		if s, ok := archMap[a]; ok {
			dp.Architectures = append(dp.Architectures, s)
		}
	}
	for _, sc := range profile.Syscalls {
		rule := dockerSeccompRule{
			Names:  sc.Names,
			Action: actionMap[sc.Action],
		}
		for _, arg := range sc.Args {
			rule.Args = append(rule.Args, dockerSeccompArg{
				Index: arg.Index,
				Value: arg.Value,
				Op:    opMap[arg.Op],
			})
		}
		dp.Syscalls = append(dp.Syscalls, rule)
	}
	return json.Marshal(dp)
}

// RunNetworkProfile adds socket/connect/bind to RunProfile for the rare
// deployment that enables network access for the run stage (an image
// override may point at an image that needs it).
func RunNetworkProfile() *specs.LinuxSeccomp {
	b := NewBuilder()
	b = baseSyscalls(b)
	b = runProcessSyscalls(b)

	b.AllowSyscalls(
		"socket", "connect", "bind", "listen", "accept", "accept4",
		"sendto", "recvfrom", "sendmsg", "recvmsg",
		"getsockopt", "setsockopt",
		"getsockname", "getpeername",
		"shutdown",
	)

	b = dangerousSyscalls(b)
	return b.Build()
}
