package sandbox

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/oj-platform/exec-worker/pkg/seccomp"
)

type SecurityProfile struct {
	Seccomp       *specs.LinuxSeccomp
	Capabilities  []string
	Namespaces    []specs.LinuxNamespace
	MaskedPaths   []string
	ReadonlyPaths []string
}

// DefaultSecurityProfile returns the profile for stage with no network
// access: CompileProfile for the compile stage (which needs to fork/exec
// the compiler's own subprocesses) and RunProfile for the run stage
// (a single process end to end).
func DefaultSecurityProfile(stage Stage) SecurityProfile {
	sc := seccomp.RunProfile()
	if stage == StageCompile {
		sc = seccomp.CompileProfile()
	}
	return SecurityProfile{
		Seccomp:      sc,
		Capabilities: []string{},
		Namespaces: []specs.LinuxNamespace{
			{Type: specs.PIDNamespace},
			{Type: specs.NetworkNamespace},
			{Type: specs.MountNamespace},
			{Type: specs.UTSNamespace},
			{Type: specs.IPCNamespace},
			{Type: specs.UserNamespace},
		},
		MaskedPaths: []string{
			"/proc/acpi",
			"/proc/kcore",
			"/proc/keys",
			"/proc/latency_stats",
			"/proc/timer_list",
			"/proc/timer_stats",
			"/proc/sched_debug",
			"/proc/scsi",
			"/sys/firmware",
			"/sys/devices/virtual/powercap",
		},
		ReadonlyPaths: []string{
			"/proc/asound",
			"/proc/bus",
			"/proc/fs",
			"/proc/irq",
			"/proc/sys",
			"/proc/sysrq-trigger",
		},
	}
}

// NetworkAllowedSecurityProfile is the run-stage profile with network
// syscalls allowed. Only the run stage ever needs network (a profile
// override image that fetches something at startup); the compile stage
// never does.
func NetworkAllowedSecurityProfile() SecurityProfile {
	profile := DefaultSecurityProfile(StageRun)
	profile.Seccomp = seccomp.RunNetworkProfile()
	return profile
}

// ApplySecurityProfile applies profile to an OCI spec, for the
// containerd backend.
func ApplySecurityProfile(spec *specs.Spec, profile SecurityProfile) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Process == nil {
		spec.Process = &specs.Process{}
	}
	if spec.Process.Capabilities == nil {
		spec.Process.Capabilities = &specs.LinuxCapabilities{}
	}

	spec.Linux.Seccomp = profile.Seccomp
	spec.Process.Capabilities.Bounding = profile.Capabilities
	spec.Process.Capabilities.Effective = profile.Capabilities
	spec.Process.Capabilities.Inheritable = profile.Capabilities
	spec.Process.Capabilities.Permitted = profile.Capabilities
	spec.Process.Capabilities.Ambient = profile.Capabilities

	spec.Linux.Namespaces = profile.Namespaces
	spec.Linux.MaskedPaths = profile.MaskedPaths
	spec.Linux.ReadonlyPaths = profile.ReadonlyPaths

	spec.Process.NoNewPrivileges = true
	spec.Process.User = specs.User{
		UID: 65534,
		GID: 65534,
	}

	if spec.Root != nil {
		spec.Root.Readonly = true
	}
}

// DockerSecurityOpts returns the --security-opt seccomp=<json> value and
// the capability-drop list for the Docker-SDK backend. stage selects the
// compile vs. run syscall allowlist; network additionally allows socket
// syscalls for the run stage (an image override may need it; the
// compile stage never does).
func DockerSecurityOpts(stage Stage, network bool) (securityOpt string, capDrop []string, err error) {
	var profileJSON []byte
	switch {
	case stage == StageCompile:
		profileJSON, err = seccomp.CompileProfileJSON()
	case network:
		profileJSON, err = seccomp.RunNetworkProfileJSON()
	default:
		profileJSON, err = seccomp.RunProfileJSON()
	}
	if err != nil {
		return "", nil, err
	}
	return "seccomp=" + string(profileJSON), []string{"ALL"}, nil
}
