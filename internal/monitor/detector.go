package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// EscapeDetector scans a submission's source (pre-execution) and its
// captured stdout/stderr (post-execution) for signs the program is
// probing for, or has found, a way out of the sandbox. It runs
// alongside — never instead of — the seccomp/capability containment in
// pkg/seccomp; a detection never blocks execution, it only surfaces a
// security event for the judge's operators.
type EscapeDetector struct {
	universal []DetectionPattern
	perLang   map[string][]DetectionPattern
}

// DetectionPattern defines a suspicious pattern to match against one
// line of source.
type DetectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity levels for detected threats.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection represents one matched pattern.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// NewEscapeDetector creates a detector pre-populated with the patterns
// common to every submission plus the per-language escape constructs
// for the Language Profile Registry's five languages.
func NewEscapeDetector() *EscapeDetector {
	return &EscapeDetector{
		universal: universalPatterns(),
		perLang:   languagePatterns(),
	}
}

// AnalyzeCode checks a (post-substitution) submission source against
// the universal patterns and the patterns specific to language, before
// the Executor ever creates a container for it.
func (d *EscapeDetector) AnalyzeCode(language, code string) []Detection {
	patterns := d.universal
	if lp, ok := d.perLang[language]; ok {
		patterns = append(append([]DetectionPattern{}, d.universal...), lp...)
	}

	var detections []Detection
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, p := range patterns {
			if p.Regex.MatchString(line) {
				detections = append(detections, Detection{
					Pattern:  p.Name,
					Severity: p.Severity.String(),
					Detail:   p.Description,
					Line:     i + 1,
				})

				log.Warn().
					Str("pattern", p.Name).
					Str("severity", p.Severity.String()).
					Str("language", language).
					Int("line", i+1).
					Msg("escape attempt detected in submission source")
			}
		}
	}

	return detections
}

// AnalyzeOutput checks captured stdout/stderr for signs a program
// actually reached something it shouldn't have: the host's credentials,
// the bind-mounted workdir outside its sandbox view, or the container
// runtime socket this very worker talks to.
func (d *EscapeDetector) AnalyzeOutput(output string) []Detection {
	var detections []Detection

	for _, p := range outputPatterns() {
		if p.regex.MatchString(output) {
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.sev.String(),
				Detail:   "suspicious content in captured output: " + p.name,
			})

			log.Warn().
				Str("pattern", p.name).
				Str("severity", p.sev.String()).
				Msg("escape attempt detected in captured output")
		}
	}

	return detections
}

type outputPattern struct {
	name  string
	regex *regexp.Regexp
	sev   Severity
}

// outputPatterns targets leaks specific to this deployment: the
// RabbitMQ/Redis credentials injected by internal/broker and
// internal/store, the /workspace bind-mount point internal/sandbox
// uses for every container, and the runtime socket the Docker/
// containerd backends hold open.
func outputPatterns() []outputPattern {
	return []outputPattern{
		{"rabbitmq_credential_leak", regexp.MustCompile(`amqps?://[^:\s]+:[^@\s]+@`), SeverityCritical},
		{"redis_password_leak", regexp.MustCompile(`REDIS_PASSWORD|RABBITMQ_PASSWORD`), SeverityCritical},
		{"workdir_escape", regexp.MustCompile(`/workspace/\.\./|/workspace/\.\.\\`), SeverityHigh},
		{"docker_socket", regexp.MustCompile(`docker\.sock`), SeverityCritical},
		{"containerd_socket", regexp.MustCompile(`containerd\.sock|containerd\.ttrpc`), SeverityCritical},
		{"root_passwd_leak", regexp.MustCompile(`root:x:0:0`), SeverityCritical},
		{"kernel_version_leak", regexp.MustCompile(`Linux version \d`), SeverityHigh},
		{"metadata_service_leak", regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`), SeverityHigh},
	}
}

// universalPatterns fire regardless of submission language: they match
// filesystem paths and shell fragments, not language syntax.
func universalPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "proc_self_access",
			Description: "accessing /proc/self to inspect this worker process",
			Regex:       regexp.MustCompile(`/proc/self/(root|exe|fd|ns|maps|status|environ)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "cgroup_release_agent",
			Description: "writing cgroup release_agent, a known container breakout primitive",
			Regex:       regexp.MustCompile(`/sys/fs/cgroup|notify_on_release|release_agent`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "runtime_socket_access",
			Description: "reaching for the Docker/containerd socket this worker itself uses",
			Regex:       regexp.MustCompile(`/var/run/docker\.sock|/var/run/containerd|/run/containerd`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "workdir_traversal",
			Description: "path traversal out of the bind-mounted /workspace",
			Regex:       regexp.MustCompile(`\.\./\.\./\.\./|/workspace/\.\.`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "kernel_exploit",
			Description: "referencing a known kernel exploit class",
			Regex:       regexp.MustCompile(`(?i)(dirty.?cow|dirty.?pipe|over(lay|l)fs|userfaultfd)`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "metadata_service",
			Description: "probing a cloud metadata endpoint from inside the container",
			Regex:       regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "reverse_shell",
			Description: "constructing a reverse shell back out of the sandbox",
			Regex:       regexp.MustCompile(`(?i)(nc|ncat|netcat|socat)\s+.*-[elp]|/dev/tcp/|bash\s+-i\s+>&`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "capability_abuse",
			Description: "attempting to regain a capability internal/sandbox's CapDrop already denies",
			Regex:       regexp.MustCompile(`(?i)(cap_sys_admin|cap_net_raw|setcap|getcap|capsh)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "ptrace_attempt",
			Description: "attempting ptrace, blocked by the run-stage seccomp profile",
			Regex:       regexp.MustCompile(`(?i)(ptrace|process_vm_readv|process_vm_writev|PTRACE_ATTACH)`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "judge_endpoint_probe",
			Description: "reaching for the judge HTTP endpoint rather than this input's stdin",
			Regex:       regexp.MustCompile(`:\d+/judge\b`),
			Severity:    SeverityMedium,
		},
	}
}

// languagePatterns covers the process-spawn and raw-syscall constructs
// each of the five registered languages uses to step outside its
// runtime sandbox — the textual universal patterns above can't see
// these because they're ordinary library calls, not filesystem paths.
func languagePatterns() map[string][]DetectionPattern {
	return map[string][]DetectionPattern{
		"c": {
			{
				Name:        "c_process_spawn",
				Description: "spawning a child process from compiled C",
				Regex:       regexp.MustCompile(`\b(execve|execv|execvp|fork|vfork|posix_spawn|system)\s*\(`),
				Severity:    SeverityHigh,
			},
			{
				Name:        "c_raw_syscall",
				Description: "issuing a raw syscall() from compiled C",
				Regex:       regexp.MustCompile(`\bsyscall\s*\(`),
				Severity:    SeverityHigh,
			},
		},
		"cpp": {
			{
				Name:        "cpp_process_spawn",
				Description: "spawning a child process from compiled C++",
				Regex:       regexp.MustCompile(`\b(execve|execv|execvp|fork|vfork|posix_spawn|system)\s*\(|std::system\s*\(`),
				Severity:    SeverityHigh,
			},
			{
				Name:        "cpp_raw_syscall",
				Description: "issuing a raw syscall() from compiled C++",
				Regex:       regexp.MustCompile(`\bsyscall\s*\(`),
				Severity:    SeverityHigh,
			},
		},
		"rust": {
			{
				Name:        "rust_process_spawn",
				Description: "spawning a child process via std::process::Command",
				Regex:       regexp.MustCompile(`std::process::Command|Command::new\s*\(`),
				Severity:    SeverityHigh,
			},
			{
				Name:        "rust_unsafe_libc",
				Description: "calling into libc from an unsafe block to bypass the compiled sandbox",
				Regex:       regexp.MustCompile(`unsafe\s*\{|libc::(execve|ptrace|fork)`),
				Severity:    SeverityHigh,
			},
		},
		"python": {
			{
				Name:        "python_process_spawn",
				Description: "spawning a shell or child process from the interpreter",
				Regex:       regexp.MustCompile(`\bos\.(system|popen|exec\w*|fork)\s*\(|subprocess\.`),
				Severity:    SeverityHigh,
			},
			{
				Name:        "python_dynamic_eval",
				Description: "dynamic eval/exec or ctypes FFI from Python",
				Regex:       regexp.MustCompile(`\b(eval|exec)\s*\(|__import__\s*\(|\bctypes\b`),
				Severity:    SeverityMedium,
			},
		},
		"nodejs": {
			{
				Name:        "nodejs_process_spawn",
				Description: "spawning a child process from the Node runtime",
				Regex:       regexp.MustCompile(`require\(['"]child_process['"]\)|child_process\.(exec|spawn|fork)`),
				Severity:    SeverityHigh,
			},
			{
				Name:        "nodejs_native_escape",
				Description: "reaching for process.binding or vm sandbox-escape primitives",
				Regex:       regexp.MustCompile(`process\.binding\s*\(|vm\.runInNewContext|process\.mainModule`),
				Severity:    SeverityMedium,
			},
		},
	}
}
