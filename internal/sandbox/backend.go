// Package sandbox provides one isolated execution container with
// create/write-stdin/wait/state/logs/destroy and guaranteed teardown
// on every exit path.
package sandbox

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
)

// Stage names which half of the compile-then-run protocol a Spec is
// for; it selects which seccomp profile DockerSecurityOpts/
// ApplySecurityProfile attach (see security.go).
type Stage string

const (
	StageCompile Stage = "compile"
	StageRun     Stage = "run"
)

// Spec describes the container a Backend should create for one
// compile-stage or run-stage attempt.
type Spec struct {
	Image    string
	Cmd      []string
	WorkDir  string // host directory bind-mounted at /workspace
	Stage    Stage
	ReadOnly bool // ro mount for interpreted run stage; rw when the
	// stage must produce an artifact (compile stage)
	Limits         ResourceLimits
	NetworkEnabled bool
}

// State is the terminal state of a container after Wait returns.
type State struct {
	ExitCode  int
	OOMKilled bool
}

// Sandbox is one disposable execution container.
type Sandbox interface {
	// WriteStdin writes data to the container's attached stdin stream.
	WriteStdin(ctx context.Context, data []byte) error

	// Wait blocks until the container exits or timeout elapses. On
	// timeout it returns ErrTimeout and the caller must still call
	// Destroy.
	Wait(ctx context.Context, timeout time.Duration) (*State, error)

	// Logs returns the container's captured stdout/stderr.
	Logs(ctx context.Context) (stdout, stderr []byte, err error)

	// Destroy forcibly stops and removes the container. Idempotent.
	Destroy(ctx context.Context) error
}

// Backend creates Sandboxes against one container runtime.
type Backend interface {
	NewSandbox(ctx context.Context, spec Spec) (Sandbox, error)
	PullImage(ctx context.Context, image string) error
	Close() error
}

// BackendKind selects which container runtime backs the Sandbox.
type BackendKind string

const (
	BackendAuto       BackendKind = "auto"
	BackendDocker     BackendKind = "docker"
	BackendContainerd BackendKind = "containerd"
)

// NewBackend picks the best available backend. "auto" prefers the
// Docker Engine API and falls back to containerd.
func NewBackend(ctx context.Context, kind BackendKind) (Backend, error) {
	if kind == "" {
		kind = BackendAuto
	}

	switch kind {
	case BackendDocker:
		return newDockerBackend()
	case BackendContainerd:
		return newContainerdBackend(ctx)
	case BackendAuto:
		backend, err := newDockerBackend()
		if err == nil {
			log.Info().Msg("using Docker backend")
			return backend, nil
		}
		log.Warn().Err(err).Msg("Docker unavailable, trying containerd")

		if runtime.GOOS == "linux" {
			backend, err := newContainerdBackend(ctx)
			if err == nil {
				log.Info().Msg("using containerd backend")
				return backend, nil
			}
			log.Warn().Err(err).Msg("containerd unavailable")
		}

		return nil, fmt.Errorf("%w: no sandbox backend available (tried Docker, containerd)", ErrRuntimeUnavailable)
	default:
		return nil, fmt.Errorf("unknown backend %q: must be auto, docker, or containerd", kind)
	}
}
