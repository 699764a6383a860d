package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog/log"
)

// containerdBackend is the alternate Sandbox backend, used when the
// Docker Engine API is unavailable but a containerd socket is. It owns
// the containerd client connection directly, the same way dockerBackend
// owns its *client.Client — no separate wrapper type.
type containerdBackend struct {
	inner     *containerd.Client
	socket    string
	namespace string

	mu     sync.RWMutex
	closed bool
}

func newContainerdBackend(ctx context.Context) (*containerdBackend, error) {
	socket := envOr("CONTAINERD_SOCKET", "/run/containerd/containerd.sock")
	namespace := envOr("CONTAINERD_NAMESPACE", "exec-worker")

	inner, err := dialContainerd(ctx, socket, namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}

	b := &containerdBackend{inner: inner, socket: socket, namespace: namespace}

	nsCtx := b.withNamespace(ctx)
	cleaned, err := cleanupOrphanedContainers(nsCtx, inner)
	if err != nil {
		log.Warn().Err(err).Msg("orphaned container cleanup failed")
	} else if cleaned > 0 {
		log.Info().Int("count", cleaned).Msg("cleaned up orphaned sandbox containers from a previous run")
	}

	return b, nil
}

func dialContainerd(ctx context.Context, socket, namespace string) (*containerd.Client, error) {
	inner, err := containerd.New(socket,
		containerd.WithDefaultNamespace(namespace),
		containerd.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd at %s: %w", socket, err)
	}

	if _, err := inner.Version(ctx); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("containerd health check failed: %w", err)
	}

	log.Info().Str("socket", socket).Str("namespace", namespace).Msg("connected to containerd")
	return inner, nil
}

func (b *containerdBackend) withNamespace(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, b.namespace)
}

// healthy reports whether the containerd connection is still alive.
func (b *containerdBackend) healthy(ctx context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false
	}
	_, err := b.inner.Version(ctx)
	return err == nil
}

// reconnect re-establishes the containerd connection after a health
// check fails, mirroring how the Docker-SDK backend would simply get a
// fresh client.Client on the next NewBackend call.
func (b *containerdBackend) reconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inner != nil {
		_ = b.inner.Close()
	}

	inner, err := dialContainerd(ctx, b.socket, b.namespace)
	if err != nil {
		return fmt.Errorf("reconnecting to containerd: %w", err)
	}

	b.inner = inner
	b.closed = false
	log.Info().Msg("reconnected to containerd")
	return nil
}

// PullImage pulls image, reconnecting once if the cached connection
// has gone stale (e.g. a containerd restart between this process's
// prior pull and this one) before giving up.
func (b *containerdBackend) PullImage(ctx context.Context, image string) error {
	nsCtx := b.withNamespace(ctx)
	_, err := b.pullImage(nsCtx, image)
	if err == nil {
		return nil
	}

	if b.healthy(ctx) {
		return err
	}

	log.Warn().Err(err).Msg("containerd connection unhealthy, reconnecting before retrying pull")
	if reErr := b.reconnect(ctx); reErr != nil {
		return fmt.Errorf("%s (reconnect also failed: %v)", err, reErr)
	}

	_, err = b.pullImage(b.withNamespace(ctx), image)
	return err
}

func (b *containerdBackend) pullImage(ctx context.Context, ref string) (containerd.Image, error) {
	image, err := b.inner.GetImage(ctx, ref)
	if err == nil {
		return image, nil
	}

	log.Info().Str("ref", ref).Msg("pulling image")
	image, err = b.inner.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", ref, err)
	}

	log.Info().Str("ref", ref).Msg("image pulled successfully")
	return image, nil
}

func (b *containerdBackend) NewSandbox(ctx context.Context, spec Spec) (Sandbox, error) {
	nsCtx := b.withNamespace(ctx)

	image, err := b.pullImage(nsCtx, spec.Image)
	if err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", spec.Image, err)
	}

	secProfile := DefaultSecurityProfile(spec.Stage)
	if spec.NetworkEnabled && spec.Stage == StageRun {
		secProfile = NetworkAllowedSecurityProfile()
	}

	mountOpts := []string{"rbind", "ro"}
	if !spec.ReadOnly {
		mountOpts = []string{"rbind", "rw"}
	}

	id := "sandbox-" + uuid.NewString()
	container, err := b.inner.NewContainer(nsCtx, id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithProcessArgs(spec.Cmd...),
			oci.WithHostname("sandbox"),
			func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
				ApplySecurityProfile(s, secProfile)
				ApplyOCIResourceLimits(s, spec.Limits)

				s.Mounts = append(s.Mounts, specs.Mount{
					Destination: "/workspace",
					Type:        "bind",
					Source:      spec.WorkDir,
					Options:     mountOpts,
				})

				s.Process.Env = []string{
					"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
					"HOME=/tmp",
					"LANG=C.UTF-8",
					"SANDBOX=true",
				}

				return nil
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		_ = container.Delete(context.Background(), containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	sb := &containerdSandbox{
		namespace: b.namespace,
		container: container,
		stdinW:    stdinW,
	}

	task, err := container.NewTask(nsCtx, cio.NewCreator(cio.WithStreams(stdinR, &sb.stdoutBuf, &sb.stderrBuf)))
	if err != nil {
		stdinW.Close()
		stdinR.Close()
		_ = container.Delete(context.Background(), containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("creating task: %w", err)
	}
	sb.task = task

	exitCh, err := task.Wait(nsCtx)
	if err != nil {
		sb.destroyBestEffort(context.Background())
		return nil, fmt.Errorf("registering task wait: %w", err)
	}
	sb.exitCh = exitCh

	if err := task.Start(nsCtx); err != nil {
		sb.destroyBestEffort(context.Background())
		return nil, fmt.Errorf("starting task: %w", err)
	}

	return sb, nil
}

func (b *containerdBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.inner != nil {
		return b.inner.Close()
	}
	return nil
}

type containerdSandbox struct {
	namespace string
	container containerd.Container
	task      containerd.Task
	exitCh    <-chan containerd.ExitStatus
	stdinW    io.WriteCloser

	stdoutBuf bytes.Buffer
	stderrBuf bytes.Buffer
}

func (s *containerdSandbox) withNamespace(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, s.namespace)
}

func (s *containerdSandbox) WriteStdin(ctx context.Context, data []byte) error {
	if _, err := s.stdinW.Write(data); err != nil {
		return fmt.Errorf("writing stdin: %w", err)
	}
	// One preloaded payload per run, so close immediately to signal EOF.
	return s.stdinW.Close()
}

func (s *containerdSandbox) Wait(ctx context.Context, timeout time.Duration) (*State, error) {
	nsCtx := s.withNamespace(ctx)
	waitCtx, cancel := context.WithTimeout(nsCtx, timeout)
	defer cancel()

	select {
	case status := <-s.exitCh:
		exitCode := int(status.ExitCode())
		return &State{ExitCode: exitCode, OOMKilled: exitCode == 137}, nil
	case <-waitCtx.Done():
		_ = s.task.Kill(context.Background(), 9)
		<-s.exitCh
		return nil, ErrTimeout
	}
}

func (s *containerdSandbox) Logs(ctx context.Context) (stdout, stderr []byte, err error) {
	return s.stdoutBuf.Bytes(), s.stderrBuf.Bytes(), nil
}

func (s *containerdSandbox) Destroy(ctx context.Context) error {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return cleanupContainer(s.withNamespace(cleanupCtx), s.container, s.task)
}

func (s *containerdSandbox) destroyBestEffort(ctx context.Context) {
	if err := s.Destroy(ctx); err != nil {
		log.Error().Err(err).Msg("sandbox cleanup failed")
	}
	_ = s.stdinW.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
