package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// dockerBackend is the primary Sandbox backend, talking to the Docker
// Engine API directly (no CLI shell-out), grounded on the real
// docker/docker SDK usage pattern: ContainerCreate/Start/Attach/Wait/
// Logs/Remove.
type dockerBackend struct {
	cli *client.Client
}

func newDockerBackend() (*dockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: creating docker client: %v", ErrRuntimeUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: docker daemon not reachable: %v", ErrRuntimeUnavailable, err)
	}

	return &dockerBackend{cli: cli}, nil
}

func (b *dockerBackend) PullImage(ctx context.Context, ref string) error {
	_, _, err := b.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}

	log.Info().Str("image", ref).Msg("pulling image")
	reader, err := b.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull response for %s: %w", ref, err)
	}
	return nil
}

func (b *dockerBackend) NewSandbox(ctx context.Context, spec Spec) (Sandbox, error) {
	mountMode := "rw"
	if spec.ReadOnly {
		mountMode = "ro"
	}

	securityOpt, capDrop, err := DockerSecurityOpts(spec.Stage, spec.NetworkEnabled)
	if err != nil {
		return nil, fmt.Errorf("building seccomp profile: %w", err)
	}

	networkMode := container.NetworkMode("none")
	if spec.NetworkEnabled {
		networkMode = "bridge"
	}

	resp, err := b.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Cmd:          spec.Cmd,
			WorkingDir:   "/workspace",
			OpenStdin:    true,
			StdinOnce:    true,
			Tty:          false,
			AttachStdin:  true,
			AttachStdout: true,
			AttachStderr: true,
		},
		&container.HostConfig{
			Binds:       []string{fmt.Sprintf("%s:/workspace:%s", spec.WorkDir, mountMode)},
			Resources:   spec.Limits.DockerResources(),
			SecurityOpt: []string{securityOpt, "no-new-privileges"},
			CapDrop:     capDrop,
			NetworkMode: networkMode,
			AutoRemove:  false,
		},
		nil, nil, "sandbox-"+uuid.NewString(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	hijack, err := b.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
	})
	if err != nil {
		_ = b.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("attaching stdin: %w", err)
	}

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		hijack.Close()
		_ = b.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("starting container: %w", err)
	}

	return &dockerSandbox{
		cli:    b.cli,
		id:     resp.ID,
		hijack: hijack,
	}, nil
}

func (b *dockerBackend) Close() error {
	return b.cli.Close()
}

type dockerSandbox struct {
	cli    *client.Client
	id     string
	hijack types.HijackedResponse
}

func (s *dockerSandbox) WriteStdin(ctx context.Context, data []byte) error {
	if _, err := s.hijack.Conn.Write(data); err != nil {
		return fmt.Errorf("writing stdin: %w", err)
	}
	// Signal EOF: each sandbox run takes one preloaded stdin payload,
	// never an interactive stream.
	if cw, ok := s.hijack.Conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	return nil
}

func (s *dockerSandbox) Wait(ctx context.Context, timeout time.Duration) (*State, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := s.cli.ContainerWait(waitCtx, s.id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if waitCtx.Err() != nil {
			_ = s.cli.ContainerKill(context.Background(), s.id, "SIGKILL")
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("waiting for container: %w", err)
	case status := <-statusCh:
		inspect, inspectErr := s.cli.ContainerInspect(context.Background(), s.id)
		oom := false
		if inspectErr == nil {
			oom = inspect.State.OOMKilled
		}
		return &State{ExitCode: int(status.StatusCode), OOMKilled: oom}, nil
	case <-waitCtx.Done():
		_ = s.cli.ContainerKill(context.Background(), s.id, "SIGKILL")
		<-statusCh // drain so the wait goroutine doesn't leak
		return nil, ErrTimeout
	}
}

func (s *dockerSandbox) Logs(ctx context.Context) (stdout, stderr []byte, err error) {
	reader, err := s.cli.ContainerLogs(ctx, s.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetching logs: %w", err)
	}
	defer reader.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, reader); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("demuxing logs: %w", err)
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

func (s *dockerSandbox) Destroy(ctx context.Context) error {
	s.hijack.Close()
	if err := s.cli.ContainerRemove(ctx, s.id, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("removing container %s: %w", s.id, err)
	}
	return nil
}
