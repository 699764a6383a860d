package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/errdefs"
	"github.com/rs/zerolog/log"
)

// cleanupContainer tears down one containerd task+container on every exit
// path: normal completion, timeout, or failed creation midway through.
// ctx must already carry the containerd namespace.
func cleanupContainer(ctx context.Context, container containerd.Container, task containerd.Task) error {
	if container == nil {
		return nil
	}

	id := container.ID()
	logger := log.With().Str("container_id", id).Logger()

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if task != nil {
		if status, err := task.Status(cleanupCtx); err == nil && status.Status != containerd.Stopped {
			logger.Debug().Msg("killing running task")
			_ = task.Kill(cleanupCtx, 9)

			waitCtx, waitCancel := context.WithTimeout(cleanupCtx, 5*time.Second)
			exitCh, waitErr := task.Wait(waitCtx)
			if waitErr == nil && exitCh != nil {
				select {
				case <-exitCh:
				case <-waitCtx.Done():
					logger.Warn().Msg("timed out waiting for task to stop")
				}
			}
			waitCancel()
		}

		if _, err := task.Delete(cleanupCtx, containerd.WithProcessKill); err != nil {
			if !errdefs.IsNotFound(err) {
				logger.Warn().Err(err).Msg("failed to delete task")
			}
		}
	}

	if err := container.Delete(cleanupCtx, containerd.WithSnapshotCleanup); err != nil {
		if !errdefs.IsNotFound(err) {
			logger.Error().Err(err).Msg("failed to delete container")
			return fmt.Errorf("deleting container %s: %w", id, err)
		}
	}

	logger.Debug().Msg("container cleaned up")
	return nil
}

// cleanupOrphanedContainers removes sandbox containers left over from a
// previous worker process on this host (e.g. a crash that skipped
// Destroy). newContainerdBackend calls this once at startup, scoped to
// nsCtx's namespace, before the backend accepts its first submission.
func cleanupOrphanedContainers(nsCtx context.Context, client *containerd.Client) (int, error) {
	containers, err := client.Containers(nsCtx)
	if err != nil {
		return 0, fmt.Errorf("listing containers: %w", err)
	}

	var cleaned int
	for _, c := range containers {
		id := c.ID()
		if len(id) < 8 || id[:8] != "sandbox-" {
			continue
		}

		logger := log.With().Str("container_id", id).Logger()
		logger.Info().Msg("cleaning up orphaned sandbox container")

		task, _ := c.Task(nsCtx, nil)
		if err := cleanupContainer(nsCtx, c, task); err != nil {
			logger.Error().Err(err).Msg("failed to clean orphaned container")
			continue
		}
		cleaned++
	}

	return cleaned, nil
}
