// Command worker reads configuration, initializes the sandbox backend,
// language registry, store, judge client, and broker consumer,
// pre-pulls every profile's images, then runs the consume loop until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oj-platform/exec-worker/internal/broker"
	"github.com/oj-platform/exec-worker/internal/config"
	"github.com/oj-platform/exec-worker/internal/executor"
	"github.com/oj-platform/exec-worker/internal/judge"
	"github.com/oj-platform/exec-worker/internal/monitor"
	"github.com/oj-platform/exec-worker/internal/ops"
	"github.com/oj-platform/exec-worker/internal/processor"
	"github.com/oj-platform/exec-worker/internal/retry"
	"github.com/oj-platform/exec-worker/internal/runtime"
	"github.com/oj-platform/exec-worker/internal/sandbox"
	"github.com/oj-platform/exec-worker/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Environment == config.Development {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()
	registry := runtime.NewRegistry()

	opsServer := ops.New(cfg.MetricsAddr, metrics)
	go func() {
		if err := opsServer.Start(); err != nil {
			log.Error().Err(err).Msg("ops server stopped")
		}
	}()

	backendPolicy := retry.RuntimeClientInit()
	backendPolicy.Classify = sandbox.IsRetryable

	var backend sandbox.Backend
	err = retry.Do(ctx, backendPolicy, "sandbox.backend.init", func() error {
		var initErr error
		backend, initErr = sandbox.NewBackend(ctx, sandbox.BackendAuto)
		return initErr
	})
	if err != nil {
		log.Fatal().Err(err).Msg("container runtime unavailable after retry budget")
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error().Err(err).Msg("closing sandbox backend")
		}
	}()

	prepuller := sandbox.NewImagePrepuller(backend)
	err = retry.Do(ctx, retry.NoRetry(), "image.prepull", func() error {
		return prepuller.PullAll(ctx, registry.Images())
	})
	if err != nil {
		log.Fatal().Err(err).Msg("image pre-pull failed")
	}

	storeClient, err := store.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store unavailable")
	}
	defer func() {
		if err := storeClient.Close(); err != nil {
			log.Error().Err(err).Msg("closing store client")
		}
	}()

	judgeClient := judge.New(cfg.JudgeURL)

	exec := executor.New(backend, metrics, executor.Options{
		CompileTimeout: cfg.Limits.CompileTimeout,
		RunTimeout:     cfg.Limits.RunTimeout,
		Limits: sandbox.ResourceLimits{
			CPUPeriod: cfg.Limits.CPUPeriod,
			MemoryMB:  cfg.Limits.MemoryMB,
			PidsLimit: cfg.Limits.PidsLimit,
		},
		NetworkEnabled: cfg.SeccompAllowNetwork,
	})

	proc := processor.New(registry, exec, storeClient, judgeClient, metrics, cfg.WorkDir)

	queueName := cfg.CompilerQueueName
	if queueName == "" {
		queueName = cfg.InterpreterQueueName
	}

	brokerPolicy := retry.RuntimeClientInit()
	brokerPolicy.Classify = func(err error) bool { return errors.Is(err, broker.ErrUnavailable) }

	var consumer *broker.Consumer
	err = retry.Do(ctx, brokerPolicy, "broker.dial", func() error {
		var dialErr error
		consumer, dialErr = broker.Dial(cfg, queueName)
		return dialErr
	})
	if err != nil {
		log.Fatal().Err(err).Msg("broker unavailable after retry budget")
	}
	consumer.OnRedelivered = metrics.BrokerRedeliveriesTotal.Inc
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Error().Err(err).Msg("closing broker consumer")
		}
	}()

	opsServer.Ready(true)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down: finishing in-flight submission before exit")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("ops server shutdown error")
		}
	}()

	log.Info().
		Str("queue", queueName).
		Strs("languages", registry.Languages()).
		Msg("worker starting consume loop")

	if err := consumer.Run(ctx, proc.Handle); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("consume loop failed")
	}

	log.Info().Msg("worker stopped")
}
