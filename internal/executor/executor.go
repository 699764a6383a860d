// Package executor runs the compile-then-run protocol for one
// (code, input) pair, translating container exit state into a typed
// Outcome. Interpreted languages take the degenerate single-stage path
// (skip compile, run directly).
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/oj-platform/exec-worker/internal/monitor"
	"github.com/oj-platform/exec-worker/internal/runtime"
	"github.com/oj-platform/exec-worker/internal/sandbox"
)

// Stage names which half of the two-stage protocol an Outcome belongs to.
type Stage string

const (
	StageCompile Stage = "compile"
	StageRun     Stage = "run"
)

// Outcome is a tagged variant: Kind selects which of the remaining
// fields are meaningful.
type Kind int

const (
	KindOk Kind = iota
	KindCompileError
	KindRuntimeError
	KindTimeLimitExceeded
	KindMemoryLimitExceeded
	KindInternalError
)

type Outcome struct {
	Kind Kind

	Stdout []byte
	Stderr []byte

	Stage  Stage   // meaningful for CompileError/RuntimeError/TimeLimitExceeded/MemoryLimitExceeded
	Detail string  // decoded stderr (Compile/Runtime) or a fixed template (Time/Memory)
	LimitS float64 // meaningful for TimeLimitExceeded
}

// settlingDelay is the pause between a non-zero container exit and the
// log read, so the runtime's final stderr flush is captured.
const settlingDelay = 100 * time.Millisecond

// Options are the per-stage wall-clock budgets and resource caps.
type Options struct {
	CompileTimeout time.Duration
	RunTimeout     time.Duration
	Limits         sandbox.ResourceLimits
	NetworkEnabled bool
}

// DefaultOptions returns the standard compile/run budgets: 5s to
// compile, 10s to run, default resource limits.
func DefaultOptions() Options {
	return Options{
		CompileTimeout: 5 * time.Second,
		RunTimeout:     10 * time.Second,
		Limits:         sandbox.DefaultLimits(),
	}
}

// Executor runs the compile-then-run protocol against one Backend.
type Executor struct {
	backend sandbox.Backend
	metrics *monitor.Metrics
	tracer  *monitor.Tracer
	opts    Options
}

func New(backend sandbox.Backend, metrics *monitor.Metrics, opts Options) *Executor {
	return &Executor{backend: backend, metrics: metrics, tracer: monitor.NewTracer(), opts: opts}
}

// Run writes source+stdin into workDir/code, compiles (if the profile
// needs it) and runs, then returns a typed Outcome. The executor leaves
// no container alive regardless of which stage failed.
func (e *Executor) Run(ctx context.Context, profile runtime.Profile, workDir, source, stdin string) Outcome {
	ctx, span := e.tracer.StartSpan(ctx, "execute", monitor.AttrLanguage.String(profile.Language))
	defer span.End()

	codeDir := filepath.Join(workDir, "code")
	if err := os.MkdirAll(codeDir, 0o755); err != nil {
		return Outcome{Kind: KindInternalError, Detail: fmt.Sprintf("preparing workdir: %v", err)}
	}

	sourcePath := filepath.Join(codeDir, profile.SourceName)
	if err := os.WriteFile(sourcePath, []byte(source), 0o644); err != nil {
		return Outcome{Kind: KindInternalError, Detail: fmt.Sprintf("writing source: %v", err)}
	}
	if err := os.WriteFile(filepath.Join(codeDir, "input.txt"), []byte(stdin), 0o644); err != nil {
		return Outcome{Kind: KindInternalError, Detail: fmt.Sprintf("writing stdin file: %v", err)}
	}

	if profile.NeedsCompile {
		if outcome, ok := e.compile(ctx, profile, codeDir); !ok {
			return outcome
		}
	}

	return e.run(ctx, profile, codeDir, stdin)
}

func (e *Executor) compile(ctx context.Context, profile runtime.Profile, codeDir string) (Outcome, bool) {
	execID := uuid.NewString()
	logger := log.With().Str("exec_id", execID).Str("stage", "compile").Str("language", profile.Language).Logger()

	start := time.Now()
	ctx, span := e.tracer.StartSpan(ctx, "compile",
		monitor.AttrExecID.String(execID), monitor.AttrStage.String(string(StageCompile)))
	defer span.End()
	defer e.observeDuration("compile", start)

	sb, err := e.backend.NewSandbox(ctx, sandbox.Spec{
		Image:          profile.CompileImage,
		Cmd:            profile.CompileCmd,
		WorkDir:        codeDir,
		Stage:          sandbox.StageCompile,
		ReadOnly:       false, // the compile stage produces the "code" artifact
		Limits:         e.opts.Limits,
		NetworkEnabled: e.opts.NetworkEnabled,
	})
	if err != nil {
		logger.Error().Err(err).Msg("creating compile sandbox")
		return Outcome{Kind: KindInternalError, Stage: StageCompile, Detail: err.Error()}, false
	}
	defer func() {
		if err := sb.Destroy(context.Background()); err != nil {
			logger.Error().Err(err).Msg("destroying compile sandbox")
		}
	}()

	state, err := sb.Wait(ctx, e.opts.CompileTimeout)
	if err != nil {
		if sandbox.IsTimeout(err) {
			e.recordOutcome("compile", "time_limit_exceeded")
			return Outcome{
				Kind:   KindTimeLimitExceeded,
				Stage:  StageCompile,
				Detail: fmt.Sprintf("Compile Time Limit Exceeded\n\tCompile Time Limit = %gs", e.opts.CompileTimeout.Seconds()),
				LimitS: e.opts.CompileTimeout.Seconds(),
			}, false
		}
		logger.Error().Err(err).Msg("waiting for compile sandbox")
		return Outcome{Kind: KindInternalError, Stage: StageCompile, Detail: err.Error()}, false
	}

	span.SetAttributes(monitor.AttrExitCode.Int(state.ExitCode))

	if state.OOMKilled {
		e.recordOutcome("compile", "memory_limit_exceeded")
		return Outcome{
			Kind:   KindMemoryLimitExceeded,
			Stage:  StageCompile,
			Detail: fmt.Sprintf("Compile Memory Limit Exceeded\n\tMemory Limit: %dm", e.opts.Limits.MemoryMB),
		}, false
	}

	if state.ExitCode != 0 {
		time.Sleep(settlingDelay)
		_, stderr, err := sb.Logs(ctx)
		if err != nil {
			return Outcome{Kind: KindInternalError, Stage: StageCompile, Detail: err.Error()}, false
		}
		e.recordOutcome("compile", "compile_error")
		return Outcome{Kind: KindCompileError, Stage: StageCompile, Detail: string(stderr)}, false
	}

	e.recordOutcome("compile", "ok")
	return Outcome{}, true
}

func (e *Executor) run(ctx context.Context, profile runtime.Profile, codeDir, stdin string) Outcome {
	execID := uuid.NewString()
	logger := log.With().Str("exec_id", execID).Str("stage", "run").Str("language", profile.Language).Logger()

	start := time.Now()
	ctx, span := e.tracer.StartSpan(ctx, "run",
		monitor.AttrExecID.String(execID), monitor.AttrStage.String(string(StageRun)))
	defer span.End()
	defer e.observeDuration("run", start)

	sb, err := e.backend.NewSandbox(ctx, sandbox.Spec{
		Image:   profile.RuntimeImage,
		Cmd:     profile.RunCmd,
		WorkDir: codeDir,
		Stage:   sandbox.StageRun,
		// ro for interpreted languages' run stage; compiled languages'
		// run stage keeps the rw mount the compile stage used, although
		// it only reads the artifact the compile stage produced.
		ReadOnly:       !profile.NeedsCompile,
		Limits:         e.opts.Limits,
		NetworkEnabled: e.opts.NetworkEnabled,
	})
	if err != nil {
		logger.Error().Err(err).Msg("creating run sandbox")
		return Outcome{Kind: KindInternalError, Stage: StageRun, Detail: err.Error()}
	}
	defer func() {
		if err := sb.Destroy(context.Background()); err != nil {
			logger.Error().Err(err).Msg("destroying run sandbox")
		}
	}()

	// Compiled languages get a trailing newline so the last line is
	// delivered to the program.
	payload := stdin
	if profile.NeedsCompile {
		payload += "\n"
	}
	if err := sb.WriteStdin(ctx, []byte(payload)); err != nil {
		return Outcome{Kind: KindInternalError, Stage: StageRun, Detail: err.Error()}
	}

	state, err := sb.Wait(ctx, e.opts.RunTimeout)
	if err != nil {
		if sandbox.IsTimeout(err) {
			e.recordOutcome("run", "time_limit_exceeded")
			return Outcome{
				Kind:   KindTimeLimitExceeded,
				Stage:  StageRun,
				Detail: fmt.Sprintf("Run Time Limit Exceeded\n\tRun Time Limit = %gs", e.opts.RunTimeout.Seconds()),
				LimitS: e.opts.RunTimeout.Seconds(),
			}
		}
		logger.Error().Err(err).Msg("waiting for run sandbox")
		return Outcome{Kind: KindInternalError, Stage: StageRun, Detail: err.Error()}
	}

	span.SetAttributes(monitor.AttrExitCode.Int(state.ExitCode))

	if state.OOMKilled {
		e.recordOutcome("run", "memory_limit_exceeded")
		return Outcome{
			Kind:   KindMemoryLimitExceeded,
			Stage:  StageRun,
			Detail: fmt.Sprintf("Memory Limit Exceeded\n\tMemory Limit: %dm", e.opts.Limits.MemoryMB),
		}
	}

	if state.ExitCode != 0 {
		time.Sleep(settlingDelay)
		_, stderr, err := sb.Logs(ctx)
		if err != nil {
			return Outcome{Kind: KindInternalError, Stage: StageRun, Detail: err.Error()}
		}
		e.recordOutcome("run", "runtime_error")
		return Outcome{Kind: KindRuntimeError, Stage: StageRun, Detail: string(stderr)}
	}

	stdout, stderr, err := sb.Logs(ctx)
	if err != nil {
		return Outcome{Kind: KindInternalError, Stage: StageRun, Detail: err.Error()}
	}

	e.recordOutcome("run", "ok")
	return Outcome{Kind: KindOk, Stdout: stdout, Stderr: stderr}
}

func (e *Executor) recordOutcome(stage, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.SandboxExecutionsTotal.WithLabelValues(stage, outcome).Inc()
}

func (e *Executor) observeDuration(stage string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.SandboxDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
