// Package processor orchestrates one submission per broker message:
// decode the envelope, load the submission record, apply substitutions,
// run each input through the executor, aggregate results, persist,
// notify the judge, and ack.
package processor

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/oj-platform/exec-worker/internal/broker"
	"github.com/oj-platform/exec-worker/internal/executor"
	"github.com/oj-platform/exec-worker/internal/judge"
	"github.com/oj-platform/exec-worker/internal/monitor"
	"github.com/oj-platform/exec-worker/internal/retry"
	"github.com/oj-platform/exec-worker/internal/runtime"
	"github.com/oj-platform/exec-worker/internal/store"
)

// Processor orchestrates one submission's full lifecycle.
type Processor struct {
	registry *runtime.Registry
	exec     *executor.Executor
	store    *store.Store
	judge    *judge.Client
	detector *monitor.EscapeDetector
	metrics  *monitor.Metrics
	workDir  string
}

func New(registry *runtime.Registry, exec *executor.Executor, st *store.Store, judgeClient *judge.Client, metrics *monitor.Metrics, workDir string) *Processor {
	return &Processor{
		registry: registry,
		exec:     exec,
		store:    st,
		judge:    judgeClient,
		detector: monitor.NewEscapeDetector(),
		metrics:  metrics,
		workDir:  workDir,
	}
}

// Handle is the broker.Handler entry point for one submission message.
func (p *Processor) Handle(ctx context.Context, env broker.Envelope) error {
	start := time.Now()
	logger := log.With().Str("submission_id", env.SubmissionID).Logger()

	tracer := otel.Tracer("exec-worker/processor")
	ctx, span := tracer.Start(ctx, "submission.process", trace.WithAttributes(monitor.AttrSubmissionID.String(env.SubmissionID)))
	defer span.End()

	if p.metrics != nil {
		p.metrics.ActiveSubmissions.Set(1)
		defer p.metrics.ActiveSubmissions.Set(0)
	}

	rec, err := p.loadRecord(ctx, env.SubmissionID)
	if err != nil {
		logger.Error().Err(err).Msg("loading submission record")
		return err
	}

	profile, err := p.registry.Get(rec.Language)
	if err != nil {
		logger.Error().Err(err).Msg("unsupported language")
		return err
	}

	code, err := base64Decode(rec.Code)
	if err != nil {
		logger.Error().Err(err).Msg("decoding submission code")
		return err
	}

	stdoutResults := make([]string, len(rec.Input))
	stderrResults := make([]string, len(rec.Input))

	for i, encodedInput := range rec.Input {
		stdoutResults[i], stderrResults[i] = p.runOne(ctx, logger, profile, code, encodedInput, replacesFor(rec, i))
	}

	rec.Stdout = stdoutResults
	rec.Stderr = stderrResults
	rec.Stdin = rec.Input
	rec.Status = "done execution"

	if err := p.persist(ctx, env.SubmissionID, rec); err != nil {
		logger.Error().Err(err).Msg("persisting submission record")
		return err
	}

	ok, notifyErr := p.judge.Notify(ctx, env.SubmissionID)
	if notifyErr != nil {
		logger.Warn().Err(notifyErr).Msg("judge notification request failed")
	}
	if notifyErr != nil || !ok {
		rec.Result = "Judge Error"
		if err := p.persist(ctx, env.SubmissionID, rec); err != nil {
			logger.Error().Err(err).Msg("re-persisting submission record after judge error")
			return err
		}
	}

	p.cleanupScratch()

	outcome := "ok"
	if rec.Result == "Judge Error" {
		outcome = "judge_error"
	}
	if p.metrics != nil {
		p.metrics.RecordSubmission(outcome, time.Since(start).Seconds())
	}

	return nil
}

// runOne processes one input: decode, substitute, scan, execute,
// encode. Any failure here is captured into that input's stderr slot
// and never aborts the batch.
func (p *Processor) runOne(ctx context.Context, logger zerolog.Logger, profile runtime.Profile, code, encodedInput string, replaces []store.ReplacePair) (stdoutB64, stderrB64 string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("recovered from panic processing input")
			stdoutB64 = base64.StdEncoding.EncodeToString(nil)
			stderrB64 = base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("Internal Error\n%v", r)))
		}
	}()

	input, err := base64Decode(encodedInput)
	if err != nil {
		return "", encodeErr("Internal Error", err)
	}

	substituted := code
	for _, rp := range replaces {
		from, err := base64Decode(rp.From)
		if err != nil {
			return "", encodeErr("Internal Error", err)
		}
		to, err := base64Decode(rp.To)
		if err != nil {
			return "", encodeErr("Internal Error", err)
		}
		substituted = strings.ReplaceAll(substituted, from, to)
	}

	if detections := p.detector.AnalyzeCode(profile.Language, substituted); len(detections) > 0 && p.metrics != nil {
		for _, d := range detections {
			p.metrics.RecordSecurityEvent(d.Severity)
		}
	}

	outcome := p.exec.Run(ctx, profile, p.workDir, substituted, input)

	if outcome.Kind == executor.KindOk {
		if detections := p.detector.AnalyzeOutput(string(outcome.Stdout) + string(outcome.Stderr)); len(detections) > 0 {
			for _, d := range detections {
				logger.Warn().Str("pattern", d.Pattern).Str("severity", d.Severity).Msg("escape attempt detected in captured output")
				if p.metrics != nil {
					p.metrics.RecordSecurityEvent(d.Severity)
				}
			}
		}
	}

	switch outcome.Kind {
	case executor.KindOk:
		return base64.StdEncoding.EncodeToString(outcome.Stdout), base64.StdEncoding.EncodeToString(outcome.Stderr)
	case executor.KindCompileError:
		return "", encodeErr("Compile Time Error", fmt.Errorf("%s", outcome.Detail))
	case executor.KindRuntimeError:
		return "", encodeErr("Run Time Error", fmt.Errorf("%s", outcome.Detail))
	case executor.KindTimeLimitExceeded, executor.KindMemoryLimitExceeded:
		return "", base64.StdEncoding.EncodeToString([]byte(outcome.Detail))
	default:
		return "", encodeErr("Internal Error", fmt.Errorf("%s", outcome.Detail))
	}
}

func (p *Processor) loadRecord(ctx context.Context, submissionID string) (*store.Record, error) {
	policy := retry.Store()
	policy.Classify = store.IsRetryable

	var rec *store.Record
	err := retry.Do(ctx, policy, "store.get", func() error {
		var getErr error
		rec, getErr = p.store.Get(ctx, submissionID)
		if getErr != nil && p.metrics != nil {
			p.metrics.RecordStoreOp("get", "error")
		}
		return getErr
	})
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordStoreOp("get", "ok")
	}
	return rec, nil
}

func (p *Processor) persist(ctx context.Context, submissionID string, rec *store.Record) error {
	policy := retry.Store()
	policy.Classify = store.IsRetryable

	err := retry.Do(ctx, policy, "store.set", func() error {
		setErr := p.store.Set(ctx, submissionID, rec)
		if setErr != nil && p.metrics != nil {
			p.metrics.RecordStoreOp("set", "error")
		}
		return setErr
	})
	if err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.RecordStoreOp("set", "ok")
	}
	return nil
}

// cleanupScratch removes the source/input/artifact files between
// submissions so the next one starts from an empty scratch area.
func (p *Processor) cleanupScratch() {
	codeDir := filepath.Join(p.workDir, "code")
	entries, err := os.ReadDir(codeDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		_ = os.Remove(filepath.Join(codeDir, entry.Name()))
	}
}

func replacesFor(rec *store.Record, i int) []store.ReplacePair {
	if i >= len(rec.Replace) {
		return nil
	}
	return rec.Replace[i]
}

func base64Decode(s string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}
	return string(data), nil
}

func encodeErr(prefix string, err error) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s\n%s", prefix, err.Error())))
}
