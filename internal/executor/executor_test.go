package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oj-platform/exec-worker/internal/runtime"
	"github.com/oj-platform/exec-worker/internal/sandbox"
)

// fakeSandbox is a scripted sandbox.Sandbox used to drive the Executor
// through every classification branch without a real container runtime.
type fakeSandbox struct {
	waitState   *sandbox.State
	waitErr     error
	stdout      []byte
	stderr      []byte
	destroyed   bool
	stdinWrites [][]byte
}

func (f *fakeSandbox) WriteStdin(_ context.Context, data []byte) error {
	f.stdinWrites = append(f.stdinWrites, data)
	return nil
}

func (f *fakeSandbox) Wait(_ context.Context, _ time.Duration) (*sandbox.State, error) {
	return f.waitState, f.waitErr
}

func (f *fakeSandbox) Logs(_ context.Context) ([]byte, []byte, error) {
	return f.stdout, f.stderr, nil
}

func (f *fakeSandbox) Destroy(_ context.Context) error {
	f.destroyed = true
	return nil
}

// fakeBackend hands out scripted sandboxes in call order: first to the
// compile stage, second to the run stage (for languages that compile).
type fakeBackend struct {
	sandboxes []*fakeSandbox
	next      int
	created   []sandbox.Spec
}

func (b *fakeBackend) NewSandbox(_ context.Context, spec sandbox.Spec) (sandbox.Sandbox, error) {
	b.created = append(b.created, spec)
	sb := b.sandboxes[b.next]
	b.next++
	return sb, nil
}

func (b *fakeBackend) PullImage(_ context.Context, _ string) error { return nil }
func (b *fakeBackend) Close() error                                { return nil }

func pythonProfile() runtime.Profile {
	r := runtime.NewRegistry()
	p, _ := r.Get("python")
	return p
}

func cProfile() runtime.Profile {
	r := runtime.NewRegistry()
	p, _ := r.Get("c")
	return p
}

func newExecutor(backend sandbox.Backend) *Executor {
	return New(backend, nil, DefaultOptions())
}

func TestRunInterpretedOk(t *testing.T) {
	backend := &fakeBackend{sandboxes: []*fakeSandbox{
		{waitState: &sandbox.State{ExitCode: 0}, stdout: []byte("hi\n")},
	}}
	e := newExecutor(backend)

	outcome := e.Run(context.Background(), pythonProfile(), t.TempDir(), "print('hi')", "")
	if outcome.Kind != KindOk {
		t.Fatalf("Kind = %v, want KindOk", outcome.Kind)
	}
	if string(outcome.Stdout) != "hi\n" {
		t.Errorf("Stdout = %q, want %q", outcome.Stdout, "hi\n")
	}
	if !backend.sandboxes[0].destroyed {
		t.Error("run-stage sandbox was not destroyed")
	}
}

func TestRunCompiledSkipsRunStageOnCompileError(t *testing.T) {
	backend := &fakeBackend{sandboxes: []*fakeSandbox{
		{waitState: &sandbox.State{ExitCode: 1}, stderr: []byte("syntax error")},
	}}
	e := newExecutor(backend)

	outcome := e.Run(context.Background(), cProfile(), t.TempDir(), "int main({", "")
	if outcome.Kind != KindCompileError {
		t.Fatalf("Kind = %v, want KindCompileError", outcome.Kind)
	}
	if outcome.Stage != StageCompile {
		t.Errorf("Stage = %v, want compile", outcome.Stage)
	}
	if outcome.Detail != "syntax error" {
		t.Errorf("Detail = %q, want %q", outcome.Detail, "syntax error")
	}
	if len(backend.created) != 1 {
		t.Errorf("created %d sandboxes, want 1 (run stage must never start after a compile error)", len(backend.created))
	}
	if !backend.sandboxes[0].destroyed {
		t.Error("compile-stage sandbox was not destroyed")
	}
}

func TestRunCompiledSuccessThenRun(t *testing.T) {
	backend := &fakeBackend{sandboxes: []*fakeSandbox{
		{waitState: &sandbox.State{ExitCode: 0}},
		{waitState: &sandbox.State{ExitCode: 0}, stdout: []byte("42\n")},
	}}
	e := newExecutor(backend)

	outcome := e.Run(context.Background(), cProfile(), t.TempDir(), "int main(){}", "")
	if outcome.Kind != KindOk {
		t.Fatalf("Kind = %v, want KindOk", outcome.Kind)
	}
	if len(backend.created) != 2 {
		t.Fatalf("created %d sandboxes, want 2 (compile then run)", len(backend.created))
	}
	profile := cProfile()
	if backend.created[0].Image != profile.CompileImage {
		t.Errorf("compile-stage image = %q, want %q", backend.created[0].Image, profile.CompileImage)
	}
	if backend.created[1].Image != profile.RuntimeImage {
		t.Errorf("run-stage image = %q, want %q", backend.created[1].Image, profile.RuntimeImage)
	}
	if !backend.sandboxes[0].destroyed || !backend.sandboxes[1].destroyed {
		t.Error("every sandbox must be destroyed regardless of stage outcome")
	}
}

func TestRunTimeLimitExceeded(t *testing.T) {
	backend := &fakeBackend{sandboxes: []*fakeSandbox{
		{waitErr: sandbox.ErrTimeout},
	}}
	e := newExecutor(backend)

	outcome := e.Run(context.Background(), pythonProfile(), t.TempDir(), "while True: pass", "")
	if outcome.Kind != KindTimeLimitExceeded {
		t.Fatalf("Kind = %v, want KindTimeLimitExceeded", outcome.Kind)
	}
	if !strings.Contains(outcome.Detail, "Run Time Limit Exceeded") {
		t.Errorf("Detail = %q, missing expected phrase", outcome.Detail)
	}
}

func TestRunMemoryLimitExceeded(t *testing.T) {
	backend := &fakeBackend{sandboxes: []*fakeSandbox{
		{waitState: &sandbox.State{ExitCode: 137, OOMKilled: true}},
	}}
	e := newExecutor(backend)

	outcome := e.Run(context.Background(), pythonProfile(), t.TempDir(), "x = [0] * 10**12", "")
	if outcome.Kind != KindMemoryLimitExceeded {
		t.Fatalf("Kind = %v, want KindMemoryLimitExceeded", outcome.Kind)
	}
	if !strings.Contains(outcome.Detail, "100m") {
		t.Errorf("Detail = %q, missing memory limit", outcome.Detail)
	}
}

func TestRunAppendsTrailingNewlineForCompiledLanguages(t *testing.T) {
	backend := &fakeBackend{sandboxes: []*fakeSandbox{
		{waitState: &sandbox.State{ExitCode: 0}},
		{waitState: &sandbox.State{ExitCode: 0}},
	}}
	e := newExecutor(backend)

	e.Run(context.Background(), cProfile(), t.TempDir(), "int main(){}", "5")

	runSandbox := backend.sandboxes[1]
	if len(runSandbox.stdinWrites) != 1 {
		t.Fatalf("expected exactly one stdin write, got %d", len(runSandbox.stdinWrites))
	}
	if string(runSandbox.stdinWrites[0]) != "5\n" {
		t.Errorf("stdin = %q, want trailing newline appended", runSandbox.stdinWrites[0])
	}
}
