package processor

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/oj-platform/exec-worker/internal/executor"
	"github.com/oj-platform/exec-worker/internal/monitor"
	"github.com/oj-platform/exec-worker/internal/runtime"
	"github.com/oj-platform/exec-worker/internal/sandbox"
	"github.com/oj-platform/exec-worker/internal/store"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

// fakeSandbox/fakeBackend mirror the executor package's test doubles so
// runOne can be driven through the Executor without a container runtime.
type fakeSandbox struct {
	waitState *sandbox.State
	stdout    []byte
	stderr    []byte
}

func (f *fakeSandbox) WriteStdin(context.Context, []byte) error { return nil }
func (f *fakeSandbox) Wait(context.Context, time.Duration) (*sandbox.State, error) {
	return f.waitState, nil
}
func (f *fakeSandbox) Logs(context.Context) ([]byte, []byte, error) { return f.stdout, f.stderr, nil }
func (f *fakeSandbox) Destroy(context.Context) error                { return nil }

type fakeBackend struct {
	sandboxes []*fakeSandbox
	next      int
}

func (b *fakeBackend) NewSandbox(context.Context, sandbox.Spec) (sandbox.Sandbox, error) {
	sb := b.sandboxes[b.next]
	b.next++
	return sb, nil
}
func (b *fakeBackend) PullImage(context.Context, string) error { return nil }
func (b *fakeBackend) Close() error                            { return nil }

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func pythonProfile(t *testing.T) runtime.Profile {
	t.Helper()
	p, err := runtime.NewRegistry().Get("python")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRunOneOk(t *testing.T) {
	backend := &fakeBackend{sandboxes: []*fakeSandbox{
		{waitState: &sandbox.State{ExitCode: 0}, stdout: []byte("hi\n")},
	}}
	p := &Processor{
		exec:     executor.New(backend, nil, executor.DefaultOptions()),
		detector: monitor.NewEscapeDetector(),
		workDir:  t.TempDir(),
	}

	stdoutB64, stderrB64 := p.runOne(context.Background(), testLogger(), pythonProfile(t), "print('hi')", b64(""), nil)

	stdout, err := base64.StdEncoding.DecodeString(stdoutB64)
	if err != nil {
		t.Fatal(err)
	}
	if string(stdout) != "hi\n" {
		t.Errorf("stdout = %q, want %q", stdout, "hi\n")
	}
	if stderrB64 != b64("") {
		t.Errorf("stderr = %q, want empty", stderrB64)
	}
}

func TestRunOneAppliesSubstitution(t *testing.T) {
	backend := &fakeBackend{sandboxes: []*fakeSandbox{
		{waitState: &sandbox.State{ExitCode: 0}},
	}}
	workDir := t.TempDir()
	p := &Processor{
		exec:     executor.New(backend, nil, executor.DefaultOptions()),
		detector: monitor.NewEscapeDetector(),
		workDir:  workDir,
	}

	profile := pythonProfile(t)
	replaces := []store.ReplacePair{{From: b64("PLACEHOLDER"), To: b64("substituted")}}
	p.runOne(context.Background(), testLogger(), profile, "print('PLACEHOLDER')", b64(""), replaces)

	written, err := os.ReadFile(filepath.Join(workDir, "code", profile.SourceName))
	if err != nil {
		t.Fatal(err)
	}
	if string(written) != "print('substituted')" {
		t.Errorf("written source = %q, want the replace pair applied", written)
	}
}

func TestRunOneCompileError(t *testing.T) {
	backend := &fakeBackend{sandboxes: []*fakeSandbox{
		{waitState: &sandbox.State{ExitCode: 1}, stderr: []byte("syntax error")},
	}}
	p := &Processor{
		exec:     executor.New(backend, nil, executor.DefaultOptions()),
		detector: monitor.NewEscapeDetector(),
		workDir:  t.TempDir(),
	}

	rProfile, err := runtime.NewRegistry().Get("c")
	if err != nil {
		t.Fatal(err)
	}

	stdoutB64, stderrB64 := p.runOne(context.Background(), testLogger(), rProfile, "int main({", b64(""), nil)
	if stdoutB64 != "" {
		t.Errorf("stdout = %q, want empty on compile error", stdoutB64)
	}
	stderr, _ := base64.StdEncoding.DecodeString(stderrB64)
	if string(stderr) == "" {
		t.Error("stderr must carry the compile error detail")
	}
}

func TestReplacesForOutOfRange(t *testing.T) {
	rec := &store.Record{Replace: [][]store.ReplacePair{{{From: "a", To: "b"}}}}
	if got := replacesFor(rec, 5); got != nil {
		t.Errorf("replacesFor out of range = %v, want nil", got)
	}
	if got := replacesFor(rec, 0); len(got) != 1 {
		t.Errorf("replacesFor(0) = %v, want one pair", got)
	}
}

func TestBase64DecodeInvalid(t *testing.T) {
	if _, err := base64Decode("not valid base64!!"); err == nil {
		t.Error("expected an error decoding invalid base64")
	}
}
