package dispatch

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/galeshell/gale/internal/builtin"
	"github.com/galeshell/gale/internal/job"
	"github.com/galeshell/gale/internal/log"
	"github.com/galeshell/gale/internal/modload"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

type stubBackend struct{}

type stubImage struct{ name, entrypoint string }

func (i *stubImage) Name() string                    { return i.name }
func (i *stubImage) Path() string                    { return "/modules/" + i.name }
func (i *stubImage) Entrypoint() string              { return i.entrypoint }
func (i *stubImage) Builtins() []modload.BuiltinDecl { return nil }

func (stubBackend) Load(ctx context.Context, name string) (modload.Image, error) {
	return &stubImage{name: name, entrypoint: "/bin/echo"}, nil
}
func (stubBackend) Unload(img modload.Image) error { return nil }

func newTestDispatcher(t *testing.T) (*Dispatcher, *builtin.Registry, *modload.Loader, *job.Table) {
	t.Helper()
	loader := modload.NewLoader(stubBackend{})
	registry := builtin.NewRegistry(loader)
	jobs := job.NewTable(nil)
	t.Cleanup(jobs.Teardown)
	return New(registry, jobs, ""), registry, loader, jobs
}

func waitCompleted(t *testing.T, jobs *job.Table, id job.ID) job.Info {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		jobs.ScanForCompletion(false)
		info, err := jobs.Info(id)
		if err != nil {
			t.Fatalf("Info: %v", err)
		}
		if info.Completed {
			return info
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %d did not complete", id)
	return job.Info{}
}

func TestDispatchBuiltinForeground(t *testing.T) {
	d, registry, _, _ := newTestDispatcher(t)

	var gotArgs []string
	registry.Register("greet", func(ctx context.Context, call *builtin.Call) int {
		gotArgs = call.Args
		call.Stdout.Write([]byte("hello\n"))
		return 4
	}, nil)

	var out bytes.Buffer
	res, err := d.Dispatch(context.Background(), "GREET", []string{"world"}, false, &out, &out)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.ExitCode != 4 {
		t.Fatalf("expected exit code 4, got %d", res.ExitCode)
	}
	if out.String() != "hello\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if len(gotArgs) != 1 || gotArgs[0] != "world" {
		t.Fatalf("unexpected args %v", gotArgs)
	}
}

func TestDispatchSetsActiveModuleForOwnedBuiltin(t *testing.T) {
	d, registry, loader, _ := newTestDispatcher(t)

	m, err := loader.Load(context.Background(), "m")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var activeDuringCall *modload.Module
	registry.Register("owned", func(ctx context.Context, call *builtin.Call) int {
		activeDuringCall = registry.ActiveModule()
		return 0
	}, m)
	loader.Release(m)

	var out bytes.Buffer
	if _, err := d.Dispatch(context.Background(), "owned", nil, false, &out, &out); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if activeDuringCall != m {
		t.Fatal("module should be active while its handler runs")
	}
	if registry.ActiveModule() != nil {
		t.Fatal("active module should be restored after the call")
	}
}

func TestDispatchExternalForeground(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	var out bytes.Buffer
	res, err := d.Dispatch(context.Background(), "sh", []string{"-c", "echo hi; exit 3"}, false, &out, &out)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if out.String() != "hi\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestDispatchExternalBackground(t *testing.T) {
	d, _, _, jobs := newTestDispatcher(t)

	res, err := d.Dispatch(context.Background(), "sh", []string{"-c", "echo bg; exit 6"}, true, nil, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.JobID == 0 {
		t.Fatal("background dispatch should return a job id")
	}

	info := waitCompleted(t, jobs, res.JobID)
	if info.ExitCode != 6 {
		t.Fatalf("expected exit code 6, got %d", info.ExitCode)
	}
	stdout, _, err := jobs.Output(res.JobID)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if string(stdout) != "bg\n" {
		t.Fatalf("unexpected stdout %q", stdout)
	}
}

func TestDispatchBackgroundModuleBuiltin(t *testing.T) {
	d, registry, loader, jobs := newTestDispatcher(t)

	m, err := loader.Load(context.Background(), "m")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// Handler is unused on the background path; the module entrypoint runs.
	registry.Register("shout", func(ctx context.Context, call *builtin.Call) int { return 0 }, m)
	loader.Release(m)

	res, err := d.Dispatch(context.Background(), "shout", []string{"loud"}, true, nil, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	info := waitCompleted(t, jobs, res.JobID)
	if info.ExitCode != 0 {
		t.Fatalf("expected clean exit, got %d", info.ExitCode)
	}
	// /bin/echo prints its argv: the builtin name followed by the args.
	stdout, _, err := jobs.Output(res.JobID)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if string(stdout) != "shout loud\n" {
		t.Fatalf("unexpected stdout %q", stdout)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	if _, err := d.Dispatch(context.Background(), "definitely-not-a-command-xyz", nil, false, nil, nil); err == nil {
		t.Fatal("expected unknown command error")
	}
}

func TestDispatchBackgroundStaticBuiltinNeedsSelfExe(t *testing.T) {
	d, registry, _, _ := newTestDispatcher(t)

	registry.Register("static", func(ctx context.Context, call *builtin.Call) int { return 0 }, nil)
	if _, err := d.Dispatch(context.Background(), "static", nil, true, nil, nil); err == nil {
		t.Fatal("expected error without a self executable")
	}
}
