package daemonocle

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type hookRecorder struct {
	messages []string
	codes    []int
}

func (r *hookRecorder) hook(message string, code int) {
	r.messages = append(r.messages, message)
	r.codes = append(r.codes, code)
}

func TestRunWorkerNormalExit(t *testing.T) {
	hooks := &hookRecorder{}
	d, _, _, rec := newTestDaemon(t,
		WithWorker(func() error { return nil }),
		WithShutdownHook(hooks.hook),
	)
	d.detach = true

	d.runWorker()

	if want := []int{0}; !equalInts(rec.codes, want) {
		t.Errorf("exit codes = %v, want %v", rec.codes, want)
	}
	if want := "Shutting down normally"; len(hooks.messages) != 1 || hooks.messages[0] != want {
		t.Errorf("hook messages = %v, want [%q]", hooks.messages, want)
	}
}

func TestRunWorkerExitRequest(t *testing.T) {
	hooks := &hookRecorder{}
	d, _, _, rec := newTestDaemon(t,
		WithWorker(func() error { return Exit(3) }),
		WithShutdownHook(hooks.hook),
	)
	d.detach = true

	d.runWorker()

	if want := []int{3}; !equalInts(rec.codes, want) {
		t.Errorf("exit codes = %v, want %v", rec.codes, want)
	}
	if want := "Exiting with non-zero exit code 3"; hooks.messages[0] != want {
		t.Errorf("hook message = %q, want %q", hooks.messages[0], want)
	}
}

func TestRunWorkerExitRequestZeroCode(t *testing.T) {
	hooks := &hookRecorder{}
	d, _, _, rec := newTestDaemon(t,
		WithWorker(func() error { return Exit(0) }),
		WithShutdownHook(hooks.hook),
	)
	d.detach = true

	d.runWorker()

	if want := []int{0}; !equalInts(rec.codes, want) {
		t.Errorf("exit codes = %v, want %v", rec.codes, want)
	}
	if want := "Shutting down normally"; hooks.messages[0] != want {
		t.Errorf("hook message = %q, want %q", hooks.messages[0], want)
	}
}

func TestRunWorkerExitWithMessage(t *testing.T) {
	hooks := &hookRecorder{}
	d, _, _, rec := newTestDaemon(t,
		WithWorker(func() error { return ExitWithMessage("goodbye now") }),
		WithShutdownHook(hooks.hook),
	)
	d.detach = true

	d.runWorker()

	if want := []int{1}; !equalInts(rec.codes, want) {
		t.Errorf("exit codes = %v, want %v", rec.codes, want)
	}
	if want := "Exiting with message: goodbye now"; hooks.messages[0] != want {
		t.Errorf("hook message = %q, want %q", hooks.messages[0], want)
	}
}

func TestRunWorkerWrappedExitRequest(t *testing.T) {
	d, _, _, rec := newTestDaemon(t,
		WithWorker(func() error {
			return errors.Join(errors.New("context"), Exit(7))
		}),
	)
	d.detach = true

	d.runWorker()

	if want := []int{7}; !equalInts(rec.codes, want) {
		t.Errorf("exit codes = %v, want %v", rec.codes, want)
	}
}

func TestRunWorkerUnhandledErrorAttached(t *testing.T) {
	hooks := &hookRecorder{}
	d, _, stderr, rec := newTestDaemon(t,
		WithWorker(func() error { return errors.New("database on fire") }),
		WithShutdownHook(hooks.hook),
	)
	d.detach = false

	d.runWorker()

	if want := []int{127}; !equalInts(rec.codes, want) {
		t.Errorf("exit codes = %v, want %v", rec.codes, want)
	}
	if want := "ERROR: database on fire\n"; stderr.String() != want {
		t.Errorf("stderr = %q, want %q", stderr.String(), want)
	}
	if !strings.Contains(hooks.messages[0], "Dying due to unhandled error") {
		t.Errorf("hook message = %q", hooks.messages[0])
	}
}

func TestRunWorkerPanicDetached(t *testing.T) {
	hooks := &hookRecorder{}
	d, _, _, rec := newTestDaemon(t,
		WithWorker(func() error { panic("boom") }),
		WithShutdownHook(hooks.hook),
	)
	d.detach = true

	d.runWorker()

	if want := []int{127}; !equalInts(rec.codes, want) {
		t.Errorf("exit codes = %v, want %v", rec.codes, want)
	}
	if want := "Dying due to unhandled panic: boom"; hooks.messages[0] != want {
		t.Errorf("hook message = %q, want %q", hooks.messages[0], want)
	}
}

func TestRunWorkerPanicAttachedRepanics(t *testing.T) {
	hooks := &hookRecorder{}
	d, _, _, _ := newTestDaemon(t,
		WithWorker(func() error { panic("boom") }),
		WithShutdownHook(hooks.hook),
	)
	d.detach = false

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected the panic to propagate")
		}
		if r != "boom" {
			t.Errorf("recovered %v, want boom", r)
		}
		if len(hooks.messages) != 1 {
			t.Errorf("hook ran %d times, want 1", len(hooks.messages))
		}
	}()
	d.runWorker()
}

func TestShutdownRunsCleanupOnce(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	hooks := &hookRecorder{}
	d, _, _, rec := newTestDaemon(t,
		WithPIDFile(pidPath),
		WithShutdownHook(hooks.hook),
	)
	if err := d.pid.Acquire(os.Getpid()); err != nil {
		t.Fatal(err)
	}

	d.shutdown("first", 0)
	d.shutdown("second", 5)

	if len(hooks.messages) != 1 || hooks.messages[0] != "first" {
		t.Errorf("hook messages = %v, want [first]", hooks.messages)
	}
	if want := []int{0, 5}; !equalInts(rec.codes, want) {
		t.Errorf("exit codes = %v, want %v", rec.codes, want)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Errorf("pid file was not removed during shutdown")
	}
}

func TestExitRequestError(t *testing.T) {
	if got := Exit(2).Error(); got != "exit requested with code 2" {
		t.Errorf("Exit(2).Error() = %q", got)
	}
	if got := ExitWithMessage("later").Error(); got != "later" {
		t.Errorf("ExitWithMessage error = %q", got)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
