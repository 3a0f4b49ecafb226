package daemonocle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFormatElapsed(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "0m"},
		{1000, "17m"},
		{10000, "2h 47m"},
		{100000, "1d 3h 47m"},
		{1000000, "11d 13h 47m"},
	}
	for _, tc := range cases {
		if got := formatElapsed(tc.seconds); got != tc.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestStatusWithoutPIDFile(t *testing.T) {
	d, _, _, _ := newTestDaemon(t)
	err := d.Status(StatusOptions{})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error %v is not a ConfigError", err)
	}
}

func TestStatusNotRunning(t *testing.T) {
	d, stdout, _, _ := newTestDaemon(t,
		WithName("testd"),
		WithPIDFile(filepath.Join(t.TempDir(), "test.pid")),
	)
	err := d.Status(StatusOptions{})
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("error = %v, want ErrNotRunning", err)
	}
	if want := "testd -- not running\n"; stdout.String() != want {
		t.Errorf("stdout = %q, want %q", stdout.String(), want)
	}
}

func TestStatusNotRunningJSON(t *testing.T) {
	d, stdout, _, _ := newTestDaemon(t,
		WithName("testd"),
		WithPIDFile(filepath.Join(t.TempDir(), "test.pid")),
	)
	err := d.Status(StatusOptions{JSON: true})
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("error = %v, want ErrNotRunning", err)
	}
	if want := `{"name":"testd","status":"dead"}` + "\n"; stdout.String() != want {
		t.Errorf("stdout = %q, want %q", stdout.String(), want)
	}
}

func TestStatusInvalidField(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	writePIDFile(t, pidPath, os.Getpid())

	d, _, _, _ := newTestDaemon(t, WithPIDFile(pidPath))
	err := d.Status(StatusOptions{Fields: []string{"nonsense"}})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error %v is not a ConfigError", err)
	}
}

func TestStatusRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	writePIDFile(t, pidPath, os.Getpid())

	d, stdout, _, _ := newTestDaemon(t, WithName("testd"), WithPIDFile(pidPath))
	if err := d.Status(StatusOptions{}); err != nil {
		t.Fatalf("Status: %v", err)
	}

	out := stdout.String()
	prefix := fmt.Sprintf("testd -- pid: %d, status: ", os.Getpid())
	if !strings.HasPrefix(out, prefix) {
		t.Errorf("stdout %q does not start with %q", out, prefix)
	}
	for _, want := range []string{", uptime: ", ", %cpu: ", ", %mem: "} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout %q does not contain %q", out, want)
		}
	}
}

func TestStatusRunningJSON(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	writePIDFile(t, pidPath, os.Getpid())

	d, stdout, _, _ := newTestDaemon(t, WithName("testd"), WithPIDFile(pidPath))
	if err := d.Status(StatusOptions{JSON: true, Fields: []string{"name", "pid", "memory_percent"}}); err != nil {
		t.Fatalf("Status: %v", err)
	}

	var data map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &data); err != nil {
		t.Fatalf("output %q is not valid JSON: %v", stdout.String(), err)
	}
	if data["name"] != "testd" {
		t.Errorf("name = %v, want testd", data["name"])
	}
	if pid, ok := data["pid"].(float64); !ok || int(pid) != os.Getpid() {
		t.Errorf("pid = %v, want %d", data["pid"], os.Getpid())
	}
	if _, ok := data["memory_percent"].(float64); !ok {
		t.Errorf("memory_percent = %v (%T), want a number", data["memory_percent"], data["memory_percent"])
	}
}

func TestStatusCustomFieldsLine(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	writePIDFile(t, pidPath, os.Getpid())

	d, stdout, _, _ := newTestDaemon(t, WithName("testd"), WithPIDFile(pidPath))
	if err := d.Status(StatusOptions{Fields: []string{"pid", "num_fds"}}); err != nil {
		t.Fatalf("Status: %v", err)
	}
	prefix := fmt.Sprintf("testd -- pid: %d, num_fds: ", os.Getpid())
	if !strings.HasPrefix(stdout.String(), prefix) {
		t.Errorf("stdout %q does not start with %q", stdout.String(), prefix)
	}
}

func TestRenderStatusLineOrder(t *testing.T) {
	data := map[string]any{
		"uptime":      float64(1000),
		"cwd":         "/srv",
		"cpu_percent": 12.34,
	}
	got := renderStatusLine("testd", []string{"name", "cwd", "uptime", "cpu_percent"}, data)
	want := "testd -- cwd: /srv, uptime: 17m, %cpu: 12.3"
	if got != want {
		t.Errorf("renderStatusLine = %q, want %q", got, want)
	}
}
