package procprobe_test

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jnrbsn/daemonocle/internal/procprobe"
)

func TestExistsSelf(t *testing.T) {
	if !procprobe.Exists(os.Getpid()) {
		t.Fatal("expected own pid to exist")
	}
}

func TestIsAliveDeadPID(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run true: %v", err)
	}
	pid := cmd.Process.Pid
	if procprobe.IsAlive(pid, 0) {
		t.Fatalf("expected exited pid %d to be dead", pid)
	}
}

func TestIsAliveWaitsForExit(t *testing.T) {
	cmd := exec.Command("sleep", "0.3")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer cmd.Wait()

	if !procprobe.IsAlive(cmd.Process.Pid, 0) {
		t.Fatal("expected running process to be alive with zero timeout")
	}

	start := time.Now()
	alive := procprobe.IsAlive(cmd.Process.Pid, 5*time.Second)
	if elapsed := time.Since(start); elapsed >= 5*time.Second {
		t.Fatalf("IsAlive did not return early, took %v", elapsed)
	}
	// cmd.Wait has not run yet, so the child is an unreaped zombie here.
	if alive {
		t.Fatal("expected process to be reported dead once it exited")
	}
}

func TestExistsTreatsZombieAsDead(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start true: %v", err)
	}
	defer cmd.Wait()

	// Without reaping, the exited child stays in the process table as a
	// zombie. It must still be treated as gone.
	deadline := time.Now().Add(5 * time.Second)
	for procprobe.Exists(cmd.Process.Pid) {
		if time.Now().After(deadline) {
			t.Fatalf("unreaped child %d still reported as existing", cmd.Process.Pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGroupChildrenExcludesSelf(t *testing.T) {
	children, err := procprobe.GroupChildren(os.Getpid(), false)
	if err != nil {
		t.Fatalf("GroupChildren: %v", err)
	}
	for _, proc := range children {
		if int(proc.Pid) == os.Getpid() {
			t.Fatal("own pid returned as a group child")
		}
	}
}

func TestGroupInfoSelf(t *testing.T) {
	info, err := procprobe.GroupInfo(os.Getpid(), []string{"pid", "name", "memory_percent"})
	if err != nil {
		t.Fatalf("GroupInfo: %v", err)
	}
	self, ok := info[os.Getpid()]
	if !ok {
		t.Fatalf("own pid missing from group info: %v", info)
	}
	if self["pid"] != os.Getpid() {
		t.Fatalf("unexpected pid field: %v", self["pid"])
	}
	if _, ok := self["memory_percent"].(float64); !ok {
		t.Fatalf("memory_percent has wrong type: %T", self["memory_percent"])
	}
}

func TestInfoUnknownField(t *testing.T) {
	if procprobe.KnownField("definitely_not_a_field") {
		t.Fatal("unexpected field reported as known")
	}
	if !procprobe.KnownField("cpu_percent") {
		t.Fatal("cpu_percent should be a known field")
	}
}

func TestOpenFDsSelf(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "fd")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()

	fds, err := procprobe.OpenFDs(os.Getpid())
	if err != nil {
		t.Fatalf("OpenFDs: %v", err)
	}

	want := int(f.Fd())
	found := false
	for _, fd := range fds {
		if fd == want {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("open descriptor %d not reported in %v", want, fds)
	}
}

func TestCreateTime(t *testing.T) {
	created, err := procprobe.CreateTime(os.Getpid())
	if err != nil {
		t.Fatalf("CreateTime: %v", err)
	}
	now := float64(time.Now().Unix())
	if created <= 0 || created > now+1 {
		t.Fatalf("implausible create time %f (now %f)", created, now)
	}
}
