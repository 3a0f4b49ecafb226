package daemonocle

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Detaching re-executes the current binary twice because a Go process
// cannot fork without exec. Each stage is marked by an environment
// variable so Start can tell which role it is playing:
//
//	stage 0  the invoked process: spawns a session leader and reports
//	         OK or FAILED based on its exit code
//	stage 1  the session leader: spawns the final daemon, watches it
//	         briefly for immediate death, then exits
//	stage 2  the daemon itself: sets up its environment and runs the
//	         worker
const (
	detachStageEnv = "DAEMONOCLE_DETACH_STAGE"
	reloadEnv      = "DAEMONOCLE_RELOAD"
	foregroundEnv  = "DAEMONOCLE_FOREGROUND"
)

var fastFailureWindow = time.Second

type detachStage int

const (
	stageInvoked detachStage = iota
	stageSessionLeader
	stageDaemon
)

// currentDetachStage parses the stage variable. Malformed or foreign
// values are ignored so a stray variable in the environment cannot hijack
// the state machine.
func currentDetachStage() detachStage {
	value := os.Getenv(detachStageEnv)
	stage, nonce, ok := strings.Cut(value, "/")
	if !ok {
		return stageInvoked
	}
	if _, err := uuid.Parse(nonce); err != nil {
		return stageInvoked
	}
	switch stage {
	case "1":
		return stageSessionLeader
	case "2":
		return stageDaemon
	}
	return stageInvoked
}

func stageEnvValue(stage detachStage) string {
	return fmt.Sprintf("%s=%d/%s", detachStageEnv, int(stage), uuid.New())
}

func clearDetachStage() {
	os.Unsetenv(detachStageEnv)
}

// environWithout returns the current environment minus the named keys.
func environWithout(keys ...string) []string {
	env := os.Environ()
	out := env[:0:0]
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		skip := false
		for _, key := range keys {
			if name == key {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, kv)
		}
	}
	return out
}

// launchSessionLeader spawns the stage-1 copy in a new session, waits for
// it, and returns the exit code the invoking process should exit with.
// The session leader's stdout and stderr stay attached to the terminal so
// its OK/FAILED verdict reaches the user.
func (d *Daemon) launchSessionLeader() int {
	exe, err := os.Executable()
	if err != nil {
		d.emitFailed()
		d.emitError("Unable to locate own executable (%v)", err)
		return 1
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(environWithout(detachStageEnv, reloadEnv), stageEnvValue(stageSessionLeader))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		d.emitFailed()
		d.emitError("Unable to start session leader (%v)", err)
		return 1
	}
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		return 1
	}
	return 0
}

// runSessionLeader is stage 1: spawn the final daemon, give it a moment
// to fail fast, then report and exit. Never returns.
func (d *Daemon) runSessionLeader() {
	exe, err := os.Executable()
	if err != nil {
		d.emitFailed()
		d.emitError("Unable to locate own executable (%v)", err)
		d.exitFn(1)
		return
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(environWithout(detachStageEnv), stageEnvValue(stageDaemon))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		d.emitFailed()
		d.emitError("Unable to start daemon process (%v)", err)
		d.exitFn(1)
		return
	}

	// Give the daemon a moment to die of a startup error so the failure
	// is reported here instead of silently in the background.
	time.Sleep(fastFailureWindow)

	var status unix.WaitStatus
	wpid, err := unix.Wait4(cmd.Process.Pid, &status, unix.WNOHANG, nil)
	if err == nil && wpid == cmd.Process.Pid {
		code := waitStatusExitCode(status)
		d.emitFailed()
		d.emitError("Child exited immediately with exit code %d", code)
		d.exitFn(code)
		return
	}
	_ = cmd.Process.Release()
	d.emitOK()
	d.exitFn(0)
}

func waitStatusExitCode(status unix.WaitStatus) int {
	switch {
	case status.Exited():
		return status.ExitStatus()
	case status.Signaled():
		return 128 + int(status.Signal())
	}
	return 1
}

// isDetachNecessary reports whether the process still needs to detach, or
// is already running under something that manages it: as pid 1, under
// init outside a container, or with a socket on stdin (inetd style).
func isDetachNecessary() bool {
	if os.Getpid() == 1 {
		return false
	}
	if os.Getppid() == 1 && !isInContainer() {
		return false
	}
	if stdinIsSocket() {
		return false
	}
	return true
}

var containerMarkers = map[string]struct{}{
	"docker":    {},
	"docker-ce": {},
	"ecs":       {},
	"kubepods":  {},
	"lxc":       {},
}

// isInContainer checks the cgroup paths of pid 1 for markers left by
// common container runtimes. Inside a container, a parent pid of 1 does
// not mean init is supervising us.
func isInContainer() bool {
	f, err := os.Open("/proc/1/cgroup")
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		for _, elem := range strings.Split(parts[2], "/") {
			if _, ok := containerMarkers[elem]; ok {
				return true
			}
		}
	}
	return false
}

func stdinIsSocket() bool {
	var st unix.Stat_t
	if err := unix.Fstat(0, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFSOCK
}
