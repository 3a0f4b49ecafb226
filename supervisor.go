package daemonocle

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"

	"github.com/jnrbsn/daemonocle/internal/procprobe"
)

// shouldSupervise reports whether this invocation should act as a
// foreground supervisor instead of becoming the daemon itself. Only
// interactive non-detached starts get a supervisor; a reload or an
// already-supervised child does not.
func (d *Daemon) shouldSupervise(reloading bool) bool {
	if d.detach || reloading {
		return false
	}
	return isatty.IsTerminal(os.Stdin.Fd())
}

// superviseForeground re-executes the program as a child in this
// process's group, forwards termination signals to it, and after the
// child exits waits for the rest of the process group to drain before
// exiting. This keeps an interactive session responsive to Ctrl-C even
// when the worker spawns children of its own. Never returns.
func (d *Daemon) superviseForeground() {
	// Lead a fresh process group so group polling below is bounded by
	// our own descendants. Failure means we already lead one.
	_ = unix.Setpgid(0, 0)

	exe, err := os.Executable()
	if err != nil {
		d.emitError("Unable to locate own executable (%v)", err)
		d.exitFn(1)
		return
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(environWithout(foregroundEnv), foregroundEnv+"=1")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		d.emitError("Unable to start worker process (%v)", err)
		d.exitFn(1)
		return
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			s, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			_ = unix.Kill(cmd.Process.Pid, unix.Signal(s))
		}
	}()

	_ = cmd.Wait()

	// The worker is gone, but it may have left children in our group.
	// Wait for all of them before giving the shell its prompt back.
	d.drainProcessGroup(func() (int, error) {
		children, err := procprobe.GroupChildren(os.Getpid(), false)
		return len(children), err
	}, time.Second)
	signal.Stop(sigCh)
	d.emitMessage("All children are gone. Parent is exiting...\n")
	d.exitFn(0)
}

// drainProcessGroup polls count until it reports zero remaining
// processes. A listing error is transient (processes may be mid-exit
// while we read them), so it is logged and the poll continues rather
// than ending supervision early.
func (d *Daemon) drainProcessGroup(count func() (int, error), interval time.Duration) {
	for {
		n, err := count()
		if err != nil {
			d.logger.Warn("unable to list process group children", "error", err)
		} else if n == 0 {
			return
		}
		time.Sleep(interval)
	}
}
