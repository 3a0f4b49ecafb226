package daemonocle

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jnrbsn/daemonocle/internal/procprobe"
)

// StopOptions adjusts a single stop invocation.
type StopOptions struct {
	// Timeout overrides the configured stop timeout.
	Timeout time.Duration
	// Force escalates to SIGKILL if the daemon is still alive when the
	// timeout expires.
	Force bool
}

// Stop signals the running daemon with SIGTERM and waits for it to exit.
// With Force, a daemon that outlives the timeout is killed outright.
func (d *Daemon) Stop(opts StopOptions) error {
	if d.pid.Path() == "" {
		return &ConfigError{Message: "Cannot stop daemon without PID file"}
	}

	pid := d.readPID()
	if pid == 0 {
		d.emitWarning("%s is not running", d.name)
		return nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.stopTimeout
	}

	d.emitMessage("Stopping %s ... ", d.name)
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		d.emitFailed()
		d.emitError("%v", err)
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	if procprobe.IsAlive(pid, timeout) {
		d.emitFailed()
		d.emitError("Timed out while waiting for process (PID %d) to terminate", pid)
		if !opts.Force {
			return fmt.Errorf("process %d did not terminate within %v", pid, timeout)
		}

		d.emitMessage("Killing %s ... ", d.name)
		if err := unix.Kill(pid, unix.SIGKILL); err != nil {
			d.emitFailed()
			d.emitError("%v", err)
			return fmt.Errorf("kill process %d: %w", pid, err)
		}
		if procprobe.IsAlive(pid, timeout) {
			d.emitFailed()
			d.emitError("Process (PID %d) did not respond to SIGKILL", pid)
			return fmt.Errorf("process %d did not respond to SIGKILL", pid)
		}
	}

	d.emitOK()
	return nil
}

// RestartOptions adjusts a restart invocation.
type RestartOptions struct {
	Debug   bool
	Timeout time.Duration
	Force   bool
}

// Restart stops the running daemon, then starts a fresh one. The start
// is skipped when the stop fails.
func (d *Daemon) Restart(opts RestartOptions) error {
	if err := d.Stop(StopOptions{Timeout: opts.Timeout, Force: opts.Force}); err != nil {
		return err
	}
	return d.Start(StartOptions{Debug: opts.Debug})
}
