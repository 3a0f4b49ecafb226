package daemonocle

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/jnrbsn/daemonocle/internal/procprobe"
)

// StartOptions adjusts a single start invocation.
type StartOptions struct {
	// Debug runs the daemon attached to the terminal regardless of the
	// configured detach setting.
	Debug bool
}

// Start runs the daemon. For a detached start the calling process exits
// after reporting OK or FAILED; the worker runs in a fully detached
// session. For an attached start the worker runs in the foreground and
// Start only returns on configuration errors.
func (d *Daemon) Start(opts StartOptions) error {
	if d.worker == nil {
		return &ConfigError{Message: "No worker is defined for daemon"}
	}
	if opts.Debug {
		d.detach = false
	}

	switch currentDetachStage() {
	case stageSessionLeader:
		d.runSessionLeader()
		return nil
	case stageDaemon:
		return d.runDaemonStage()
	}

	reloading := os.Getenv(reloadEnv) != ""
	if reloading {
		d.emitMessage("Reloading %s ... ", d.name)
		if err := d.awaitPredecessor(); err != nil {
			d.emitFailed()
			d.emitError("%v", err)
			d.shutdown(err.Error(), 1)
			return err
		}
	}

	if pid := d.readPID(); pid != 0 {
		d.emitWarning("%s already running with PID %d", d.name, pid)
		return nil
	}

	if os.Getenv(foregroundEnv) != "" {
		// We are the supervised child; fall through and become the
		// daemon without spawning another supervisor.
		os.Unsetenv(foregroundEnv)
	} else if d.shouldSupervise(reloading) {
		d.superviseForeground()
		return nil
	}

	if !reloading {
		d.emitMessage("Starting %s ... ", d.name)
	}

	if d.detach {
		d.exitFn(d.launchSessionLeader())
		return nil
	}

	os.Unsetenv(reloadEnv)
	if err := d.setupEnvironment(); err != nil {
		d.emitFailed()
		d.emitError("%v", err)
		return err
	}
	d.emitOK()
	if err := d.acquirePID(); err != nil {
		d.emitError("%v", err)
		return err
	}
	d.logger.Info("daemon started", "name", d.name, "pid", os.Getpid(), "detached", false)
	d.installSignalHandlers()
	d.runWorker()
	return nil
}

// runDaemonStage is the final detached process. Environment setup errors
// are reported on the still-inherited stderr before the streams are
// redirected; after that point output goes to the configured files.
func (d *Daemon) runDaemonStage() error {
	clearDetachStage()
	os.Unsetenv(reloadEnv)

	if err := d.setupEnvironment(); err != nil {
		d.emitError("%v", err)
		d.exitFn(1)
		return err
	}
	if err := d.resetFileDescriptors(); err != nil {
		d.emitError("%v", err)
		d.exitFn(1)
		return err
	}
	if err := d.acquirePID(); err != nil {
		d.emitError("%v", err)
		d.exitFn(1)
		return err
	}
	d.logger.Info("daemon started", "name", d.name, "pid", os.Getpid(), "detached", true)
	d.installSignalHandlers()
	d.runWorker()
	return nil
}

func (d *Daemon) acquirePID() error {
	if err := d.pid.Acquire(os.Getpid()); err != nil {
		return fmt.Errorf("acquire pid file: %w", err)
	}
	return nil
}

// awaitPredecessor waits for the process being reloaded to exit.
func (d *Daemon) awaitPredecessor() error {
	prev, err := strconv.Atoi(os.Getenv(reloadEnv))
	if err != nil || prev <= 0 {
		return nil
	}
	if procprobe.IsAlive(prev, d.stopTimeout) {
		return fmt.Errorf("Previous process (PID %d) did NOT exit during reload", prev)
	}
	return nil
}

// installSignalHandlers arranges for SIGINT, SIGQUIT, and SIGTERM to
// trigger an orderly shutdown with the conventional 128+signal exit
// code. Installed only after the pid file is in place, so a kill during
// startup cannot leave a stale file behind.
func (d *Daemon) installSignalHandlers() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		s, ok := sig.(syscall.Signal)
		if !ok {
			return
		}
		name := unix.SignalName(unix.Signal(s))
		d.logger.Info("termination signal received", "signal", name)
		d.shutdown(fmt.Sprintf("Terminated by %s (%d)", name, int(s)), 128+int(s))
	}()
}

// runWorker invokes the worker and translates its outcome into a
// shutdown. Never returns in production use; tests stub the exit seam.
func (d *Daemon) runWorker() {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("Dying due to unhandled panic: %v", r)
			if !d.detach {
				// Attached to a terminal: clean up, then let the panic
				// surface with its stack trace.
				d.cleanup(msg, 127)
				panic(r)
			}
			d.shutdown(msg, 127)
		}
	}()

	err := d.worker()
	if err == nil {
		d.shutdown("Shutting down normally", 0)
		return
	}

	var req *ExitRequest
	if errors.As(err, &req) {
		switch {
		case req.Message != "":
			code := req.Code
			if code == 0 {
				code = 1
			}
			d.shutdown(fmt.Sprintf("Exiting with message: %s", req.Message), code)
		case req.Code != 0:
			d.shutdown(fmt.Sprintf("Exiting with non-zero exit code %d", req.Code), req.Code)
		default:
			d.shutdown("Shutting down normally", 0)
		}
		return
	}

	if !d.detach {
		d.emitError("%v", err)
	}
	d.shutdown(fmt.Sprintf("Dying due to unhandled error: %v", err), 127)
}

// shutdown runs the shutdown hook, releases the pid file, and exits.
// Safe to reach from both the worker and the signal handler; only the
// first caller performs the cleanup.
func (d *Daemon) shutdown(message string, code int) {
	d.cleanup(message, code)
	d.exitFn(code)
}

func (d *Daemon) cleanup(message string, code int) {
	d.shutdownMu.Lock()
	if d.shutdownComplete {
		d.shutdownMu.Unlock()
		return
	}
	d.shutdownComplete = true
	d.shutdownMu.Unlock()

	d.logger.Info("daemon shutting down", "message", message, "code", code)
	if d.shutdownHook != nil {
		d.shutdownHook(message, code)
	}
	if err := d.pid.Release(); err != nil {
		d.logger.Warn("pid file release failed", "error", err)
	}
}
