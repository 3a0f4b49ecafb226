package daemonocle

import (
	"fmt"
	"os"
	"os/exec"
)

// Reload replaces the running daemon with a freshly started copy. It may
// only be called from inside the daemon process itself, typically from a
// SIGHUP-style custom action or from the worker. The replacement is
// launched detached with the original argv and working directory; it
// waits for this process to exit before taking over the pid file, so the
// two never run concurrently. On success this process shuts down and
// does not return.
func (d *Daemon) Reload() error {
	pid := d.readPID()
	if pid == 0 || pid != os.Getpid() {
		return &ConfigError{Message: "Daemon.Reload() should only be called by the daemon process itself"}
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate own executable: %w", err)
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Dir = d.origWorkDir
	cmd.Env = append(environWithout(reloadEnv, detachStageEnv),
		fmt.Sprintf("%s=%d", reloadEnv, os.Getpid()))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start replacement process: %w", err)
	}
	_ = cmd.Process.Release()

	d.logger.Info("reloading", "name", d.name, "pid", os.Getpid())
	d.shutdown("Shutting down for reload", 0)
	return nil
}
