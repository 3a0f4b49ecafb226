package daemonocle

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/jnrbsn/daemonocle/internal/pathutil"
	"github.com/jnrbsn/daemonocle/internal/pidfile"
	"github.com/jnrbsn/daemonocle/internal/procprobe"
)

// setupEnvironment applies the configured process environment in order:
// chroot, core dump suppression, working directory, parent directories
// for daemon files, umask, and privilege drop. Each failure is wrapped
// into a ConfigError naming the step.
func (d *Daemon) setupEnvironment() error {
	if cwd, err := os.Getwd(); err == nil {
		d.origWorkDir = cwd
	}

	if d.chrootDir != "" {
		if err := unix.Chdir(d.chrootDir); err != nil {
			return &ConfigError{Message: errorWithCause("Unable to change root directory", err), Err: err}
		}
		if err := unix.Chroot(d.chrootDir); err != nil {
			return &ConfigError{Message: errorWithCause("Unable to change root directory", err), Err: err}
		}
		// Paths were stored in their outside form; re-express them
		// relative to the new root.
		d.workDir = pathutil.Chroot(d.workDir, d.chrootDir)
		if d.pid.Path() != "" {
			d.pid.SetPath(pathutil.Chroot(d.pid.Path(), d.chrootDir))
		}
		if d.stdoutFile != "" {
			d.stdoutFile = pathutil.Chroot(d.stdoutFile, d.chrootDir)
		}
		if d.stderrFile != "" {
			d.stderrFile = pathutil.Chroot(d.stderrFile, d.chrootDir)
		}
	}

	preventCoreDump()

	if err := unix.Chdir(d.workDir); err != nil {
		return &ConfigError{Message: errorWithCause("Unable to change working directory", err), Err: err}
	}

	if err := d.setupDirs(); err != nil {
		return &ConfigError{Message: errorWithCause("Unable to create directories for daemon files", err), Err: err}
	}

	unix.Umask(d.umask)

	if err := d.dropPrivileges(); err != nil {
		return &ConfigError{Message: errorWithCause("Unable to setuid or setgid", err), Err: err}
	}

	return nil
}

func errorWithCause(message string, err error) string {
	return message + " (" + err.Error() + ")"
}

// preventCoreDump disables core dumps so credentials held in memory
// cannot leak into a core file. Platforms without RLIMIT_CORE are
// left alone.
func preventCoreDump() {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &lim); err != nil {
		return
	}
	_ = unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0})
}

// setupDirs creates the parent directories of the pid, stdout, and
// stderr files, owned by the target uid/gid, before privileges drop.
func (d *Daemon) setupDirs() error {
	if err := d.pid.EnsureDir(); err != nil {
		return err
	}
	for _, p := range []string{d.stdoutFile, d.stderrFile} {
		if p == "" {
			continue
		}
		if err := pidfile.EnsureDir(filepath.Dir(p), d.uid, d.gid, d.umask); err != nil {
			return err
		}
	}
	return nil
}

// dropPrivileges sets the group id before the user id, since setgid is
// no longer permitted once the uid has dropped.
func (d *Daemon) dropPrivileges() error {
	if err := unix.Setgid(d.gid); err != nil {
		return err
	}
	return unix.Setuid(d.uid)
}

// resetFileDescriptors redirects the standard streams to their configured
// files (or the null device) and optionally closes everything else.
func (d *Daemon) resetFileDescriptors() error {
	if err := d.redirectStdStreams(); err != nil {
		return err
	}
	if d.closeOpenFiles {
		return d.closeExtraFiles()
	}
	return nil
}

// redirectStdStreams points fd 1 and fd 2 at the configured stdout and
// stderr files, opened for append, falling back to the null device for
// any stream without a file. When both streams share a path they share a
// descriptor. Stdin is pointed at the null device, or simply closed when
// the null device is not needed for the output streams.
func (d *Daemon) redirectStdStreams() error {
	flags := unix.O_CREAT | unix.O_WRONLY | unix.O_APPEND
	mode := uint32(0o666 &^ d.umask)

	stdoutFD, stderrFD, devnull := -1, -1, -1

	if d.stdoutFile != "" {
		fd, err := unix.Open(d.stdoutFile, flags, mode)
		if err != nil {
			return &ConfigError{Message: errorWithCause("Unable to open stdout file "+d.stdoutFile, err), Err: err}
		}
		stdoutFD = fd
	}
	if d.stderrFile != "" {
		if d.stderrFile == d.stdoutFile {
			stderrFD = stdoutFD
		} else {
			fd, err := unix.Open(d.stderrFile, flags, mode)
			if err != nil {
				return &ConfigError{Message: errorWithCause("Unable to open stderr file "+d.stderrFile, err), Err: err}
			}
			stderrFD = fd
		}
	}

	if stdoutFD < 0 || stderrFD < 0 {
		fd, err := unix.Open(os.DevNull, unix.O_RDWR, 0)
		if err != nil {
			if errors.Is(err, unix.ENOENT) {
				return &EnvironmentError{
					Message: `"stdout_file" and "stderr_file" must be provided when "` +
						os.DevNull + `" doesn't exist (e.g. in a chroot jail)`,
					Err: err,
				}
			}
			return &EnvironmentError{Message: errorWithCause("Unable to open "+os.DevNull, err), Err: err}
		}
		devnull = fd
		if stdoutFD < 0 {
			stdoutFD = devnull
		}
		if stderrFD < 0 {
			stderrFD = devnull
		}
	}

	if devnull >= 0 {
		if err := dupTo(devnull, 0); err != nil {
			return err
		}
	} else {
		_ = unix.Close(0)
	}
	if err := dupTo(stdoutFD, 1); err != nil {
		return err
	}
	if err := dupTo(stderrFD, 2); err != nil {
		return err
	}

	// stderrFD and devnull may alias stdoutFD; close each descriptor once.
	if stdoutFD > 2 {
		_ = unix.Close(stdoutFD)
	}
	if stderrFD > 2 && stderrFD != stdoutFD {
		_ = unix.Close(stderrFD)
	}
	if devnull > 2 && devnull != stdoutFD && devnull != stderrFD {
		_ = unix.Close(devnull)
	}
	return nil
}

// closeExtraFiles closes every open descriptor above stderr except the
// one holding the pid file lock, which must stay open for the lock to
// hold. The lock descriptor is identified by device and inode since its
// fd number is owned by the locking library.
func (d *Daemon) closeExtraFiles() error {
	fds, err := procprobe.OpenFDs(os.Getpid())
	if err != nil {
		return &EnvironmentError{Message: errorWithCause("Unable to enumerate open files", err), Err: err}
	}

	var lockStat unix.Stat_t
	haveLock := false
	if d.pid.Locked() {
		if err := unix.Stat(d.pid.Path(), &lockStat); err == nil {
			haveLock = true
		}
	}

	for _, fd := range fds {
		if fd <= 2 {
			continue
		}
		if haveLock {
			var st unix.Stat_t
			if err := unix.Fstat(fd, &st); err == nil &&
				st.Dev == lockStat.Dev && st.Ino == lockStat.Ino {
				continue
			}
		}
		_ = unix.Close(fd)
	}
	return nil
}
