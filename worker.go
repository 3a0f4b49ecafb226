package daemonocle

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Worker is the long-running body of a daemon. It is called once, after
// detachment and environment setup are complete. Returning nil shuts the
// daemon down normally; returning an *ExitRequest shuts it down with the
// requested exit code; any other error is treated as an unhandled failure.
type Worker func() error

// ExitRequest is an error a worker returns to ask for an orderly shutdown
// with a specific exit code and optional message.
type ExitRequest struct {
	Code    int
	Message string
}

func (e *ExitRequest) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("exit requested with code %d", e.Code)
}

// Exit returns an ExitRequest carrying only an exit code.
func Exit(code int) error {
	return &ExitRequest{Code: code}
}

// ExitWithMessage returns an ExitRequest that exits with code 1 and logs
// the given message during shutdown.
func ExitWithMessage(message string) error {
	return &ExitRequest{Code: 1, Message: message}
}

// ExecWorker returns a worker that replaces the daemon process with the
// given program via execve. Bare program names are resolved on PATH;
// anything containing a path separator is resolved to an absolute path
// first. The returned worker only returns if the exec itself fails.
func ExecWorker(prog string, args ...string) Worker {
	return func() error {
		path := prog
		var err error
		if strings.ContainsRune(prog, os.PathSeparator) {
			path, err = filepath.Abs(prog)
		} else {
			path, err = exec.LookPath(prog)
		}
		if err != nil {
			return fmt.Errorf("resolve %q: %w", prog, err)
		}
		argv := append([]string{path}, args...)
		return unix.Exec(path, argv, os.Environ())
	}
}
