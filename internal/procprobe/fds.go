//go:build unix

package procprobe

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// maxProbedFD bounds the last-resort descriptor scan on the calling process.
const maxProbedFD = 8192

// OpenFDs returns the open file descriptor numbers of the given process.
// It reads the per-process fd directory where the OS has one, falls back to
// lsof, and as a last resort (calling process only) probes descriptor
// numbers directly. Failure to enumerate another process's descriptors after
// both real strategies fail is an environment error.
func OpenFDs(pid int) ([]int, error) {
	if pid == 0 {
		pid = os.Getpid()
	}

	fdDir := fmt.Sprintf("/proc/%d/fd", pid)
	entries, err := os.ReadDir(fdDir)
	if err == nil {
		fds := make([]int, 0, len(entries))
		for _, entry := range entries {
			// ReadDir itself holds a descriptor on the directory;
			// skip the entry that points back at it.
			if target, lerr := os.Readlink(filepath.Join(fdDir, entry.Name())); lerr == nil && target == fdDir {
				continue
			}
			n, cerr := strconv.Atoi(entry.Name())
			if cerr != nil {
				continue
			}
			fds = append(fds, n)
		}
		sort.Ints(fds)
		return fds, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("enumerate open file descriptors via %q: %w", fdDir, err)
	}

	fds, lsofErr := lsofFDs(pid)
	if lsofErr == nil {
		if pid == os.Getpid() {
			fds = liveFDs(fds)
		}
		return fds, nil
	}

	if pid != os.Getpid() {
		return nil, fmt.Errorf(
			"enumerate open file descriptors for pid %d: /proc unavailable and lsof failed: %w", pid, lsofErr)
	}

	var fallback []int
	for fd := 0; fd < maxProbedFD; fd++ {
		var st unix.Stat_t
		if unix.Fstat(fd, &st) == nil {
			fallback = append(fallback, fd)
		}
	}
	return fallback, nil
}

func lsofFDs(pid int) ([]int, error) {
	out, err := exec.Command("lsof", "-a", "-d0-8192", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil, fmt.Errorf("run lsof: %w", err)
	}

	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	if len(lines) < 2 {
		return nil, errors.New("lsof produced no descriptor rows")
	}

	fdColumn := -1
	for i, name := range strings.Fields(string(lines[0])) {
		if strings.EqualFold(name, "fd") {
			fdColumn = i
			break
		}
	}
	if fdColumn < 0 {
		return nil, errors.New("lsof output has no FD column")
	}

	var fds []int
	for _, line := range lines[1:] {
		fields := strings.Fields(string(line))
		if fdColumn >= len(fields) {
			continue
		}
		digits := strings.TrimFunc(fields[fdColumn], func(r rune) bool {
			return r < '0' || r > '9'
		})
		n, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		fds = append(fds, n)
	}
	sort.Ints(fds)
	return fds, nil
}

// liveFDs re-checks descriptors against the current process, dropping ones
// that were only open while lsof ran (its pipes).
func liveFDs(fds []int) []int {
	live := fds[:0]
	for _, fd := range fds {
		var st unix.Stat_t
		if unix.Fstat(fd, &st) == nil {
			live = append(live, fd)
		}
	}
	return live
}
