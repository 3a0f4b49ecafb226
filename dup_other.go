//go:build unix && !linux

package daemonocle

import "golang.org/x/sys/unix"

func dupTo(fd, target int) error {
	if fd == target {
		return nil
	}
	return unix.Dup2(fd, target)
}
