// Package pathutil rewrites absolute paths across a chroot boundary.
package pathutil

import (
	"path"
	"path/filepath"
)

// Chroot converts an absolute path outside a chroot into the equivalent
// absolute path as seen from inside the chroot. The result always starts
// at "/" even when the input does not live under the chroot directory.
func Chroot(p, chrootDir string) string {
	p = abs(p)
	chrootDir = abs(chrootDir)
	rel, err := filepath.Rel(chrootDir, p)
	if err != nil {
		rel = p
	}
	return path.Clean(path.Join("/", filepath.ToSlash(rel)))
}

// Unchroot converts a chroot-relative absolute path into the equivalent
// absolute path outside the chroot.
func Unchroot(p, chrootDir string) string {
	chrootDir = abs(chrootDir)
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return path.Clean(path.Join(chrootDir, p))
}

func abs(p string) string {
	a, err := filepath.Abs(p)
	if err != nil {
		return path.Clean(p)
	}
	return a
}
