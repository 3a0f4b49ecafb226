package pathutil_test

import (
	"testing"

	"github.com/jnrbsn/daemonocle/internal/pathutil"
)

func TestChroot(t *testing.T) {
	cases := []struct {
		path      string
		chrootDir string
		want      string
	}{
		{"/srv/jail/var/run/app.pid", "/srv/jail", "/var/run/app.pid"},
		{"/srv/jail", "/srv/jail", "/"},
		{"/srv/jail/", "/srv/jail", "/"},
		{"/srv/jail/nested/../log", "/srv/jail", "/log"},
	}
	for _, c := range cases {
		if got := pathutil.Chroot(c.path, c.chrootDir); got != c.want {
			t.Errorf("Chroot(%q, %q) = %q, want %q", c.path, c.chrootDir, got, c.want)
		}
	}
}

func TestUnchroot(t *testing.T) {
	cases := []struct {
		path      string
		chrootDir string
		want      string
	}{
		{"/var/run/app.pid", "/srv/jail", "/srv/jail/var/run/app.pid"},
		{"/", "/srv/jail", "/srv/jail"},
		{"//double/slash", "/srv/jail", "/srv/jail/double/slash"},
	}
	for _, c := range cases {
		if got := pathutil.Unchroot(c.path, c.chrootDir); got != c.want {
			t.Errorf("Unchroot(%q, %q) = %q, want %q", c.path, c.chrootDir, got, c.want)
		}
	}
}

func TestChrootUnchrootRoundTrip(t *testing.T) {
	const chrootDir = "/srv/jail"
	for _, p := range []string{"/var/run/app.pid", "/log/out.log", "/"} {
		outside := pathutil.Unchroot(p, chrootDir)
		if got := pathutil.Chroot(outside, chrootDir); got != p {
			t.Errorf("round trip of %q via %q = %q", p, outside, got)
		}
	}
}
