package cli

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/jnrbsn/daemonocle"
)

// Config is the TOML file form of a daemon's options, so the binary that
// embeds the daemon does not have to hard-code its paths and identity.
//
//	name = "mydaemon"
//	pid_file = "/var/run/mydaemon.pid"
//	work_dir = "/var/lib/mydaemon"
//	stdout_file = "/var/log/mydaemon.log"
//	stderr_file = "/var/log/mydaemon.log"
//	umask = "027"
//	stop_timeout_seconds = 30
type Config struct {
	Name               string `toml:"name"`
	PIDFile            string `toml:"pid_file"`
	Detach             *bool  `toml:"detach"`
	WorkDir            string `toml:"work_dir"`
	ChrootDir          string `toml:"chroot_dir"`
	StdoutFile         string `toml:"stdout_file"`
	StderrFile         string `toml:"stderr_file"`
	UID                *int   `toml:"uid"`
	GID                *int   `toml:"gid"`
	Umask              string `toml:"umask"`
	CloseOpenFiles     bool   `toml:"close_open_files"`
	StopTimeoutSeconds int    `toml:"stop_timeout_seconds"`
}

// LoadConfig reads and parses a TOML config file. Unknown keys are an
// error so typos fail loudly instead of being silently ignored.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Options translates the config into daemon options. Unset fields
// produce no option, leaving the daemon's defaults in place.
func (c *Config) Options() ([]daemonocle.Option, error) {
	var opts []daemonocle.Option
	if c.Name != "" {
		opts = append(opts, daemonocle.WithName(c.Name))
	}
	if c.PIDFile != "" {
		opts = append(opts, daemonocle.WithPIDFile(c.PIDFile))
	}
	if c.Detach != nil {
		opts = append(opts, daemonocle.WithDetach(*c.Detach))
	}
	if c.WorkDir != "" {
		opts = append(opts, daemonocle.WithWorkDir(c.WorkDir))
	}
	if c.ChrootDir != "" {
		opts = append(opts, daemonocle.WithChrootDir(c.ChrootDir))
	}
	if c.StdoutFile != "" {
		opts = append(opts, daemonocle.WithStdoutFile(c.StdoutFile))
	}
	if c.StderrFile != "" {
		opts = append(opts, daemonocle.WithStderrFile(c.StderrFile))
	}
	if c.UID != nil || c.GID != nil {
		uid, gid := os.Getuid(), os.Getgid()
		if c.UID != nil {
			uid = *c.UID
		}
		if c.GID != nil {
			gid = *c.GID
		}
		opts = append(opts, daemonocle.WithUser(uid, gid))
	}
	if c.Umask != "" {
		umask, err := strconv.ParseUint(c.Umask, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid umask %q: %w", c.Umask, err)
		}
		opts = append(opts, daemonocle.WithUmask(int(umask)))
	}
	if c.CloseOpenFiles {
		opts = append(opts, daemonocle.WithCloseOpenFiles(true))
	}
	if c.StopTimeoutSeconds > 0 {
		opts = append(opts, daemonocle.WithStopTimeout(time.Duration(c.StopTimeoutSeconds)*time.Second))
	}
	return opts, nil
}
