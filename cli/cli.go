// Package cli exposes a daemon's actions as a cobra command tree. The
// built-in actions get their usual flags (--debug, --timeout, --force,
// --json, --fields); custom actions become bare subcommands.
package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jnrbsn/daemonocle"
	"github.com/jnrbsn/daemonocle/internal/procprobe"
)

// New builds the root command for the given daemon. The returned command
// is ready for Execute; a non-nil Execute error means the action failed
// and the process should exit non-zero.
func New(d *daemonocle.Daemon) *cobra.Command {
	root := &cobra.Command{
		Use:           d.Name(),
		Short:         fmt.Sprintf("Control the %s daemon", d.Name()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	for _, name := range d.Actions() {
		root.AddCommand(newActionCommand(d, name))
	}
	return root
}

func newActionCommand(d *daemonocle.Daemon, name string) *cobra.Command {
	switch name {
	case "start":
		return newStartCommand(d)
	case "stop":
		return newStopCommand(d)
	case "restart":
		return newRestartCommand(d)
	case "status":
		return newStatusCommand(d)
	}
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Run the %s action", name),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(cmd, d.DoAction(name))
		},
	}
}

func newStartCommand(d *daemonocle.Daemon) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: fmt.Sprintf("Start %s", d.Name()),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(cmd, d.Start(daemonocle.StartOptions{Debug: debug}))
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Run the daemon attached to the terminal")
	return cmd
}

func newStopCommand(d *daemonocle.Daemon) *cobra.Command {
	var (
		timeout time.Duration
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "stop",
		Short: fmt.Sprintf("Stop %s", d.Name()),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(cmd, d.Stop(daemonocle.StopOptions{Timeout: timeout, Force: force}))
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for the daemon to exit (default: the configured stop timeout)")
	cmd.Flags().BoolVar(&force, "force", false, "Send SIGKILL if the daemon outlives the timeout")
	return cmd
}

func newRestartCommand(d *daemonocle.Daemon) *cobra.Command {
	var (
		debug   bool
		timeout time.Duration
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "restart",
		Short: fmt.Sprintf("Stop and restart %s", d.Name()),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(cmd, d.Restart(daemonocle.RestartOptions{
				Debug:   debug,
				Timeout: timeout,
				Force:   force,
			}))
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Run the new daemon attached to the terminal")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for the old daemon to exit (default: the configured stop timeout)")
	cmd.Flags().BoolVar(&force, "force", false, "Send SIGKILL if the old daemon outlives the timeout")
	return cmd
}

func newStatusCommand(d *daemonocle.Daemon) *cobra.Command {
	var (
		asJSON bool
		fields string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: fmt.Sprintf("Report whether %s is running", d.Name()),
		RunE: func(cmd *cobra.Command, args []string) error {
			requested := splitFields(fields)
			if !asJSON && len(requested) > 0 && allProbeFields(requested) {
				return report(cmd, statusTable(cmd, d, requested))
			}
			return report(cmd, d.Status(daemonocle.StatusOptions{
				JSON:   asJSON,
				Fields: requested,
			}))
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render the status as a JSON object")
	cmd.Flags().StringVar(&fields, "fields", "", "Comma-separated status fields to report")
	return cmd
}

func splitFields(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var fields []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func allProbeFields(fields []string) bool {
	for _, f := range fields {
		if !procprobe.KnownField(f) {
			return false
		}
	}
	return true
}

// statusTable renders one row per process in the daemon's group, like a
// scoped ps. Used for text output when every requested field is a
// per-process probe field.
func statusTable(cmd *cobra.Command, d *daemonocle.Daemon, fields []string) error {
	pid := d.CurrentPID()
	if pid == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s -- not running\n", d.Name())
		return daemonocle.ErrNotRunning
	}

	group, err := procprobe.GroupInfo(pid, fields)
	if err != nil {
		return err
	}
	pids := make([]int, 0, len(group))
	for p := range group {
		pids = append(pids, p)
	}
	sort.Ints(pids)

	headers := make([]string, 0, len(fields)+1)
	headers = append(headers, "pid")
	for _, f := range fields {
		if f != "pid" {
			headers = append(headers, f)
		}
	}
	rows := make([][]string, 0, len(pids))
	for _, p := range pids {
		row := make([]string, 0, len(headers))
		row = append(row, fmt.Sprintf("%d", p))
		for _, f := range headers[1:] {
			row = append(row, formatFieldValue(group[p][f]))
		}
		rows = append(rows, row)
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderGroupTable(cmd.OutOrStdout(), headers, rows))
	return nil
}

func formatFieldValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.1f", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// report prints configuration mistakes as an ERROR line; operational
// failures have already been reported by the action itself.
func report(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	var cfgErr *daemonocle.ConfigError
	var envErr *daemonocle.EnvironmentError
	if errors.As(err, &cfgErr) || errors.As(err, &envErr) {
		fmt.Fprintf(cmd.ErrOrStderr(), "ERROR: %v\n", err)
	}
	return err
}
