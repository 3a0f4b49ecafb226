package daemonocle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jnrbsn/daemonocle/internal/procprobe"
)

// ErrNotRunning is returned by Status when no live daemon is found. The
// not-running state has already been reported on stdout when the caller
// sees it.
var ErrNotRunning = errors.New("daemon is not running")

// StatusOptions adjusts a status invocation.
type StatusOptions struct {
	// JSON renders the status as a single compact JSON object instead
	// of a human-readable line.
	JSON bool
	// Fields selects which fields to report. Defaults to name, pid,
	// status, uptime, cpu_percent, and memory_percent.
	Fields []string
}

var defaultStatusFields = []string{"name", "pid", "status", "uptime", "cpu_percent", "memory_percent"}

// Status reports on the running daemon. Resource fields are aggregated
// over the daemon's whole process group; identity fields come from the
// primary process.
func (d *Daemon) Status(opts StatusOptions) error {
	if d.pid.Path() == "" {
		return &ConfigError{Message: "Cannot get status of daemon without PID file"}
	}

	fields := opts.Fields
	if len(fields) == 0 {
		fields = defaultStatusFields
	}
	for _, f := range fields {
		switch f {
		case "name", "pid", "uptime":
			continue
		}
		if !procprobe.KnownField(f) {
			return configErrorf("Invalid status field %q", f)
		}
	}

	pid := d.readPID()
	if pid == 0 {
		return d.reportNotRunning(opts.JSON)
	}

	data, err := d.collectStatus(pid, fields)
	if err != nil {
		// The process vanished between the pid file read and the probe.
		return d.reportNotRunning(opts.JSON)
	}

	if opts.JSON {
		out, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode status: %w", err)
		}
		d.emitMessage("%s\n", out)
		return nil
	}

	d.emitMessage("%s\n", renderStatusLine(d.name, fields, data))
	return nil
}

func (d *Daemon) reportNotRunning(asJSON bool) error {
	if asJSON {
		out, _ := json.Marshal(map[string]any{"name": d.name, "status": "dead"})
		d.emitMessage("%s\n", out)
	} else {
		d.emitMessage("%s -- not running\n", d.name)
	}
	return ErrNotRunning
}

// collectStatus gathers the requested fields into a flat map. The
// cpu_percent and memory_percent values are sums over every process in
// the daemon's group; everything else describes the primary process.
func (d *Daemon) collectStatus(pid int, fields []string) (map[string]any, error) {
	var primaryFields, groupFields []string
	for _, f := range fields {
		switch f {
		case "name", "pid":
		case "uptime":
			primaryFields = append(primaryFields, "create_time")
		case "cpu_percent", "memory_percent":
			groupFields = append(groupFields, f)
		default:
			primaryFields = append(primaryFields, f)
		}
	}

	data := make(map[string]any, len(fields))

	if len(primaryFields) > 0 {
		info, err := procprobe.PIDInfo(pid, primaryFields)
		if err != nil {
			return nil, err
		}
		for k, v := range info {
			if k == "create_time" {
				created, ok := v.(float64)
				if !ok {
					return nil, fmt.Errorf("unexpected create_time value %v", v)
				}
				data["uptime"] = float64(time.Now().UnixMilli())/1000.0 - created
				continue
			}
			data[k] = v
		}
	}

	if len(groupFields) > 0 {
		group, err := procprobe.GroupInfo(pid, groupFields)
		if err != nil {
			return nil, err
		}
		if len(group) == 0 {
			return nil, fmt.Errorf("process group of pid %d is empty", pid)
		}
		for _, f := range groupFields {
			var total float64
			for _, info := range group {
				if v, ok := info[f].(float64); ok {
					total += v
				}
			}
			data[f] = total
		}
	}

	for _, f := range fields {
		switch f {
		case "name":
			data["name"] = d.name
		case "pid":
			data["pid"] = pid
		}
	}
	return data, nil
}

// renderStatusLine formats the collected fields as a single line in the
// requested field order.
func renderStatusLine(name string, fields []string, data map[string]any) string {
	var parts []string
	for _, f := range fields {
		if f == "name" {
			continue
		}
		v, ok := data[f]
		if !ok {
			continue
		}
		switch f {
		case "uptime":
			parts = append(parts, fmt.Sprintf("uptime: %s", formatElapsed(v.(float64))))
		case "cpu_percent":
			parts = append(parts, fmt.Sprintf("%%cpu: %.1f", v))
		case "memory_percent":
			parts = append(parts, fmt.Sprintf("%%mem: %.1f", v))
		default:
			parts = append(parts, fmt.Sprintf("%s: %v", f, v))
		}
	}
	if len(parts) == 0 {
		return name
	}
	return name + " -- " + strings.Join(parts, ", ")
}

// formatElapsed renders a duration in seconds as whole minutes, hours,
// and days, e.g. "11d 13h 47m". Durations under a minute render as "0m".
func formatElapsed(seconds float64) string {
	minutes := int(math.Round(seconds / 60))
	hours, minutes := minutes/60, minutes%60
	days, hours := hours/24, hours%24

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd ", days)
	}
	if hours > 0 || days > 0 {
		fmt.Fprintf(&b, "%dh ", hours)
	}
	fmt.Fprintf(&b, "%dm", minutes)
	return b.String()
}
