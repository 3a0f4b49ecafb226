package procprobe

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// cpuSampleInterval is how long CPU-percent sampling blocks per process.
const cpuSampleInterval = time.Second

// Exists reports whether a process with the given pid is in the process
// table and has not yet exited. A zombie keeps its process-table entry
// until reaped but is already dead, so it counts as gone; a pid that
// cannot be queried counts as gone too.
func Exists(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	if err != nil || !ok {
		return false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	states, err := proc.Status()
	if err != nil {
		// Queryable but unreadable (e.g. permissions): still running.
		return true
	}
	for _, state := range states {
		if state == process.Zombie {
			return false
		}
	}
	return true
}

// IsAlive waits up to timeout for the process to exit and reports whether it
// is still alive afterwards. A pid that never existed returns false.
func IsAlive(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !Exists(pid) {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining > 100*time.Millisecond {
			remaining = 100 * time.Millisecond
		}
		time.Sleep(remaining)
	}
}

type groupKey struct {
	pid  int
	pgid int
}

var (
	ancestorMu    sync.Mutex
	ancestorCache = map[groupKey]map[int]struct{}{}
)

// groupAncestors returns the pids to exclude from group membership queries:
// the process itself plus every ancestor that shares its process group, up
// to pid 1. Computed once per (pid, pgid) pair.
func groupAncestors(pid, pgid int) (map[int]struct{}, error) {
	key := groupKey{pid: pid, pgid: pgid}

	ancestorMu.Lock()
	defer ancestorMu.Unlock()
	if cached, ok := ancestorCache[key]; ok {
		return cached, nil
	}

	exclude := map[int]struct{}{0: {}, pid: {}}
	cur := pid
	for {
		gid, err := unix.Getpgid(cur)
		if err != nil || gid != pgid {
			break
		}
		exclude[cur] = struct{}{}
		if cur == 1 {
			break
		}
		proc, err := process.NewProcess(int32(cur))
		if err != nil {
			break
		}
		ppid, err := proc.Ppid()
		if err != nil {
			break
		}
		cur = int(ppid)
	}

	ancestorCache[key] = exclude
	return exclude, nil
}

// GroupChildren returns every live process sharing pid's process group,
// excluding pid's own ancestor chain. With includeSelf, the process itself
// is appended. Results are ordered by pid.
func GroupChildren(pid int, includeSelf bool) ([]*process.Process, error) {
	if pid == 0 {
		pid = os.Getpid()
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return nil, fmt.Errorf("get process group of pid %d: %w", pid, err)
	}

	exclude, err := groupAncestors(pid, pgid)
	if err != nil {
		return nil, err
	}

	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var children []*process.Process
	for _, proc := range procs {
		p := int(proc.Pid)
		if _, excluded := exclude[p]; excluded {
			continue
		}
		gid, err := unix.Getpgid(p)
		if err != nil || gid != pgid {
			// Vanished or not (any longer) in the group.
			continue
		}
		children = append(children, proc)
	}

	if includeSelf {
		if self, err := process.NewProcess(int32(pid)); err == nil {
			children = append(children, self)
		}
	}

	sort.Slice(children, func(i, j int) bool { return children[i].Pid < children[j].Pid })
	return children, nil
}

// GroupInfo collects the requested fields for every process in pid's group
// (pid included). Collection runs one goroutine per process because
// cpu_percent sampling blocks for about a second; processes that vanish
// mid-query are dropped from the result rather than failing the call.
func GroupInfo(pid int, fields []string) (map[int]map[string]any, error) {
	procs, err := GroupChildren(pid, true)
	if err != nil {
		return nil, err
	}

	info := make(map[int]map[string]any, len(procs))

	if len(procs) == 1 {
		data, err := Info(procs[0], fields)
		if err != nil {
			return info, nil
		}
		info[int(procs[0].Pid)] = data
		return info, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, proc := range procs {
		wg.Add(1)
		go func(proc *process.Process) {
			defer wg.Done()
			data, err := Info(proc, fields)
			if err != nil {
				return
			}
			mu.Lock()
			info[int(proc.Pid)] = data
			mu.Unlock()
		}(proc)
	}
	wg.Wait()

	return info, nil
}

// Info collects the requested fields for a single process. Unknown field
// names are an error so callers can distinguish a typo from a vanished
// process.
func Info(proc *process.Process, fields []string) (map[string]any, error) {
	data := make(map[string]any, len(fields))
	for _, field := range fields {
		collect, ok := fieldCollectors[field]
		if !ok {
			return nil, fmt.Errorf("unknown process info field %q", field)
		}
		value, err := collect(proc)
		if err != nil {
			return nil, err
		}
		data[field] = value
	}
	return data, nil
}

// PIDInfo collects the requested fields for the process with the given pid.
func PIDInfo(pid int, fields []string) (map[string]any, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	return Info(proc, fields)
}

// KnownField reports whether the probe can collect the named field.
func KnownField(name string) bool {
	_, ok := fieldCollectors[name]
	return ok
}

var fieldCollectors = map[string]func(*process.Process) (any, error){
	"pid": func(p *process.Process) (any, error) {
		return int(p.Pid), nil
	},
	"ppid": func(p *process.Process) (any, error) {
		v, err := p.Ppid()
		return int(v), err
	},
	"name": func(p *process.Process) (any, error) {
		return p.Name()
	},
	"exe": func(p *process.Process) (any, error) {
		return p.Exe()
	},
	"cmdline": func(p *process.Process) (any, error) {
		return p.Cmdline()
	},
	"status": func(p *process.Process) (any, error) {
		return Status(p)
	},
	"username": func(p *process.Process) (any, error) {
		return p.Username()
	},
	"create_time": func(p *process.Process) (any, error) {
		ms, err := p.CreateTime()
		return float64(ms) / 1000.0, err
	},
	"cpu_percent": func(p *process.Process) (any, error) {
		return p.Percent(cpuSampleInterval)
	},
	"memory_percent": func(p *process.Process) (any, error) {
		v, err := p.MemoryPercent()
		return float64(v), err
	},
	"cwd": func(p *process.Process) (any, error) {
		return p.Cwd()
	},
	"environ": func(p *process.Process) (any, error) {
		return p.Environ()
	},
	"terminal": func(p *process.Process) (any, error) {
		return p.Terminal()
	},
	"open_files": func(p *process.Process) (any, error) {
		return p.OpenFiles()
	},
	"num_fds": func(p *process.Process) (any, error) {
		v, err := p.NumFDs()
		return int(v), err
	},
}

// Status returns the OS-level process state as a single string.
func Status(proc *process.Process) (string, error) {
	states, err := proc.Status()
	if err != nil || len(states) == 0 {
		return "", err
	}
	return states[0], nil
}

// CreateTime returns the process start time as seconds since the epoch.
func CreateTime(pid int) (float64, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, err
	}
	ms, err := proc.CreateTime()
	if err != nil {
		return 0, err
	}
	return float64(ms) / 1000.0, nil
}
