// Package procscan takes point-in-time snapshots of the OS process table.
//
// Detection is polling-based: a process that starts and exits entirely
// between two snapshots is not observed. Portable process event
// hooks do not exist across linux/darwin/windows without elevated privileges,
// so the one-second poll is the accepted approximation.
package procscan

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Proc is one entry of a snapshot: a live pid and its executable path.
type Proc struct {
	PID  int32
	Exe  string
	norm string
}

// Snapshot is an immutable view of the process table at one instant.
type Snapshot struct {
	takenAt time.Time
	byPID   map[int32]Proc
}

// Normalize canonicalizes an executable path for case-insensitive matching:
// cleaned, lower-cased, forward slashes only.
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.ToLower(filepath.ToSlash(filepath.Clean(p)))
}

// Take scans the process table. Per-process read failures (the process exited
// mid-read, or access was denied) skip that pid only; they are logged at
// debug level and never abort the scan.
func Take(log *slog.Logger) Snapshot {
	snap := Snapshot{takenAt: time.Now(), byPID: make(map[int32]Proc)}
	procs, err := gopsproc.Processes()
	if err != nil {
		if log != nil {
			log.Warn("process table scan failed", "error", err)
		}
		return snap
	}
	for _, p := range procs {
		exe, err := p.Exe()
		if err != nil || exe == "" {
			// Exited mid-read or permission denied: absent this tick.
			if err != nil && log != nil {
				log.Debug("skip process during scan", "pid", p.Pid, "error", err)
			}
			continue
		}
		snap.byPID[p.Pid] = Proc{PID: p.Pid, Exe: exe, norm: Normalize(exe)}
	}
	return snap
}

// TakenAt returns the instant the snapshot was started.
func (s Snapshot) TakenAt() time.Time { return s.takenAt }

// Len returns the number of observed processes.
func (s Snapshot) Len() int { return len(s.byPID) }

// Contains reports whether pid was observed in the snapshot.
func (s Snapshot) Contains(pid int32) bool {
	_, ok := s.byPID[pid]
	return ok
}

// Match finds a process whose executable matches monitorPath. The comparison
// is case-insensitive on normalized paths; a bare name or relative suffix
// (e.g. "game.exe" or "bin/game") matches on a path-segment boundary.
func (s Snapshot) Match(monitorPath string) (Proc, bool) {
	want := Normalize(monitorPath)
	if want == "" {
		return Proc{}, false
	}
	for _, p := range s.byPID {
		if p.norm == want || strings.HasSuffix(p.norm, "/"+want) {
			return p, true
		}
	}
	return Proc{}, false
}

// StartTime returns the best-available start time for pid, or zero when the
// platform cannot provide one. Callers fall back to the tick time.
func StartTime(pid int32) time.Time {
	if unix := procStartUnix(int(pid)); unix > 0 {
		return time.Unix(unix, 0)
	}
	p, err := gopsproc.NewProcess(pid)
	if err != nil {
		return time.Time{}
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// FakeSnapshot constructs a snapshot from fixed entries; used by tests.
func FakeSnapshot(at time.Time, procs ...Proc) Snapshot {
	s := Snapshot{takenAt: at, byPID: make(map[int32]Proc, len(procs))}
	for _, p := range procs {
		p.norm = Normalize(p.Exe)
		s.byPID[p.PID] = p
	}
	return s
}
