package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/playwarden/playwarden/internal/procscan"
)

// markerMeta pins the marker to one specific process incarnation. A bare PID
// is not enough: PIDs get recycled, and a marker pointing at an unrelated
// process would block startup forever.
type markerMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// writeMarker records the server PID plus its start time. Format is the PID
// on the first line and a JSON meta blob on the second.
func writeMarker(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	meta := markerMeta{}
	if ts := procscan.StartTime(int32(pid)); !ts.IsZero() {
		meta.StartUnix = ts.Unix()
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n" + string(b) + "\n"
	return os.WriteFile(path, []byte(content), 0o600)
}

// readMarker parses a marker file. A missing meta line is tolerated for
// markers written by older builds.
func readMarker(path string) (pid int, meta markerMeta, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, markerMeta{}, err
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err = strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, markerMeta{}, fmt.Errorf("malformed marker %s: %w", path, err)
	}
	if len(lines) > 1 {
		// Meta is advisory; a parse failure degrades to PID-only matching.
		_ = json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &meta)
	}
	return pid, meta, nil
}

// markerAlive reports whether the marker points at a live process that is the
// same incarnation the marker was written for. Start times are compared with
// one second of slack since the two reads may quantize differently.
func markerAlive(path string) (int, bool) {
	pid, meta, err := readMarker(path)
	if err != nil {
		return 0, false
	}
	if !pidAlive(pid) {
		return pid, false
	}
	if meta.StartUnix != 0 {
		if ts := procscan.StartTime(int32(pid)); !ts.IsZero() {
			d := ts.Unix() - meta.StartUnix
			if d < -1 || d > 1 {
				return pid, false
			}
		}
	}
	return pid, true
}

func removeMarker(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
