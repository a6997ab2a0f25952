package manifest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// FileName is the ledger file name inside an output directory.
const FileName = "manifest.jsonl"

// Ledger appends events to and replays events from a single manifest file.
// Appends are individually atomic: exclusive lock, one whole line, fsync,
// unlock. A crash mid-write leaves at most one partial trailing line, which
// readers skip.
type Ledger struct {
	path string
}

// Open returns a Ledger for the given output directory, creating the
// directory if needed. The file itself is created lazily on first append.
func Open(outputDir string) (*Ledger, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, errors.New("manifest: output dir must not be empty")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("manifest: create output dir: %w", err)
	}
	return &Ledger{path: filepath.Join(outputDir, FileName)}, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Append durably adds one event. Safe to call even if a previous process
// crashed mid-write: O_APPEND plus the flock guarantee whole-line writes
// from this process, and Sync forces the line to stable storage before the
// lock is released.
func (l *Ledger) Append(e Event) error {
	if e.Timestamp == "" {
		e.Stamp()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("manifest: marshal event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("manifest: open ledger: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("manifest: lock ledger: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("manifest: append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("manifest: sync ledger: %w", err)
	}
	return nil
}

// LastStatusByID replays the full ledger and returns the most recent event
// per dialogue identifier, by append order. Blank and unparseable lines
// (including a partial trailing line from a crash) are skipped; events with
// no identifier are diagnostics and are ignored.
func (l *Ledger) LastStatusByID() (map[string]Event, error) {
	last := map[string]Event{}

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return last, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: open ledger: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if e.DialogueID == "" {
			continue
		}
		last[e.DialogueID] = e
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("manifest: scan ledger: %w", err)
	}
	return last, nil
}
