// Package output persists finished dialogue records, one JSON file per
// dialogue. Writes go through a temporary file and an atomic rename so a
// reader can never observe a partially-written record; file existence is
// authoritative for "has output".
package output

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"dialogue-annotator/internal/domain"
)

// SubDir is the directory under the output root holding finished records.
const SubDir = "conversations"

var unsafeRuns = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Writer persists finished dialogues under <root>/conversations.
type Writer struct {
	dir string
}

// NewWriter creates the conversations directory if needed.
func NewWriter(root string) (*Writer, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("output: root dir must not be empty")
	}
	dir := filepath.Join(root, SubDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("output: create conversations dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the conversations directory.
func (w *Writer) Dir() string { return w.dir }

// PathFor returns the deterministic final path for a dialogue identifier.
// Re-deriving the identifier always maps to the same file.
func (w *Writer) PathFor(id string) string {
	return filepath.Join(w.dir, SafeFilename(id)+".json")
}

// Write persists the record for the given dialogue: serialize to an
// adjacent temporary file, flush to stable storage, then rename onto the
// final path. An interrupted write leaves nothing at the final path.
func (w *Writer) Write(d domain.Dialogue) (string, error) {
	if strings.TrimSpace(d.ID) == "" {
		return "", errors.New("output: dialogue id must not be empty")
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("output: marshal dialogue %s: %w", d.ID, err)
	}
	data = append(data, '\n')

	final := w.PathFor(d.ID)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("output: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("output: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("output: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("output: close temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("output: rename into place: %w", err)
	}
	return final, nil
}

// ExistingIDs scans the conversations directory and returns the identifiers
// of all records already written. Unreadable or foreign files are skipped:
// presence in this set requires a whole, parseable record.
func (w *Writer) ExistingIDs() (map[string]bool, error) {
	paths, err := filepath.Glob(filepath.Join(w.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("output: scan conversations dir: %w", err)
	}
	ids := make(map[string]bool, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var rec struct {
			ID string `json:"dialogue_id"`
		}
		if err := json.Unmarshal(data, &rec); err != nil || rec.ID == "" {
			continue
		}
		ids[rec.ID] = true
	}
	return ids, nil
}

// SafeFilename sanitizes a dialogue identifier for use as a filename:
// non-alphanumeric runs collapse to a single underscore, degenerate results
// fall back to a content hash, and overlong names keep a hash suffix so
// colliding identifiers stay distinguishable.
func SafeFilename(id string) string {
	clean := unsafeRuns.ReplaceAllString(id, "_")
	if clean == "" || clean == "." || clean == ".." {
		clean = sha1Hex(id)
	}
	if len(clean) > 120 {
		clean = clean[:80] + "_" + sha1Hex(id)[:16]
	}
	return clean
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
