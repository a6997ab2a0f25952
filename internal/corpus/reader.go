// Package corpus normalizes raw delimited transcript files into dialogues.
package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"dialogue-annotator/internal/domain"
)

// ErrMalformedInput marks a source file whose dialogue identifier cannot be
// derived. The item is dropped from consideration; everything else in this
// package is best-effort.
var ErrMalformedInput = errors.New("corpus: malformed input")

const (
	columnRole      = "role"
	columnOrdinal   = "turn.number"
	columnTimestamp = "timestamp"

	defaultPattern       = "*.tsv"
	defaultContentColumn = "text"
	defaultDataset       = "corpus"

	metadataKeyColumn = "filename"
)

// roleTable is the fixed, case-insensitive mapping from source roles to the
// normalized two-valued role set. Rows with any other role (e.g. a
// third-party observer) are dropped.
var roleTable = map[string]domain.Role{
	"student": domain.RoleInitiator,
	"teacher": domain.RoleResponder,
}

// Config controls how source files are discovered and parsed.
type Config struct {
	// DataDir is the directory holding one delimited file per dialogue.
	DataDir string
	// Pattern is the glob matched against filenames inside DataDir.
	Pattern string
	// ContentColumn names the column holding the utterance text.
	ContentColumn string
	// MetadataPath is an optional CSV mapping filename to metadata columns.
	MetadataPath string
	// Dataset labels the source corpus in output records.
	Dataset string
}

// Candidate is one discovered source file. Err is non-nil (ErrMalformedInput)
// when no identifier could be derived from the filename.
type Candidate struct {
	ID   string
	Path string
	Err  error
}

// Reader produces normalized dialogues from a source directory.
type Reader struct {
	cfg  Config
	meta map[string]map[string]string
}

// NewReader creates a Reader and eagerly loads the optional metadata
// sidecar. A missing or unreadable sidecar yields empty metadata, not an
// error.
func NewReader(cfg Config) (*Reader, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, errors.New("corpus: data dir must not be empty")
	}
	if cfg.Pattern == "" {
		cfg.Pattern = defaultPattern
	}
	if cfg.ContentColumn == "" {
		cfg.ContentColumn = defaultContentColumn
	}
	if cfg.Dataset == "" {
		cfg.Dataset = defaultDataset
	}
	r := &Reader{cfg: cfg}
	r.meta = loadMetadata(cfg.MetadataPath)
	return r, nil
}

// Candidates lists all matching source files in lexicographic filename
// order, so processing caps and dry-run previews are reproducible.
func (r *Reader) Candidates() ([]Candidate, error) {
	paths, err := filepath.Glob(filepath.Join(r.cfg.DataDir, r.cfg.Pattern))
	if err != nil {
		return nil, fmt.Errorf("corpus: glob %q: %w", r.cfg.Pattern, err)
	}
	sort.Strings(paths)

	out := make([]Candidate, 0, len(paths))
	for _, p := range paths {
		id, derr := DeriveID(p)
		out = append(out, Candidate{ID: id, Path: p, Err: derr})
	}
	return out, nil
}

// DeriveID returns the stable dialogue identifier for a source path: the
// base filename with its extension stripped. It is a pure function of the
// path, which is what makes resumability possible.
func DeriveID(path string) (string, error) {
	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: no identifier derivable from %q", ErrMalformedInput, path)
	}
	return id, nil
}

// Load re-derives the dialogue for a candidate from its source file. Rows
// with unmapped roles or empty content are dropped; remaining rows are
// stable-sorted by their explicit ordinal so turn order matches the
// conversation, not file order.
func (r *Reader) Load(c Candidate) (domain.Dialogue, error) {
	if c.Err != nil {
		return domain.Dialogue{}, c.Err
	}

	f, err := os.Open(c.Path)
	if err != nil {
		return domain.Dialogue{}, fmt.Errorf("corpus: open %s: %w", c.Path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return domain.Dialogue{}, fmt.Errorf("corpus: read header of %s: %w", c.Path, err)
	}
	col := columnIndex(header)

	type orderedTurn struct {
		turn    domain.Turn
		ordinal int
	}
	var rows []orderedTurn

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Best-effort: a ragged or unparseable row is dropped, the
			// rest of the file still counts.
			continue
		}

		role, ok := roleTable[strings.ToLower(cell(record, col, columnRole))]
		if !ok {
			continue
		}
		content := strings.TrimSpace(cell(record, col, r.cfg.ContentColumn))
		if content == "" {
			continue
		}

		rows = append(rows, orderedTurn{
			turn: domain.Turn{
				Role:      role,
				Content:   content,
				Timestamp: cell(record, col, columnTimestamp),
			},
			ordinal: parseOrdinal(cell(record, col, columnOrdinal)),
		})
	}

	// Classification prompts depend on the immediately preceding turn, so
	// ordering is load-bearing. Stable sort keeps file order for ties.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ordinal < rows[j].ordinal })

	turns := make([]domain.Turn, len(rows))
	for i, row := range rows {
		turns[i] = row.turn
	}

	filename := filepath.Base(c.Path)
	meta := r.meta[filename]
	if meta == nil {
		meta = map[string]string{}
	}

	return domain.Dialogue{
		ID:    c.ID,
		Turns: turns,
		Source: domain.SourceInfo{
			Dataset:  r.cfg.Dataset,
			Path:     c.Path,
			Filename: filename,
			Metadata: meta,
		},
	}, nil
}

// columnIndex maps trimmed header names to their positions.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	return idx
}

func cell(record []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// parseOrdinal tolerates quoted, fractional, and NA-style ordinal cells,
// defaulting to zero.
func parseOrdinal(s string) int {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if s == "" || strings.EqualFold(s, "na") {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f)
}

// loadMetadata reads the sidecar CSV keyed by filename. Any failure yields
// an empty map: metadata is attached when available, never required.
func loadMetadata(path string) map[string]map[string]string {
	meta := map[string]map[string]string{}
	if strings.TrimSpace(path) == "" {
		return meta
	}
	f, err := os.Open(path)
	if err != nil {
		return meta
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return meta
	}
	col := columnIndex(header)

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		key := strings.Trim(cell(record, col, metadataKeyColumn), `"`)
		if key == "" {
			continue
		}
		row := make(map[string]string, len(header))
		for name, i := range col {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		meta[key] = row
	}
	return meta
}
