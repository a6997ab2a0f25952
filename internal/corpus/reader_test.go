package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"dialogue-annotator/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestReader(t *testing.T, dir string) *Reader {
	t.Helper()
	r, err := NewReader(Config{DataDir: dir})
	require.NoError(t, err)
	return r
}

func TestNewReader_EmptyDataDir(t *testing.T) {
	_, err := NewReader(Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "data dir")
}

func TestCandidates_LexicographicOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chat02.tsv", "role\tturn.number\ttimestamp\ttext\n")
	writeFile(t, dir, "chat10.tsv", "role\tturn.number\ttimestamp\ttext\n")
	writeFile(t, dir, "chat01.tsv", "role\tturn.number\ttimestamp\ttext\n")
	writeFile(t, dir, "notes.txt", "not a transcript")

	r := newTestReader(t, dir)
	cands, err := r.Candidates()
	require.NoError(t, err)
	require.Len(t, cands, 3)
	require.Equal(t, "chat01", cands[0].ID)
	require.Equal(t, "chat02", cands[1].ID)
	require.Equal(t, "chat10", cands[2].ID)
}

func TestDeriveID_Malformed(t *testing.T) {
	_, err := DeriveID("/data/.tsv")
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestDeriveID_StripsExtension(t *testing.T) {
	id, err := DeriveID("/data/chat00002.tsv")
	require.NoError(t, err)
	require.Equal(t, "chat00002", id)
}

func TestLoad_TurnOrderingByOrdinal(t *testing.T) {
	dir := t.TempDir()
	// Ordinals arrive out of order with identical timestamps; the dialogue
	// must come back sorted [1,2,3].
	writeFile(t, dir, "chat.tsv",
		"role\tturn.number\ttimestamp\ttext\n"+
			"teacher\t3\t2021-01-01\tthird\n"+
			"student\t1\t2021-01-01\tfirst\n"+
			"teacher\t2\t2021-01-01\tsecond\n")

	r := newTestReader(t, dir)
	cands, err := r.Candidates()
	require.NoError(t, err)
	dlg, err := r.Load(cands[0])
	require.NoError(t, err)

	require.Len(t, dlg.Turns, 3)
	require.Equal(t, "first", dlg.Turns[0].Content)
	require.Equal(t, "second", dlg.Turns[1].Content)
	require.Equal(t, "third", dlg.Turns[2].Content)
}

func TestLoad_StableSortKeepsFileOrderForTies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chat.tsv",
		"role\tturn.number\ttimestamp\ttext\n"+
			"student\t1\t\ta\n"+
			"teacher\t1\t\tb\n"+
			"student\t1\t\tc\n")

	r := newTestReader(t, dir)
	cands, _ := r.Candidates()
	dlg, err := r.Load(cands[0])
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, []string{
		dlg.Turns[0].Content, dlg.Turns[1].Content, dlg.Turns[2].Content,
	})
}

func TestLoad_RoleMapping(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chat.tsv",
		"role\tturn.number\ttimestamp\ttext\n"+
			"Student\t1\t\thello\n"+
			"TEACHER\t2\t\thi there\n"+
			"observer\t3\t\tshould be dropped\n"+
			"researcher\t4\t\talso dropped\n"+
			"teacher\t5\t\tcase variants map too\n")

	r := newTestReader(t, dir)
	cands, _ := r.Candidates()
	dlg, err := r.Load(cands[0])
	require.NoError(t, err)

	require.Len(t, dlg.Turns, 3)
	require.Equal(t, domain.RoleInitiator, dlg.Turns[0].Role)
	require.Equal(t, domain.RoleResponder, dlg.Turns[1].Role)
	require.Equal(t, domain.RoleResponder, dlg.Turns[2].Role)
}

func TestLoad_DropsEmptyContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chat.tsv",
		"role\tturn.number\ttimestamp\ttext\n"+
			"student\t1\t\t   \n"+
			"teacher\t2\t\treal content\n")

	r := newTestReader(t, dir)
	cands, _ := r.Candidates()
	dlg, err := r.Load(cands[0])
	require.NoError(t, err)
	require.Len(t, dlg.Turns, 1)
	require.Equal(t, "real content", dlg.Turns[0].Content)
}

func TestLoad_AttachesMetadata(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chat.tsv",
		"role\tturn.number\ttimestamp\ttext\n"+
			"student\t1\t\thello\n")
	metaPath := writeFile(t, dir, "meta.csv",
		"filename,level,subject\nchat.tsv,B2,grammar\nother.tsv,A1,vocab\n")

	r, err := NewReader(Config{DataDir: dir, MetadataPath: metaPath})
	require.NoError(t, err)
	cands, _ := r.Candidates()
	dlg, err := r.Load(cands[0])
	require.NoError(t, err)
	require.Equal(t, "B2", dlg.Source.Metadata["level"])
	require.Equal(t, "grammar", dlg.Source.Metadata["subject"])
}

func TestLoad_MissingMetadataIsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chat.tsv",
		"role\tturn.number\ttimestamp\ttext\n"+
			"student\t1\t\thello\n")

	r, err := NewReader(Config{DataDir: dir, MetadataPath: filepath.Join(dir, "nope.csv")})
	require.NoError(t, err)
	cands, _ := r.Candidates()
	dlg, err := r.Load(cands[0])
	require.NoError(t, err)
	require.NotNil(t, dlg.Source.Metadata)
	require.Empty(t, dlg.Source.Metadata)
}

func TestLoad_MalformedCandidate(t *testing.T) {
	r := newTestReader(t, t.TempDir())
	_, err := r.Load(Candidate{Path: "/data/.tsv", Err: ErrMalformedInput})
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestLoad_SourceInfo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chat07.tsv",
		"role\tturn.number\ttimestamp\ttext\n"+
			"student\t1\t2021-05-01T10:00:00Z\thello\n")

	r, err := NewReader(Config{DataDir: dir, Dataset: "tscc2"})
	require.NoError(t, err)
	cands, _ := r.Candidates()
	dlg, err := r.Load(cands[0])
	require.NoError(t, err)

	require.Equal(t, "chat07", dlg.ID)
	require.Equal(t, "tscc2", dlg.Source.Dataset)
	require.Equal(t, "chat07.tsv", dlg.Source.Filename)
	require.Equal(t, "2021-05-01T10:00:00Z", dlg.Turns[0].Timestamp)
}

func TestParseOrdinal(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"3", 3},
		{`"7"`, 7},
		{"2.0", 2},
		{"NA", 0},
		{"", 0},
		{"junk", 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, parseOrdinal(tc.in), "in=%q", tc.in)
	}
}
