package manifest

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_EmptyDir(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestAppendAndReplay(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l.Append(Event{Status: StatusSkipped, Reason: ReasonTooFewTurns, DialogueID: "a"}))
	require.NoError(t, l.Append(Event{Status: StatusProcessed, DialogueID: "b"}))

	last, err := l.LastStatusByID()
	require.NoError(t, err)
	require.Len(t, last, 2)
	require.Equal(t, StatusSkipped, last["a"].Status)
	require.Equal(t, StatusProcessed, last["b"].Status)
}

func TestReplay_LastEventWinsByAppendOrder(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	// Timestamps deliberately reversed: append order, not wall clock,
	// defines the current state.
	require.NoError(t, l.Append(Event{Timestamp: "2031-01-01T00:00:00Z", Status: StatusFailed, DialogueID: "a"}))
	require.NoError(t, l.Append(Event{Timestamp: "2020-01-01T00:00:00Z", Status: StatusProcessed, DialogueID: "a"}))

	last, err := l.LastStatusByID()
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, last["a"].Status)
}

func TestReplay_MissingFile(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	last, err := l.LastStatusByID()
	require.NoError(t, err)
	require.Empty(t, last)
}

func TestReplay_SkipsPartialTrailingLine(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, l.Append(Event{Status: StatusProcessed, DialogueID: "a"}))

	// Simulate a crash mid-append: a partial JSON object with no newline.
	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"ts":"2024-01-01T00:00:00Z","status":"proc`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	last, err := l.LastStatusByID()
	require.NoError(t, err)
	require.Len(t, last, 1)
	require.Equal(t, StatusProcessed, last["a"].Status)

	// The ledger must remain appendable after the partial line; the next
	// event lands on its own line regardless.
	require.NoError(t, l.Append(Event{Status: StatusFailed, DialogueID: "b"}))
	last, err = l.LastStatusByID()
	require.NoError(t, err)
	// "b" may or may not survive depending on where the partial line ends;
	// what matters is that replay never fails and "a" is intact.
	require.Equal(t, StatusProcessed, last["a"].Status)
}

func TestReplay_SkipsBlankAndKeylessLines(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l.Append(Event{Status: StatusSkipped, Reason: ReasonInputMalformed}))
	require.NoError(t, l.Append(Event{Status: StatusProcessed, DialogueID: "a"}))

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	last, err := l.LastStatusByID()
	require.NoError(t, err)
	require.Len(t, last, 1)
	require.Contains(t, last, "a")
}

func TestAppend_StampsTimestamp(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, l.Append(Event{Status: StatusProcessed, DialogueID: "a"}))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	require.Contains(t, string(data), `"ts":"`)
	require.True(t, strings.HasSuffix(string(data), "\n"), "each append must end with a line terminator")
}

func TestAppend_WholeLinesAcrossReopens(t *testing.T) {
	dir := t.TempDir()

	l1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, l1.Append(Event{Status: StatusProcessed, DialogueID: "a"}))

	// A second Ledger value over the same directory sees prior state and
	// appends cleanly, as a restarted process would.
	l2, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, l2.Append(Event{Status: StatusFailed, DialogueID: "a"}))

	last, err := l2.LastStatusByID()
	require.NoError(t, err)
	require.Equal(t, StatusFailed, last["a"].Status)
}
