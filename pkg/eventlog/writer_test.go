package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentd/pkg/tracker"
)

func TestWriteAndReadRecords(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	first := tracker.NewActionRecord("health", "check", tracker.ResultRecorded, "")
	second := tracker.NewActionRecord("health", "check", tracker.ResultRejected, "rate_limit")
	require.NoError(t, w.WriteRecord(first))
	require.NoError(t, w.WriteRecord(second))

	records, err := ReadRecords(w.CurrentLogFile())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ActionID, records[0].ActionID)
	assert.Equal(t, tracker.ResultRejected, records[1].Result)
	assert.Equal(t, "rate_limit", records[1].Reason)
}

func TestDailyRotation(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	day1 := time.Date(2026, 8, 1, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day1 }
	require.NoError(t, w.WriteRecord(tracker.NewActionRecord("t", "p", tracker.ResultRecorded, "")))
	firstFile := w.CurrentLogFile()
	assert.Contains(t, firstFile, "2026-08-01")

	w.now = func() time.Time { return day1.Add(2 * time.Minute) }
	require.NoError(t, w.WriteRecord(tracker.NewActionRecord("t", "p", tracker.ResultRecorded, "")))
	secondFile := w.CurrentLogFile()
	assert.Contains(t, secondFile, "2026-08-02")
	assert.NotEqual(t, firstFile, secondFile)

	files, err := ListLogFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestCloseThenWriteReopens(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Empty(t, w.CurrentLogFile())

	// Writing after close rotates a fresh file handle.
	require.NoError(t, w.WriteRecord(tracker.NewActionRecord("t", "p", tracker.ResultFailed, "boom")))
	assert.NotEmpty(t, w.CurrentLogFile())
	require.NoError(t, w.Close())
}

func TestReadRecordsMissingFile(t *testing.T) {
	_, err := ReadRecords("/nonexistent/actions-2026-01-01.jsonl")
	require.Error(t, err)
}
