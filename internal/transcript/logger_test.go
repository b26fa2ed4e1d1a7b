package transcript

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := NewLogger(dir, "session:1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(l.Path()), "session_1_"))

	at := time.Date(2026, 1, 2, 9, 30, 15, 0, time.UTC)
	l.Write(Message{Role: RoleUser, Text: "How are you?", Timestamp: at, Final: true})
	l.Write(Message{Role: RoleModel, Text: "Great, thanks", Timestamp: at, Final: true})
	require.NoError(t, l.Close())
	l.Write(Message{Role: RoleUser, Text: "dropped"})

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	data = data[3:] // BOM

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"time", "role", "text"},
		{"09:30:15", "user", "How are you?"},
		{"09:30:15", "model", "Great, thanks"},
	}, rows)

	files, err := ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestListFilesMissingDir(t *testing.T) {
	t.Parallel()

	files, err := ListFiles(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestListFilesNewestFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.csv", "b.csv", "notes.txt"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		mt := old.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(p, mt, mt))
	}

	files, err := ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "b.csv", files[0].Name)
	require.Equal(t, "a.csv", files[1].Name)
}

func TestLoggersInSameSecondGetOwnFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var paths []string
	for range 3 {
		l, err := NewLogger(dir, "lesson")
		require.NoError(t, err)
		defer l.Close()
		paths = append(paths, l.Path())
	}
	require.NotEqual(t, paths[0], paths[1])
	require.NotEqual(t, paths[1], paths[2])
	require.NotEqual(t, paths[0], paths[2])

	files, err := ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
}
