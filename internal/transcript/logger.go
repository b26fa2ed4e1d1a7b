package transcript

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

var csvHeader = []string{"time", "role", "text"}

// Logger appends finished messages of one lesson to a CSV file named
// <dir>/<prefix>_<yyyymmdd>_<hhmmss>.csv.
type Logger struct {
	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	closed bool
}

func NewLogger(dir, prefix string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	base := fmt.Sprintf("%s_%s", sanitize(prefix), time.Now().Format("20060102_150405"))
	f, err := createUnique(dir, base)
	if err != nil {
		return nil, fmt.Errorf("create transcript file: %w", err)
	}

	// BOM so spreadsheet apps pick UTF-8.
	if _, err := f.WriteString("\ufeff"); err != nil {
		f.Close()
		return nil, fmt.Errorf("write transcript header: %w", err)
	}
	l := &Logger{f: f, w: csv.NewWriter(f)}
	l.row(csvHeader)
	return l, nil
}

// createUnique creates <base>.csv, or <base>_2.csv and so on when lessons
// start within the same second.
func createUnique(dir, base string) (*os.File, error) {
	name := base + ".csv"
	for n := 2; ; n++ {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if !errors.Is(err, fs.ErrExist) || n > 100 {
			return f, err
		}
		name = fmt.Sprintf("%s_%d.csv", base, n)
	}
}

// Write appends m. Calls after Close are dropped.
func (l *Logger) Write(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.row([]string{m.Timestamp.Format("15:04:05"), string(m.Role), m.Text})
}

func (l *Logger) row(rec []string) {
	l.w.Write(rec)
	l.w.Flush()
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.w.Flush()
	return l.f.Close()
}

func (l *Logger) Path() string { return l.f.Name() }

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, s)
}

// FileInfo describes a saved transcript.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ListFiles returns the CSV transcripts in dir, most recently written first.
// A missing dir yields an empty list.
func ListFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	slices.SortFunc(files, func(a, b FileInfo) int { return b.ModTime.Compare(a.ModTime) })
	return files, nil
}
