// Package logging builds the client's diagnostics logger. The SDK is
// embedded inside other programs, so file output goes through a size-capped
// rotating file rather than growing without bound across long CLI sessions.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fallbacks for partial configs that route output to a file but leave the
// rotation knobs unset.
const (
	fallbackCapMB      = 10
	fallbackKeep       = 3
	fallbackMaxAgeDays = 14
)

// archiveStamp is the timestamp suffix on rotated-aside files.
const archiveStamp = "2006-01-02T15-04-05"

// A RotatingFile is the io.WriteCloser behind file log output. When the
// current file would grow past its cap it is renamed aside with a timestamp
// suffix, a fresh file is started, and old archives beyond the keep count
// or the age limit are pruned before the write proceeds. Diagnostics records
// can carry account emails and request paths, so the file and its directory
// are created user-only.
type RotatingFile struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	size     int64
	capBytes int64
	keep     int
	maxAge   time.Duration
}

// OpenRotatingFile opens (creating if needed) the diagnostics log at path.
// The file rotates once it exceeds capMB megabytes; at most keep archives
// are retained, none older than maxAgeDays. Non-positive limits fall back
// to client defaults.
func OpenRotatingFile(path string, capMB, keep, maxAgeDays int) (*RotatingFile, error) {
	if capMB <= 0 {
		capMB = fallbackCapMB
	}
	if keep <= 0 {
		keep = fallbackKeep
	}
	if maxAgeDays <= 0 {
		maxAgeDays = fallbackMaxAgeDays
	}

	rf := &RotatingFile{
		path:     path,
		capBytes: int64(capMB) * 1024 * 1024,
		keep:     keep,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	f, err := os.OpenFile(rf.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rf.f = f
	rf.size = info.Size()
	return nil
}

// Write implements io.Writer, rotating first when the record would push the
// file past its cap.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.size+int64(len(p)) > rf.capBytes {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rf.f.Write(p)
	rf.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f != nil {
		return rf.f.Close()
	}
	return nil
}

// rotate renames the current file aside and starts a fresh one. Pruning
// runs synchronously: a short-lived CLI process may exit right after the
// write that triggered rotation.
func (rf *RotatingFile) rotate() error {
	if rf.f != nil {
		rf.f.Close()
	}
	os.Rename(rf.path, rf.archiveName(time.Now())) //nolint:errcheck

	if err := rf.open(); err != nil {
		return err
	}
	rf.prune()
	return nil
}

// archiveName is the rotated-aside name for the current file:
// <base>.<timestamp><ext>.
func (rf *RotatingFile) archiveName(now time.Time) string {
	ext := filepath.Ext(rf.path)
	base := strings.TrimSuffix(rf.path, ext)
	if ext == "" {
		ext = ".log"
	}
	return fmt.Sprintf("%s.%s%s", base, now.Format(archiveStamp), ext)
}

// prune removes archives beyond the keep count (oldest first; the timestamp
// suffix sorts chronologically) and any archive past the age limit.
func (rf *RotatingFile) prune() {
	ext := filepath.Ext(rf.path)
	base := strings.TrimSuffix(filepath.Base(rf.path), ext)
	if ext == "" {
		ext = ".log"
	}
	dir := filepath.Dir(rf.path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	prefix := base + "."
	var archives []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) && name != filepath.Base(rf.path) {
			archives = append(archives, name)
		}
	}
	sort.Strings(archives)

	for len(archives) > rf.keep {
		os.Remove(filepath.Join(dir, archives[0])) //nolint:errcheck
		archives = archives[1:]
	}

	cutoff := time.Now().Add(-rf.maxAge)
	for _, name := range archives {
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(p) //nolint:errcheck
		}
	}
}
