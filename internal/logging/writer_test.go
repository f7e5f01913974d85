package logging

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func archiveCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "diag.") && strings.HasSuffix(e.Name(), ".log") {
			n++
		}
	}
	return n
}

func TestRotatingFile_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diag.log")

	rf, err := OpenRotatingFile(path, 1, 3, 14)
	if err != nil {
		t.Fatalf("OpenRotatingFile: %v", err)
	}
	defer rf.Close()

	n, err := rf.Write([]byte("hello\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 6 {
		t.Fatalf("Write returned %d, want 6", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("file content = %q, want %q", string(data), "hello\n")
	}
}

func TestRotatingFile_UserOnlyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "diag.log")

	rf, err := OpenRotatingFile(path, 1, 3, 14)
	if err != nil {
		t.Fatalf("OpenRotatingFile: %v", err)
	}
	defer rf.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file perm = %o, want 600", perm)
	}

	info, err = os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Stat dir: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("dir perm = %o, want 700", perm)
	}
}

func TestRotatingFile_FallbackLimits(t *testing.T) {
	dir := t.TempDir()
	rf, err := OpenRotatingFile(filepath.Join(dir, "diag.log"), 0, 0, 0)
	if err != nil {
		t.Fatalf("OpenRotatingFile: %v", err)
	}
	defer rf.Close()

	if want := int64(fallbackCapMB) * 1024 * 1024; rf.capBytes != want {
		t.Errorf("capBytes = %d, want %d", rf.capBytes, want)
	}
	if rf.keep != fallbackKeep {
		t.Errorf("keep = %d, want %d", rf.keep, fallbackKeep)
	}
}

func TestRotatingFile_RotatesAtCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diag.log")

	rf, err := OpenRotatingFile(path, 1, 3, 14)
	if err != nil {
		t.Fatalf("OpenRotatingFile: %v", err)
	}
	rf.capBytes = 100
	defer rf.Close()

	record := strings.Repeat("x", 60)
	rf.Write([]byte(record))
	rf.Write([]byte(record)) // crosses the cap

	if got := archiveCount(t, dir); got < 1 {
		t.Errorf("archives = %d, want at least 1", got)
	}

	// The live file holds only the post-rotation record.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != record {
		t.Errorf("live file holds %d bytes, want %d", len(data), len(record))
	}
}

func TestRotatingFile_PrunesToKeepCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diag.log")

	rf, err := OpenRotatingFile(path, 1, 2, 14)
	if err != nil {
		t.Fatalf("OpenRotatingFile: %v", err)
	}
	rf.capBytes = 50
	defer rf.Close()

	// Each write crosses the cap; the archive names share a second-resolution
	// timestamp, so at most a handful of distinct archives exist, but never
	// more than the keep count after each synchronous prune.
	record := strings.Repeat("y", 40)
	for i := 0; i < 5; i++ {
		rf.Write([]byte(record))
	}

	if got := archiveCount(t, dir); got > 2 {
		t.Errorf("archives = %d, want at most 2 (keep=2)", got)
	}
}
