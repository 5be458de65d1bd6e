// package testing contains shared testing utilities
package testing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/desertthunder/rotator/internal/models"
)

// ErrWrite is returned by the failing writers.
var ErrWrite = errors.New("write failed")

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, ErrWrite
}

// LimitedWriter forwards to target until maxWrites writes have happened, then fails.
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, fmt.Errorf("%w: limit of %d writes", ErrWrite, l.maxWrites)
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// CatalogTracks returns n usable tracks spread round-robin over artists artists, with
// external ids "ext-000", "ext-001", ...
func CatalogTracks(n, artists int) []models.Track {
	tracks := make([]models.Track, n)
	for i := range tracks {
		tracks[i] = models.Track{
			ExternalID: fmt.Sprintf("ext-%03d", i),
			Name:       fmt.Sprintf("Song %d", i),
			Artist:     fmt.Sprintf("Artist %d", i%max(artists, 1)),
			Usable:     true,
		}
	}
	return tracks
}

// WriteCatalogJSON writes tracks as an importable catalog file under dir and returns its path.
func WriteCatalogJSON(t *testing.T, dir string, tracks []models.Track) string {
	t.Helper()

	data, err := json.Marshal(tracks)
	if err != nil {
		t.Fatalf("failed to marshal catalog: %v", err)
	}
	path := filepath.Join(dir, "catalog.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	return path
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
