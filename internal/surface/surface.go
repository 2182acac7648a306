// Package surface provides code-editing surfaces that live outside the page,
// such as a file the student edits in a desktop editor.
package surface

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/fakeyudi/proctor/internal/monitor"
)

// maxFileSize caps how much of a watched file is read per snapshot.
const maxFileSize = 4 << 20

// File is a code surface backed by a file on disk.
type File struct {
	Path string
}

var _ monitor.Surface = File{}

// Snapshot returns the file's content. A missing file means no surface.
func (f File) Snapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", monitor.ErrNoSurface
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", monitor.ErrNoSurface
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("%s: %d bytes exceeds snapshot limit", f.Path, info.Size())
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Fallback tries each surface in order and returns the first that is present.
type Fallback []monitor.Surface

var _ monitor.SourcedSurface = Fallback{}

func (fb Fallback) Snapshot(ctx context.Context) (string, error) {
	text, _, err := fb.SnapshotFrom(ctx)
	return text, err
}

// SnapshotFrom is Snapshot that also returns the position of the surface
// that answered, so callers can tell the page editor from the file.
func (fb Fallback) SnapshotFrom(ctx context.Context) (text, source string, err error) {
	for i, s := range fb {
		text, err := s.Snapshot(ctx)
		if err == nil {
			return text, strconv.Itoa(i), nil
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
	}
	return "", "", monitor.ErrNoSurface
}
