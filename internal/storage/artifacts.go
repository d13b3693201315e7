// Package storage stores recording artifacts on the local filesystem and
// provides the quarantine namespace for artifacts whose processing
// permanently failed.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Artifacts is the artifact storage surface the pipeline depends on.
type Artifacts interface {
	// Save streams an uploaded recording into primary storage and
	// returns its artifact id.
	Save(ctx context.Context, meetingID string, r io.Reader) (string, error)

	// Open opens an artifact for reading.
	Open(ctx context.Context, artifactID string) (io.ReadCloser, int64, error)

	// Exists reports whether the artifact is present in primary storage.
	Exists(ctx context.Context, artifactID string) (bool, error)

	// Remove deletes an artifact from primary storage.
	Remove(ctx context.Context, artifactID string) error

	// Quarantine moves an artifact out of primary storage into the
	// quarantine namespace and returns the quarantine id. The copy is
	// written before the original is deleted so a copy failure never
	// destroys the last artifact.
	Quarantine(ctx context.Context, artifactID string) (string, error)
}

// Local implements Artifacts on the local filesystem.
type Local struct {
	primaryDir    string
	quarantineDir string
}

// NewLocal creates a Local store rooted at the given directories.
func NewLocal(primaryDir, quarantineDir string) (*Local, error) {
	if err := os.MkdirAll(primaryDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
		return nil, fmt.Errorf("create quarantine dir: %w", err)
	}
	return &Local{primaryDir: primaryDir, quarantineDir: quarantineDir}, nil
}

// Save writes the recording under a meeting-scoped name.
func (l *Local) Save(ctx context.Context, meetingID string, r io.Reader) (string, error) {
	if meetingID == "" {
		return "", fmt.Errorf("meetingID is required")
	}
	artifactID := fmt.Sprintf("%s_%s", meetingID, uuid.NewString())
	path := l.primaryPath(artifactID)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return artifactID, nil
}

// Open opens an artifact and reports its size.
func (l *Local) Open(ctx context.Context, artifactID string) (io.ReadCloser, int64, error) {
	path := l.primaryPath(artifactID)
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Exists reports whether the artifact is present in primary storage.
func (l *Local) Exists(ctx context.Context, artifactID string) (bool, error) {
	_, err := os.Stat(l.primaryPath(artifactID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Remove deletes an artifact from primary storage.
func (l *Local) Remove(ctx context.Context, artifactID string) error {
	err := os.Remove(l.primaryPath(artifactID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Quarantine copies the artifact into the quarantine namespace, then
// deletes the original. Copy-then-delete ordering is load-bearing: if the
// copy fails the original stays in primary storage.
func (l *Local) Quarantine(ctx context.Context, artifactID string) (string, error) {
	src := l.primaryPath(artifactID)
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open artifact for quarantine: %w", err)
	}
	defer in.Close()

	quarantineID := fmt.Sprintf("q_%s_%s", uuid.NewString(), artifactID)
	dst := filepath.Join(l.quarantineDir, sanitizeName(quarantineID))

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create quarantine copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("write quarantine copy: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("close quarantine copy: %w", err)
	}

	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("remove original after quarantine copy: %w", err)
	}
	return quarantineID, nil
}

// QuarantinePath resolves a quarantine id to its file path, for operator
// inspection tooling.
func (l *Local) QuarantinePath(quarantineID string) string {
	return filepath.Join(l.quarantineDir, sanitizeName(quarantineID))
}

func (l *Local) primaryPath(artifactID string) string {
	return filepath.Join(l.primaryDir, sanitizeName(artifactID))
}

// sanitizeName strips path separators so ids cannot escape the store root.
func sanitizeName(name string) string {
	return filepath.Base(filepath.Clean(name))
}
