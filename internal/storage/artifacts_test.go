package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	base := t.TempDir()
	local, err := NewLocal(filepath.Join(base, "primary"), filepath.Join(base, "quarantine"))
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	return local
}

func TestSaveAndOpen(t *testing.T) {
	local := newTestLocal(t)
	ctx := context.Background()

	artifactID, err := local.Save(ctx, "m1", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if !strings.HasPrefix(artifactID, "m1_") {
		t.Fatalf("unexpected artifact id: %s", artifactID)
	}

	r, size, err := local.Open(ctx, artifactID)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Fatalf("unexpected artifact content: %q", data)
	}
	if size != int64(len("audio-bytes")) {
		t.Fatalf("unexpected size: %d", size)
	}
}

func TestSaveRequiresMeetingID(t *testing.T) {
	local := newTestLocal(t)
	if _, err := local.Save(context.Background(), "", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty meeting id")
	}
}

func TestQuarantineMovesArtifact(t *testing.T) {
	local := newTestLocal(t)
	ctx := context.Background()

	artifactID, err := local.Save(ctx, "m1", strings.NewReader("bad-recording"))
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	quarantineID, err := local.Quarantine(ctx, artifactID)
	if err != nil {
		t.Fatalf("Quarantine returned error: %v", err)
	}

	exists, err := local.Exists(ctx, artifactID)
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if exists {
		t.Fatal("original artifact still present in primary storage")
	}

	data, err := os.ReadFile(local.QuarantinePath(quarantineID))
	if err != nil {
		t.Fatalf("read quarantine copy: %v", err)
	}
	if string(data) != "bad-recording" {
		t.Fatalf("quarantine copy mismatch: %q", data)
	}
}

func TestQuarantineMissingArtifact(t *testing.T) {
	local := newTestLocal(t)
	if _, err := local.Quarantine(context.Background(), "nope"); err == nil {
		t.Fatal("expected error when artifact is missing")
	}
}

func TestRemoveIgnoresMissing(t *testing.T) {
	local := newTestLocal(t)
	if err := local.Remove(context.Background(), "nope"); err != nil {
		t.Fatalf("Remove of missing artifact returned error: %v", err)
	}
}
