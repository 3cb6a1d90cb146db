package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// SnapshotArchive stores the rendered HTML of each run so a change can be
// checked against the page as it was fetched.
type SnapshotArchive struct {
	store  ObjectStorage
	prefix string
}

// NewSnapshotArchive creates an archive that writes under prefix.
func NewSnapshotArchive(store ObjectStorage, prefix string) *SnapshotArchive {
	return &SnapshotArchive{store: store, prefix: strings.Trim(prefix, "/")}
}

// SnapshotKey returns the object key of a run's snapshot.
func (a *SnapshotArchive) SnapshotKey(instructionID, runID string) string {
	return path.Join(a.prefix, instructionID, runID+".html")
}

// Archive stores html for the given run and returns its key.
func (a *SnapshotArchive) Archive(ctx context.Context, instructionID, runID string, html []byte) (string, error) {
	key := a.SnapshotKey(instructionID, runID)
	if err := a.store.Put(ctx, key, html, "text/html; charset=utf-8"); err != nil {
		return "", fmt.Errorf("failed to archive snapshot: %w", err)
	}
	return key, nil
}

// Fetch reads back an archived snapshot.
func (a *SnapshotArchive) Fetch(ctx context.Context, key string) ([]byte, error) {
	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
