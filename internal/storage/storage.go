package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/pkg/types"
)

// SnapshotFormatVersion is written with every snapshot. Loading rejects a
// snapshot whose major version differs.
const SnapshotFormatVersion = "1.0.0"

// ErrNotFound is returned when no snapshot has been saved
var ErrNotFound = errors.New("not found")

// Store persists one active index snapshot between runs
type Store interface {
	// SaveSnapshot replaces the active snapshot atomically
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// LoadSnapshot returns the active snapshot with all units and vectors
	LoadSnapshot(ctx context.Context) (*Snapshot, error)

	// SnapshotInfo returns the active snapshot header without units or vectors
	SnapshotInfo(ctx context.Context) (*SnapshotInfo, error)

	Close() error
}

// SnapshotInfo is the header of a persisted snapshot
type SnapshotInfo struct {
	FormatVersion string
	Generation    uint64
	Dimension     int
	Metric        index.Metric
	IndexType     string
	Provider      string
	Model         string
	Roots         []string
	FilesIndexed  int
	FilesSkipped  int
	Lines         int
	Units         int
	CreatedAt     time.Time
}

// Snapshot is everything needed to restore a generation without
// re-embedding the corpus
type Snapshot struct {
	SnapshotInfo
	Units   []types.CodeUnit
	Entries []index.Entry
}
