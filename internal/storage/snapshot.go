package storage

import (
	"context"
	"fmt"

	"github.com/dshills/codesearch/internal/indexer"
	"github.com/dshills/codesearch/pkg/types"
)

// FromGeneration captures a generation for persistence
func FromGeneration(gen *indexer.Generation) *Snapshot {
	vi := gen.Index()
	st := gen.Stats()
	units := gen.Units()
	return &Snapshot{
		SnapshotInfo: SnapshotInfo{
			FormatVersion: SnapshotFormatVersion,
			Generation:    gen.ID,
			Dimension:     vi.Dimension(),
			Metric:        vi.Metric(),
			IndexType:     vi.Type(),
			Provider:      gen.Provider,
			Model:         gen.Model,
			Roots:         st.Roots,
			FilesIndexed:  st.FilesIndexed,
			FilesSkipped:  st.FilesSkipped,
			Lines:         st.Lines,
			Units:         len(units),
			CreatedAt:     gen.CreatedAt,
		},
		Units:   units,
		Entries: gen.Entries(),
	}
}

// Restore rebuilds a generation from a snapshot. The snapshot must have
// been produced by the same embedding model and metric the indexer uses,
// otherwise query vectors would not be comparable to the stored ones.
func Restore(ctx context.Context, idx *indexer.Indexer, snap *Snapshot) (*indexer.Generation, error) {
	emb := idx.Embedder()
	if snap.Dimension != emb.Dimension() {
		return nil, fmt.Errorf("%w: snapshot dimension %d, embedder dimension %d",
			types.ErrIncompatibleSnapshot, snap.Dimension, emb.Dimension())
	}
	if snap.Provider != emb.Provider() || snap.Model != emb.Model() {
		return nil, fmt.Errorf("%w: snapshot embedded with %s/%s, embedder is %s/%s",
			types.ErrIncompatibleSnapshot, snap.Provider, snap.Model, emb.Provider(), emb.Model())
	}
	if snap.Metric != idx.Metric() {
		return nil, fmt.Errorf("%w: snapshot metric %s, configured metric %s",
			types.ErrIncompatibleSnapshot, snap.Metric, idx.Metric())
	}

	stats := indexer.Statistics{
		Roots:        snap.Roots,
		Repos:        repoNames(snap.Units),
		FilesIndexed: snap.FilesIndexed,
		FilesSkipped: snap.FilesSkipped,
		Lines:        snap.Lines,
	}
	return idx.Restore(ctx, snap.Generation, snap.Units, snap.Entries, stats)
}

func repoNames(units []types.CodeUnit) []string {
	var names []string
	seen := make(map[string]bool)
	for _, u := range units {
		if !seen[u.Repo] {
			seen[u.Repo] = true
			names = append(names, u.Repo)
		}
	}
	return names
}
