package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codesearch/internal/embedder"
	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/internal/indexer"
	"github.com/dshills/codesearch/internal/loader"
	"github.com/dshills/codesearch/pkg/types"
)

func newLocalIndexer(t *testing.T, dim int, metric index.Metric) *indexer.Indexer {
	t.Helper()
	emb, err := embedder.NewLocalProvider(dim, nil)
	require.NoError(t, err)
	return indexer.New(loader.New(loader.Config{}, nil), emb, indexer.Config{Index: index.Config{Metric: metric}}, nil)
}

func buildGeneration(t *testing.T, idx *indexer.Indexer) *indexer.Generation {
	t.Helper()
	root := filepath.Join(t.TempDir(), "svc")
	require.NoError(t, os.MkdirAll(root, 0o755))
	files := map[string]string{
		"auth.go":   "package svc\n\nfunc Login(user, password string) error { return nil }\n\nfunc Logout() {}\n",
		"config.py": "def load_config(path):\n    return open(path).read()\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	gen, err := idx.Build(context.Background(), 3, root)
	require.NoError(t, err)
	return gen
}

func TestSnapshotRoundTripThroughStore(t *testing.T) {
	ctx := context.Background()
	idx := newLocalIndexer(t, 32, index.Cosine)
	gen := buildGeneration(t, idx)
	storage := setupTestDB(t)

	snap := FromGeneration(gen)
	assert.Equal(t, uint64(3), snap.Generation)
	assert.Equal(t, 32, snap.Dimension)
	assert.Equal(t, embedder.ProviderLocal, snap.Provider)
	assert.Equal(t, gen.Len(), snap.SnapshotInfo.Units)
	require.NoError(t, storage.SaveSnapshot(ctx, snap))

	loaded, err := storage.LoadSnapshot(ctx)
	require.NoError(t, err)
	restored, err := Restore(ctx, idx, loaded)
	require.NoError(t, err)

	assert.Equal(t, gen.ID, restored.ID)
	assert.Equal(t, gen.Units(), restored.Units())
	assert.Equal(t, []string{"svc"}, restored.Stats().Repos)

	query, err := idx.EmbedQuery(ctx, "login password")
	require.NoError(t, err)
	want, err := gen.Search(ctx, query, 3)
	require.NoError(t, err)
	got, err := restored.Search(ctx, query, 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRestore_Incompatible(t *testing.T) {
	ctx := context.Background()
	gen := buildGeneration(t, newLocalIndexer(t, 32, index.Cosine))
	snap := FromGeneration(gen)

	tests := []struct {
		name string
		idx  *indexer.Indexer
	}{
		{"dimension", newLocalIndexer(t, 64, index.Cosine)},
		{"metric", newLocalIndexer(t, 32, index.L2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Restore(ctx, tt.idx, snap)
			assert.True(t, errors.Is(err, types.ErrIncompatibleSnapshot))
		})
	}

	other := *snap
	other.Model = "text-embedding-3-small"
	_, err := Restore(ctx, newLocalIndexer(t, 32, index.Cosine), &other)
	assert.True(t, errors.Is(err, types.ErrIncompatibleSnapshot))
}
