// Package storage persists index snapshots in SQLite so a serving process
// can start without re-embedding the corpus.
//
// A snapshot holds the generation number, the embedding dimension, the
// distance metric, the embedding provider and model, every CodeUnit and
// every vector. Only one snapshot is active; SaveSnapshot replaces it in a
// single transaction.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("~/.codesearch/index.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.SaveSnapshot(ctx, storage.FromGeneration(gen)); err != nil {
//	    return err
//	}
//
//	snap, err := store.LoadSnapshot(ctx)
//	gen, err := storage.Restore(ctx, idx, snap)
//
// # Versioning
//
// Two versions are tracked with semantic versioning:
//   - the schema version, advanced by ApplyMigrations
//   - the snapshot format version, written with each snapshot
//
// A snapshot whose format major version differs from SnapshotFormatVersion
// fails to load with types.ErrIncompatibleSnapshot. Restore also rejects a
// snapshot built with a different embedder or metric than the one
// configured.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with
// -tags sqlite_cgo switches to github.com/mattn/go-sqlite3. Vectors are
// stored as little-endian float32 blobs.
package storage
