package index

import (
	"context"
	"fmt"

	"kbstore/kberrors"
	"kbstore/logger"
	"kbstore/objectstore"
)

// Migrator brings an on-disk index up to the current generation (G3),
// detecting the existing generation from summary.json and running a full
// rebuild at the target layout. It is idempotent: migrating an index that
// is already current is a no-op.
type Migrator struct {
	store   objectstore.Store
	builder *Builder
}

// NewMigrator constructs a Migrator sharing the given Builder's
// configuration for the target (G3) layout.
func NewMigrator(store objectstore.Store, builder *Builder) *Migrator {
	return &Migrator{store: store, builder: builder}
}

// DetectGeneration inspects summary.json and reports the index's current
// generation. A missing summary.json is reported as G1 ("absent or older
// schema → G1"), the same bucket any pre-sharded monolithic index falls
// into, rather than as an error.
func (m *Migrator) DetectGeneration(ctx context.Context) (Generation, error) {
	var summary struct {
		Version   string `json:"version"`
		IndexType string `json:"index_type"`
	}
	_, err := objectstore.ReadJSON(ctx, m.store, summaryPath, &summary)
	if kberrors.IsNotFound(err) {
		return G1, nil
	}
	if err != nil {
		return 0, err
	}

	switch summary.Version {
	case "3.0.0":
		return G3, nil
	case "2.0.0":
		return G2, nil
	case "1.0.0", "":
		return G1, nil
	default:
		return G1, nil
	}
}

// MigrationResult describes what Migrate did.
type MigrationResult struct {
	FromGeneration Generation
	ToGeneration   Generation
	AlreadyCurrent bool
	BackedUp       []string
	Build          *BuildResult
}

// legacyFile pairs a generation-specific path a pre-G3 index may have left
// behind with the backup suffix its generation uses, so Migrate can rename
// it aside rather than leaving it to confuse a future reader expecting the
// G3 layout.
type legacyFile struct {
	path   string
	suffix string
}

// legacyFiles lists every path that can exist on a pre-G3 index: the two
// monolithic files from the original G1 layout (a single topics index and a
// single inverted index, backed up with ".v1.backup" per
// _examples/original_source/scripts/migrate_index_v2.py's backup_v1_index),
// and the five per-bucket monolithic keyword shards from G2 (backed up with
// ".v2.backup").
var legacyFiles = []legacyFile{
	{path: "_index/topics_index.json", suffix: "v1.backup"},
	{path: "_index/inverted_index.json", suffix: "v1.backup"},
	{path: "_index/shards/keywords/a-e.json", suffix: "v2.backup"},
	{path: "_index/shards/keywords/f-j.json", suffix: "v2.backup"},
	{path: "_index/shards/keywords/k-o.json", suffix: "v2.backup"},
	{path: "_index/shards/keywords/p-t.json", suffix: "v2.backup"},
	{path: "_index/shards/keywords/u-z.json", suffix: "v2.backup"},
}

// Migrate upgrades the index to G3 if it is not already there. Legacy files
// left behind by G1 (two monolithic index files) or G2 (five per-bucket
// monolithic keyword shards) are renamed aside with their generation's
// backup suffix rather than deleted, then a full rebuild populates the G3
// two-tier layout from topic metadata, which is the index's source of truth
// regardless of generation.
func (m *Migrator) Migrate(ctx context.Context) (*MigrationResult, error) {
	from, err := m.DetectGeneration(ctx)
	if err != nil {
		return nil, err
	}

	if from == G3 {
		return &MigrationResult{FromGeneration: from, ToGeneration: G3, AlreadyCurrent: true}, nil
	}

	logger.Info("migrating index from generation %d to %d", from, G3)

	var backedUp []string
	for _, legacy := range legacyFiles {
		exists, err := m.store.Exists(ctx, legacy.path)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		backupPath := fmt.Sprintf("%s.%s", legacy.path, legacy.suffix)
		if already, err := m.store.Exists(ctx, backupPath); err != nil {
			return nil, err
		} else if already {
			continue
		}
		data, _, err := m.store.Read(ctx, legacy.path)
		if err != nil {
			return nil, err
		}
		if _, err := m.store.Write(ctx, backupPath, data, ""); err != nil {
			return nil, err
		}
		if err := m.store.Delete(ctx, legacy.path); err != nil {
			return nil, err
		}
		backedUp = append(backedUp, legacy.path)
	}

	result, err := m.builder.Build(ctx)
	if err != nil {
		return nil, err
	}

	return &MigrationResult{
		FromGeneration: from,
		ToGeneration:   G3,
		AlreadyCurrent: false,
		BackedUp:       backedUp,
		Build:          result,
	}, nil
}
