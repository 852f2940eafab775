package index

import (
	"context"
	"testing"
	"time"

	"kbstore/objectstore"
)

func newTestBuilder(t *testing.T) (*objectstore.FSStore, *Builder) {
	t.Helper()
	store, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	builder := NewBuilder(store, 10, 0.01, 100, 20)
	return store, builder
}

func seedTopic(t *testing.T, store objectstore.Store, meta metaDocument) {
	t.Helper()
	path := "topics/" + meta.TopicID + ".meta.json"
	if _, err := objectstore.WriteJSON(context.Background(), store, path, meta, ""); err != nil {
		t.Fatalf("seeding %s: %v", meta.TopicID, err)
	}
}

func TestBuildIndexesTopicsByShardAndCategory(t *testing.T) {
	ctx := context.Background()
	store, builder := newTestBuilder(t)

	seedTopic(t, store, metaDocument{
		TopicID:      "python/gil",
		Title:        "The GIL",
		Keywords:     []string{"Python", "GIL", "concurrency"},
		LastModified: time.Now().UTC(),
		Version:      1,
	})
	seedTopic(t, store, metaDocument{
		TopicID:      "go/channels",
		Title:        "Channels",
		Keywords:     []string{"go", "concurrency"},
		LastModified: time.Now().UTC(),
		Version:      1,
	})

	result, err := builder.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.TopicCount != 2 {
		t.Errorf("TopicCount = %d, want 2", result.TopicCount)
	}
	if result.KeywordCount != 4 {
		t.Errorf("KeywordCount = %d, want 4 (python, gil, concurrency, go)", result.KeywordCount)
	}
	if result.CategoryCount != 2 {
		t.Errorf("CategoryCount = %d, want 2", result.CategoryCount)
	}

	reader := NewReader(store)
	entry, err := reader.TopicMetadata(ctx, "python/gil", 10)
	if err != nil {
		t.Fatalf("TopicMetadata: %v", err)
	}
	if entry.Title != "The GIL" {
		t.Errorf("Title = %q, want %q", entry.Title, "The GIL")
	}

	ids, err := reader.SearchKeyword(ctx, "concurrency")
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("SearchKeyword(concurrency) = %v, want 2 matches", ids)
	}

	topics, err := reader.CategoryTopics(ctx, "python")
	if err != nil {
		t.Fatalf("CategoryTopics: %v", err)
	}
	if _, ok := topics["python/gil"]; !ok {
		t.Error("expected python/gil under category python")
	}
}

func TestRebuildIsByteIdempotent(t *testing.T) {
	ctx := context.Background()
	store, builder := newTestBuilder(t)

	seedTopic(t, store, metaDocument{
		TopicID:      "rust/ownership",
		Title:        "Ownership",
		Keywords:     []string{"rust", "memory"},
		LastModified: time.Now().UTC(),
		Version:      1,
	})

	if _, err := builder.Build(ctx); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	first, _, err := store.Read(ctx, categoryShardPath("rust"))
	if err != nil {
		t.Fatalf("reading category shard: %v", err)
	}

	if _, err := builder.Build(ctx); err != nil {
		t.Fatalf("second Build: %v", err)
	}
	second, _, err := store.Read(ctx, categoryShardPath("rust"))
	if err != nil {
		t.Fatalf("reading category shard again: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("rebuild was not byte-idempotent:\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestIncrementalMatchesFullRebuild(t *testing.T) {
	ctx := context.Background()
	store, builder := newTestBuilder(t)

	metas := []metaDocument{
		{TopicID: "python/gil", Title: "GIL", Keywords: []string{"python", "concurrency"}, LastModified: time.Now().UTC(), Version: 1},
		{TopicID: "go/channels", Title: "Channels", Keywords: []string{"go", "concurrency"}, LastModified: time.Now().UTC(), Version: 1},
		{TopicID: "rust/ownership", Title: "Ownership", Keywords: []string{"rust", "memory"}, LastModified: time.Now().UTC(), Version: 1},
	}
	for _, m := range metas {
		seedTopic(t, store, m)
	}

	if _, err := builder.Build(ctx); err != nil {
		t.Fatalf("full Build: %v", err)
	}

	readerAfterFull := NewReader(store)
	fullIDs, err := readerAfterFull.SearchKeyword(ctx, "concurrency")
	if err != nil {
		t.Fatalf("SearchKeyword after full build: %v", err)
	}

	// Now start fresh and apply the same topics incrementally instead.
	store2, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	// Seed an empty summary the incremental updater can adjust counters on.
	seedSummary := Summary{Version: currentVersion, IndexType: indexType, ShardConfig: ShardConfig{TopicShards: 10}}
	if _, err := objectstore.WriteJSON(ctx, store2, summaryPath, seedSummary, ""); err != nil {
		t.Fatalf("seeding summary: %v", err)
	}

	updater := NewUpdater(store2, 10, 5)
	for _, m := range metas {
		err := updater.Upsert(ctx, m.toSourceMetadata(), nil)
		if err != nil {
			t.Fatalf("Upsert(%s): %v", m.TopicID, err)
		}
	}

	readerAfterIncremental := NewReader(store2)
	incrementalIDs, err := readerAfterIncremental.SearchKeyword(ctx, "concurrency")
	if err != nil {
		t.Fatalf("SearchKeyword after incremental updates: %v", err)
	}

	if !sameSet(fullIDs, incrementalIDs) {
		t.Errorf("full rebuild and incremental updates disagree: full=%v incremental=%v", fullIDs, incrementalIDs)
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := map[string]struct{}{}
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

func TestIncrementalRemoveClearsKeywordDetail(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	seedSummary := Summary{Version: currentVersion, IndexType: indexType, ShardConfig: ShardConfig{TopicShards: 10}}
	if _, err := objectstore.WriteJSON(ctx, store, summaryPath, seedSummary, ""); err != nil {
		t.Fatalf("seeding summary: %v", err)
	}

	updater := NewUpdater(store, 10, 5)
	meta := SourceMetadata{TopicID: "solo/topic", Title: "Solo", Keywords: []string{"unique-keyword"}, LastModified: time.Now().UTC(), Version: 1}
	if err := updater.Upsert(ctx, meta, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	reader := NewReader(store)
	ids, err := reader.SearchKeyword(ctx, "unique-keyword")
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 match before removal, got %v", ids)
	}

	if err := updater.Remove(ctx, "solo/topic", meta.Keywords); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	reader2 := NewReader(store)
	ids2, err := reader2.SearchKeyword(ctx, "unique-keyword")
	if err != nil {
		t.Fatalf("SearchKeyword after removal: %v", err)
	}
	if len(ids2) != 0 {
		t.Errorf("expected no matches after removal, got %v", ids2)
	}

	exists, err := store.Exists(ctx, keywordDetailPath("u-z", "unique-keyword"))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("expected empty keyword detail file to be deleted")
	}
}
