package kb

import (
	"context"
	"testing"
	"time"

	"kbstore/config"
	"kbstore/objectstore"
)

func newTestKB(t *testing.T) *KnowledgeBase {
	t.Helper()
	objects, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	cfg := &config.Config{
		RootPath:                t.TempDir(),
		WriterID:                "test-writer",
		TopicShardCount:         10,
		BloomFalsePositiveRate:  0.01,
		BloomExpectedKeywords:   100,
		BloomExpectedCategories: 20,
		LockTTL:                 time.Minute,
		LockWaitTTL:             time.Second,
		WriteRetries:            5,
		SearchExcerptLimit:      5,
	}
	return New(cfg, objects)
}

func TestWriteTopicThenReadTopic(t *testing.T) {
	kb := newTestKB(t)
	ctx := context.Background()

	write := kb.WriteTopic(ctx, WriteTopicInput{
		Path:     "python/gil",
		Content:  "# The GIL",
		Title:    "The GIL",
		Keywords: []string{"python", "gil"},
		AgentID:  "agent-1",
	})
	if !write.Success {
		t.Fatalf("WriteTopic failed: %s", write.Error)
	}
	if write.Version != 1 {
		t.Errorf("Version = %d, want 1", write.Version)
	}

	read := kb.ReadTopic(ctx, "python/gil")
	if !read.Success {
		t.Fatalf("ReadTopic failed: %s", read.Error)
	}
	if read.Content != "# The GIL" {
		t.Errorf("Content = %q", read.Content)
	}
}

func TestWriteTopicConflictCarriesFreshETag(t *testing.T) {
	kb := newTestKB(t)
	ctx := context.Background()

	first := kb.WriteTopic(ctx, WriteTopicInput{Path: "a/b", Content: "v1", Title: "AB", AgentID: "agent-1"})
	if !first.Success {
		t.Fatalf("first WriteTopic failed: %s", first.Error)
	}
	second := kb.WriteTopic(ctx, WriteTopicInput{Path: "a/b", Content: "v2", Title: "AB", AgentID: "agent-1", ETag: first.ETag})
	if !second.Success {
		t.Fatalf("second WriteTopic failed: %s", second.Error)
	}

	// Reusing the stale first etag should conflict and report the current one.
	stale := kb.WriteTopic(ctx, WriteTopicInput{Path: "a/b", Content: "v3", Title: "AB", AgentID: "agent-1", ETag: first.ETag})
	if stale.Success {
		t.Fatal("expected WriteTopic to fail on a stale etag")
	}
	if stale.ETag != second.ETag {
		t.Errorf("conflict ETag = %q, want current etag %q", stale.ETag, second.ETag)
	}
}

func TestSearchTopicsFindsIndexedKeyword(t *testing.T) {
	kb := newTestKB(t)
	ctx := context.Background()

	if write := kb.WriteTopic(ctx, WriteTopicInput{Path: "python/gil", Content: "body", Title: "GIL", Keywords: []string{"concurrency"}, AgentID: "agent-1"}); !write.Success {
		t.Fatalf("WriteTopic failed: %s", write.Error)
	}

	result := kb.SearchTopics(ctx, "concurrency")
	if !result.Success {
		t.Fatalf("SearchTopics failed: %s", result.Error)
	}
	if result.Count != 1 || result.TopicIDs[0] != "python/gil" {
		t.Errorf("SearchTopics = %+v", result)
	}
}

func TestSearchTopicsFulltextFallsBackToContentScan(t *testing.T) {
	kb := newTestKB(t)
	ctx := context.Background()

	if write := kb.WriteTopic(ctx, WriteTopicInput{Path: "python/gil", Content: "this explains parallelism limits", Title: "GIL", AgentID: "agent-1"}); !write.Success {
		t.Fatalf("WriteTopic failed: %s", write.Error)
	}

	result := kb.SearchTopicsFulltext(ctx, "parallelism", 10)
	if !result.Success {
		t.Fatalf("SearchTopicsFulltext failed: %s", result.Error)
	}
	if result.Count != 1 {
		t.Fatalf("Count = %d, want 1", result.Count)
	}
	if result.Results[0].Path != "python/gil" {
		t.Errorf("Path = %q, want python/gil", result.Results[0].Path)
	}
}

func TestFindRelatedTopicsByKeywordSimilarity(t *testing.T) {
	kb := newTestKB(t)
	ctx := context.Background()

	if write := kb.WriteTopic(ctx, WriteTopicInput{Path: "python/gil", Content: "a", Title: "GIL", Keywords: []string{"concurrency"}, AgentID: "agent-1"}); !write.Success {
		t.Fatalf("WriteTopic(gil) failed: %s", write.Error)
	}
	if write := kb.WriteTopic(ctx, WriteTopicInput{Path: "go/channels", Content: "b", Title: "Channels", Keywords: []string{"concurrency"}, AgentID: "agent-1"}); !write.Success {
		t.Fatalf("WriteTopic(channels) failed: %s", write.Error)
	}

	result := kb.FindRelatedTopics(ctx, "python/gil")
	if !result.Success {
		t.Fatalf("FindRelatedTopics failed: %s", result.Error)
	}
	found := false
	for _, r := range result.Related {
		if r.Path == "go/channels" && r.Relation == "keyword_similarity" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected go/channels via keyword_similarity, got %+v", result.Related)
	}
}

func TestRebuildIndexReflectsWrittenTopics(t *testing.T) {
	kb := newTestKB(t)
	ctx := context.Background()

	if write := kb.WriteTopic(ctx, WriteTopicInput{Path: "a/b", Content: "x", Title: "AB", Keywords: []string{"k1"}, AgentID: "agent-1"}); !write.Success {
		t.Fatalf("WriteTopic failed: %s", write.Error)
	}

	result := kb.RebuildIndex(ctx)
	if !result.Success {
		t.Fatalf("RebuildIndex failed: %s", result.Error)
	}
	if result.TopicCount != 1 {
		t.Errorf("TopicCount = %d, want 1", result.TopicCount)
	}
}

func TestMigrateIndexIsIdempotentOnFreshStore(t *testing.T) {
	kb := newTestKB(t)
	ctx := context.Background()

	if write := kb.WriteTopic(ctx, WriteTopicInput{Path: "a/b", Content: "x", Title: "AB", AgentID: "agent-1"}); !write.Success {
		t.Fatalf("WriteTopic failed: %s", write.Error)
	}
	if rebuild := kb.RebuildIndex(ctx); !rebuild.Success {
		t.Fatalf("RebuildIndex failed: %s", rebuild.Error)
	}

	result, err := kb.MigrateIndex(ctx)
	if err != nil {
		t.Fatalf("MigrateIndex: %v", err)
	}
	if !result.AlreadyCurrent {
		t.Error("expected a freshly rebuilt index to already be current")
	}
}

func TestGetStatsCountsCitationsAndLogs(t *testing.T) {
	kb := newTestKB(t)
	ctx := context.Background()

	if write := kb.WriteTopic(ctx, WriteTopicInput{Path: "a/b", Content: "x", Title: "AB", Keywords: []string{"k1"}, AgentID: "agent-1"}); !write.Success {
		t.Fatalf("WriteTopic failed: %s", write.Error)
	}
	if citation := kb.AddCitation(ctx, "doc-1", []string{"a/b"}, "summary", "agent-1"); !citation.Success {
		t.Fatalf("AddCitation failed: %s", citation.Error)
	}
	if logged := kb.LogOperation(ctx, "write_topic", nil, "agent-1"); !logged.Success {
		t.Fatalf("LogOperation failed: %s", logged.Error)
	}

	stats := kb.GetStats(ctx)
	if !stats.Success {
		t.Fatalf("GetStats failed: %s", stats.Error)
	}
	if stats.TotalTopics != 1 {
		t.Errorf("TotalTopics = %d, want 1", stats.TotalTopics)
	}
	if stats.TotalCitations != 1 {
		t.Errorf("TotalCitations = %d, want 1", stats.TotalCitations)
	}
	if stats.TotalLogs != 1 {
		t.Errorf("TotalLogs = %d, want 1", stats.TotalLogs)
	}
}

func TestLockRoundTrip(t *testing.T) {
	kb := newTestKB(t)
	ctx := context.Background()

	lockID, err := kb.AcquireLock(ctx, "a/b", "agent-1", false)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	if _, err := kb.AcquireLock(ctx, "a/b", "agent-2", false); err == nil {
		t.Fatal("expected second non-waiting AcquireLock to fail while held")
	}

	if err := kb.ReleaseLock(ctx, "a/b", lockID); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}

	if _, err := kb.AcquireLock(ctx, "a/b", "agent-2", false); err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
}
