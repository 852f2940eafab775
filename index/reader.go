package index

import (
	"context"
	"strings"
	"sync"

	"kbstore/bloom"
	"kbstore/kberrors"
	"kbstore/objectstore"
	"kbstore/shard"
)

// Reader performs bounded-I/O lookups against an existing index, caching
// each shard it loads for the lifetime of the Reader. Callers that need a
// fresh view after a write should call InvalidateCache or construct a new
// Reader; this package never silently refreshes a cached shard.
type Reader struct {
	store objectstore.Store

	mu               sync.RWMutex
	summary          *Summary
	filter           *bloom.MultiFilter
	keywordSummaries map[string]*KeywordSummary
	keywordDetails   map[string]map[string]*KeywordDetail
	categoryShards   map[string]*CategoryShard
	topicShards      map[int]*TopicShardDoc
}

// NewReader constructs a Reader with empty caches.
func NewReader(store objectstore.Store) *Reader {
	return &Reader{
		store:            store,
		keywordSummaries: map[string]*KeywordSummary{},
		keywordDetails:   map[string]map[string]*KeywordDetail{},
		categoryShards:   map[string]*CategoryShard{},
		topicShards:      map[int]*TopicShardDoc{},
	}
}

// InvalidateCache drops every cached shard, forcing the next lookup to read
// from the store again. Call this after a write you expect this Reader to
// observe.
func (r *Reader) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = nil
	r.filter = nil
	r.keywordSummaries = map[string]*KeywordSummary{}
	r.keywordDetails = map[string]map[string]*KeywordDetail{}
	r.categoryShards = map[string]*CategoryShard{}
	r.topicShards = map[int]*TopicShardDoc{}
}

// Summary returns the index's top-level summary, reading it once and
// caching it.
func (r *Reader) Summary(ctx context.Context) (*Summary, error) {
	r.mu.RLock()
	if r.summary != nil {
		defer r.mu.RUnlock()
		return r.summary, nil
	}
	r.mu.RUnlock()

	var s Summary
	if _, err := objectstore.ReadJSON(ctx, r.store, summaryPath, &s); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.summary = &s
	r.mu.Unlock()
	return &s, nil
}

func (r *Reader) bloomFilter(ctx context.Context) (*bloom.MultiFilter, error) {
	r.mu.RLock()
	if r.filter != nil {
		defer r.mu.RUnlock()
		return r.filter, nil
	}
	r.mu.RUnlock()

	mf := &bloom.MultiFilter{}
	if _, err := objectstore.ReadJSON(ctx, r.store, bloomPath, mf); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.filter = mf
	r.mu.Unlock()
	return mf, nil
}

func (r *Reader) keywordSummary(ctx context.Context, bucket string) (*KeywordSummary, error) {
	r.mu.RLock()
	if ks, ok := r.keywordSummaries[bucket]; ok {
		defer r.mu.RUnlock()
		return ks, nil
	}
	r.mu.RUnlock()

	var ks KeywordSummary
	if _, err := objectstore.ReadJSON(ctx, r.store, keywordSummaryPath(bucket), &ks); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.keywordSummaries[bucket] = &ks
	r.mu.Unlock()
	return &ks, nil
}

func (r *Reader) keywordDetail(ctx context.Context, bucket, keyword string) (*KeywordDetail, error) {
	r.mu.RLock()
	if byBucket, ok := r.keywordDetails[bucket]; ok {
		if kd, ok := byBucket[keyword]; ok {
			defer r.mu.RUnlock()
			return kd, nil
		}
	}
	r.mu.RUnlock()

	var kd KeywordDetail
	if _, err := objectstore.ReadJSON(ctx, r.store, keywordDetailPath(bucket, keyword), &kd); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.keywordDetails[bucket] == nil {
		r.keywordDetails[bucket] = map[string]*KeywordDetail{}
	}
	r.keywordDetails[bucket][keyword] = &kd
	r.mu.Unlock()
	return &kd, nil
}

func (r *Reader) categoryShard(ctx context.Context, category string) (*CategoryShard, error) {
	r.mu.RLock()
	if cs, ok := r.categoryShards[category]; ok {
		defer r.mu.RUnlock()
		return cs, nil
	}
	r.mu.RUnlock()

	var cs CategoryShard
	if _, err := objectstore.ReadJSON(ctx, r.store, categoryShardPath(category), &cs); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.categoryShards[category] = &cs
	r.mu.Unlock()
	return &cs, nil
}

func (r *Reader) topicShard(ctx context.Context, shardID int) (*TopicShardDoc, error) {
	r.mu.RLock()
	if ts, ok := r.topicShards[shardID]; ok {
		defer r.mu.RUnlock()
		return ts, nil
	}
	r.mu.RUnlock()

	var ts TopicShardDoc
	if _, err := objectstore.ReadJSON(ctx, r.store, topicShardPath(shardID), &ts); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.topicShards[shardID] = &ts
	r.mu.Unlock()
	return &ts, nil
}

// SearchKeyword returns the union of topic ids matching every whitespace-
// separated word in query, doing at most one Bloom check, one summary
// read, and one detail read per word: exactly the bound the two-tier
// keyword layout is designed to guarantee.
func (r *Reader) SearchKeyword(ctx context.Context, query string) ([]string, error) {
	words := strings.Fields(strings.ToLower(query))
	matching := map[string]struct{}{}

	filter, err := r.bloomFilter(ctx)
	if err != nil && !kberrors.IsNotFound(err) {
		return nil, err
	}

	for _, word := range words {
		if filter != nil && !filter.KeywordMightExist(word) {
			continue
		}

		bucket := shard.KeywordBucket(word)
		summary, err := r.keywordSummary(ctx, bucket)
		if err != nil {
			if kberrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if !containsString(summary.Keywords, word) {
			continue
		}

		detail, err := r.keywordDetail(ctx, bucket, word)
		if err != nil {
			if kberrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		for _, id := range detail.Topics {
			matching[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(matching))
	for id := range matching {
		ids = append(ids, id)
	}
	return ids, nil
}

// CategoryTopics returns every topic summary filed under category. A
// Bloom-filter miss short-circuits to an empty result without touching the
// category shard at all.
func (r *Reader) CategoryTopics(ctx context.Context, category string) (map[string]TopicSummaryEntry, error) {
	filter, err := r.bloomFilter(ctx)
	if err != nil && !kberrors.IsNotFound(err) {
		return nil, err
	}
	if filter != nil && !filter.CategoryMightExist(category) {
		return map[string]TopicSummaryEntry{}, nil
	}

	cs, err := r.categoryShard(ctx, category)
	if err != nil {
		if kberrors.IsNotFound(err) {
			return map[string]TopicSummaryEntry{}, nil
		}
		return nil, err
	}
	return cs.Topics, nil
}

// TopicMetadata returns the denormalized summary entry for topicID by
// routing to its single owning topic shard: exactly one shard file read
// regardless of how many topics exist.
func (r *Reader) TopicMetadata(ctx context.Context, topicID string, topicShardCount int) (*TopicSummaryEntry, error) {
	shardID := shard.TopicShard(topicID, topicShardCount)
	ts, err := r.topicShard(ctx, shardID)
	if err != nil {
		return nil, err
	}
	entry, ok := ts.Topics[topicID]
	if !ok {
		return nil, kberrors.NotFoundf("topic not found in index: %s", topicID)
	}
	return &entry, nil
}

// AllCategories returns every category name recorded in the summary.
func (r *Reader) AllCategories(ctx context.Context) ([]string, error) {
	summary, err := r.Summary(ctx)
	if err != nil {
		return nil, err
	}
	return summary.Categories, nil
}

// Stats reports the headline counters from the summary, used by the
// knowledge base's get_stats operation.
type Stats struct {
	TotalTopics     int
	TotalKeywords   int
	TotalCategories int
	Categories      []string
	LastRebuilt     string
	IndexVersion    string
}

// Stats returns the index's current headline statistics.
func (r *Reader) Stats(ctx context.Context) (*Stats, error) {
	summary, err := r.Summary(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalTopics:     summary.TotalTopics,
		TotalKeywords:   summary.TotalKeywords,
		TotalCategories: summary.TotalCategories,
		Categories:      summary.Categories,
		LastRebuilt:     summary.LastRebuilt.Format("2006-01-02T15:04:05.000Z07:00"),
		IndexVersion:    summary.Version,
	}, nil
}
