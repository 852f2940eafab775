package index

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"kbstore/bloom"
	"kbstore/logger"
	"kbstore/objectstore"
	"kbstore/shard"
)

// Builder performs full rebuilds of the sharded index from topic metadata.
type Builder struct {
	store           objectstore.Store
	topicShardCount int
	bloomFPRate     float64
	expectedKeywords  uint
	expectedCategories uint
}

// NewBuilder constructs a Builder. topicShardCount is normally 100 (the
// current generation's shard count).
func NewBuilder(store objectstore.Store, topicShardCount int, bloomFPRate float64, expectedKeywords, expectedCategories uint) *Builder {
	return &Builder{
		store:              store,
		topicShardCount:    topicShardCount,
		bloomFPRate:        bloomFPRate,
		expectedKeywords:   expectedKeywords,
		expectedCategories: expectedCategories,
	}
}

// BuildResult summarizes a completed rebuild.
type BuildResult struct {
	TopicCount     int
	KeywordCount   int
	CategoryCount  int
	TopicShards    int
	FailedMetadata []string
}

// fetchAllMetadata reads every topics/*.meta.json file in parallel,
// tolerating individual read failures (a corrupt or concurrently-deleted
// file is skipped rather than aborting the whole rebuild).
func (b *Builder) fetchAllMetadata(ctx context.Context) ([]SourceMetadata, []string, error) {
	paths, err := b.store.List(ctx, "topics", "*.meta.json")
	if err != nil {
		return nil, nil, err
	}

	type result struct {
		path string
		meta SourceMetadata
		err  error
	}

	results := make([]result, len(paths))
	var wg sync.WaitGroup
	sem := make(chan struct{}, 32)

	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var doc metaDocument
			if _, err := objectstore.ReadJSON(ctx, b.store, p, &doc); err != nil {
				results[i] = result{path: p, err: err}
				return
			}
			results[i] = result{path: p, meta: doc.toSourceMetadata()}
		}(i, p)
	}
	wg.Wait()

	var metaList []SourceMetadata
	var failed []string
	for _, r := range results {
		if r.err != nil {
			logger.Warn("skipping unreadable metadata %s: %v", r.path, r.err)
			failed = append(failed, r.path)
			continue
		}
		metaList = append(metaList, r.meta)
	}
	return metaList, failed, nil
}

// metaDocument is the on-disk shape of topics/<id>.meta.json, matched
// against topic.Metadata's JSON tags without importing that package.
type metaDocument struct {
	TopicID        string    `json:"topic_id"`
	Title          string    `json:"title"`
	Keywords       []string  `json:"keywords"`
	RelatedTopics  []string  `json:"related_topics"`
	LastModified   time.Time `json:"last_modified"`
	LastModifiedBy string    `json:"last_modified_by"`
	Version        int       `json:"version"`
}

func (d metaDocument) toSourceMetadata() SourceMetadata {
	return SourceMetadata{
		TopicID:        d.TopicID,
		Title:          d.Title,
		Keywords:       d.Keywords,
		RelatedTopics:  d.RelatedTopics,
		LastModified:   d.LastModified,
		LastModifiedBy: d.LastModifiedBy,
		Version:        d.Version,
	}
}

// Build performs a full rebuild, overwriting every index file.
func (b *Builder) Build(ctx context.Context) (*BuildResult, error) {
	metaList, failed, err := b.fetchAllMetadata(ctx)
	if err != nil {
		return nil, err
	}

	allKeywords := allKeywordsOf(metaList)
	allCategories := allCategoriesOf(metaList)

	summary := b.buildSummary(metaList, allKeywords, allCategories)
	filter := b.buildBloomFilter(allKeywords, allCategories)
	keywordSummaries, keywordDetails := b.buildKeywordTiers(metaList)
	categoryShards := b.buildCategoryShards(metaList)
	topicShards := b.buildTopicShards(metaList)

	var wg sync.WaitGroup
	errs := make(chan error, 8+len(keywordDetails)+len(categoryShards)+len(topicShards))

	write := func(path string, data interface{}) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := objectstore.WriteJSON(ctx, b.store, path, data, ""); err != nil {
				errs <- err
			}
		}()
	}

	write(summaryPath, summary)
	write(bloomPath, filter)
	for bucket, ks := range keywordSummaries {
		write(keywordSummaryPath(bucket), ks)
	}
	for bucket, keywords := range keywordDetails {
		for kw, detail := range keywords {
			write(keywordDetailPath(bucket, kw), detail)
		}
	}
	for category, cs := range categoryShards {
		write(categoryShardPath(category), cs)
	}
	for shardID, ts := range topicShards {
		write(topicShardPath(shardID), ts)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		return nil, err
	}

	return &BuildResult{
		TopicCount:     len(metaList),
		KeywordCount:   len(allKeywords),
		CategoryCount:  len(categoryShards),
		TopicShards:    b.topicShardCount,
		FailedMetadata: failed,
	}, nil
}

func (b *Builder) buildSummary(metaList []SourceMetadata, allKeywords, allCategories map[string]struct{}) Summary {
	categories := make([]string, 0, len(allCategories))
	for c := range allCategories {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	return Summary{
		Version:         currentVersion,
		IndexType:       indexType,
		TotalTopics:     len(metaList),
		TotalKeywords:   len(allKeywords),
		TotalCategories: len(allCategories),
		Categories:      categories,
		LastRebuilt:      time.Now().UTC(),
		ShardConfig: ShardConfig{
			KeywordShards:  shard.KeywordBuckets(),
			KeywordTier:    "2-tier (summary + individual files)",
			TopicShards:    b.topicShardCount,
			CategoryShards: "dynamic",
		},
	}
}

func (b *Builder) buildBloomFilter(allKeywords, allCategories map[string]struct{}) *bloom.MultiFilter {
	expectedK := b.expectedKeywords
	if uint(len(allKeywords)) > expectedK {
		expectedK = uint(len(allKeywords))
	}
	expectedC := b.expectedCategories
	if uint(len(allCategories)) > expectedC {
		expectedC = uint(len(allCategories))
	}
	mf := bloom.NewMulti(expectedK, expectedC, b.bloomFPRate)
	for kw := range allKeywords {
		mf.AddKeyword(kw)
	}
	for cat := range allCategories {
		mf.AddCategory(cat)
	}
	return mf
}

func (b *Builder) buildKeywordTiers(metaList []SourceMetadata) (map[string]KeywordSummary, map[string]map[string]KeywordDetail) {
	buckets := shard.KeywordBuckets()
	shardKeywords := make(map[string]map[string][]string, len(buckets))
	for _, bkt := range buckets {
		shardKeywords[bkt] = map[string][]string{}
	}

	for _, meta := range metaList {
		if meta.TopicID == "" {
			continue
		}
		for _, kw := range meta.Keywords {
			lower := strings.ToLower(kw)
			bucket := shard.KeywordBucket(lower)
			ids := shardKeywords[bucket][lower]
			if !containsString(ids, meta.TopicID) {
				shardKeywords[bucket][lower] = append(ids, meta.TopicID)
			}
		}
	}

	summaries := make(map[string]KeywordSummary, len(buckets))
	details := make(map[string]map[string]KeywordDetail, len(buckets))
	for bucket, keywords := range shardKeywords {
		names := make([]string, 0, len(keywords))
		for kw := range keywords {
			names = append(names, kw)
		}
		sort.Strings(names)
		summaries[bucket] = KeywordSummary{ShardID: bucket, KeywordCount: len(names), Keywords: names}

		details[bucket] = make(map[string]KeywordDetail, len(keywords))
		for kw, ids := range keywords {
			sort.Strings(ids)
			details[bucket][kw] = KeywordDetail{Keyword: kw, TopicCount: len(ids), Topics: ids}
		}
	}
	return summaries, details
}

func (b *Builder) buildCategoryShards(metaList []SourceMetadata) map[string]CategoryShard {
	byCategory := map[string]map[string]TopicSummaryEntry{}
	for _, meta := range metaList {
		if meta.TopicID == "" {
			continue
		}
		category := shard.Category(meta.TopicID)
		if byCategory[category] == nil {
			byCategory[category] = map[string]TopicSummaryEntry{}
		}
		byCategory[category][meta.TopicID] = TopicSummaryEntry{
			Title:         meta.Title,
			Keywords:      meta.Keywords,
			RelatedTopics: meta.RelatedTopics,
			LastModified:  meta.LastModified,
		}
	}

	shards := make(map[string]CategoryShard, len(byCategory))
	for category, topics := range byCategory {
		shards[category] = CategoryShard{Category: category, TopicCount: len(topics), Topics: topics}
	}
	return shards
}

func (b *Builder) buildTopicShards(metaList []SourceMetadata) map[int]TopicShardDoc {
	byShard := map[int]map[string]TopicSummaryEntry{}
	for _, meta := range metaList {
		if meta.TopicID == "" {
			continue
		}
		shardID := shard.TopicShard(meta.TopicID, b.topicShardCount)
		if byShard[shardID] == nil {
			byShard[shardID] = map[string]TopicSummaryEntry{}
		}
		byShard[shardID][meta.TopicID] = TopicSummaryEntry{
			Title:          meta.Title,
			Keywords:       meta.Keywords,
			RelatedTopics:  meta.RelatedTopics,
			Category:       shard.Category(meta.TopicID),
			LastModified:   meta.LastModified,
			LastModifiedBy: meta.LastModifiedBy,
			Version:        meta.Version,
		}
	}

	shards := make(map[int]TopicShardDoc, b.topicShardCount)
	for id := 0; id < b.topicShardCount; id++ {
		topics := byShard[id]
		if topics == nil {
			topics = map[string]TopicSummaryEntry{}
		}
		shards[id] = TopicShardDoc{ShardID: id, TopicCount: len(topics), Topics: topics}
	}
	return shards
}

func allKeywordsOf(metaList []SourceMetadata) map[string]struct{} {
	set := map[string]struct{}{}
	for _, meta := range metaList {
		for _, kw := range meta.Keywords {
			set[strings.ToLower(kw)] = struct{}{}
		}
	}
	return set
}

func allCategoriesOf(metaList []SourceMetadata) map[string]struct{} {
	set := map[string]struct{}{}
	for _, meta := range metaList {
		if meta.TopicID == "" {
			continue
		}
		set[shard.Category(meta.TopicID)] = struct{}{}
	}
	return set
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
