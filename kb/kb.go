// Package kb assembles the object store, Bloom-gated sharded index, topic
// store and citation log into the single surface the knowledge base's
// callers (an MCP tool layer, a CLI, an HTTP handler) are written against:
// one method per tool in the original tool surface. The topic, search,
// citation, log, rebuild and stats methods return a structured result
// rather than an error; MigrateIndex and the lock methods (AcquireLock,
// ReleaseLock, CheckLock, ForceUnlock, WithLock) return a Go error.
package kb

import (
	"context"
	"sort"

	"kbstore/citation"
	"kbstore/config"
	"kbstore/index"
	"kbstore/kberrors"
	"kbstore/logger"
	"kbstore/objectstore"
	"kbstore/topic"
)

// KnowledgeBase wires together every subsystem behind a single facade.
type KnowledgeBase struct {
	cfg       *config.Config
	objects   objectstore.Store
	topics    *topic.Store
	citations *citation.Store
	builder   *index.Builder
	updater   *index.Updater
	migrator  *index.Migrator
	reader    *index.Reader
}

// New constructs a KnowledgeBase backed by the given Store.
func New(cfg *config.Config, objects objectstore.Store) *KnowledgeBase {
	builder := index.NewBuilder(objects, cfg.TopicShardCount, cfg.BloomFalsePositiveRate, cfg.BloomExpectedKeywords, cfg.BloomExpectedCategories)
	updater := index.NewUpdater(objects, cfg.TopicShardCount, cfg.WriteRetries)
	return &KnowledgeBase{
		cfg:       cfg,
		objects:   objects,
		topics:    topic.NewStore(objects, updater),
		citations: citation.NewStore(objects),
		builder:   builder,
		updater:   updater,
		migrator:  index.NewMigrator(objects, builder),
		reader:    index.NewReader(objects),
	}
}

// Result is the uniform success/error envelope every operation returns,
// mirroring the {"success": ..., ...} dicts the original tool surface
// returned so callers can branch on Success without inspecting Go error
// types.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func errResult(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// ReadTopicResult is the response to ReadTopic.
type ReadTopicResult struct {
	Result
	Path     string           `json:"path,omitempty"`
	Content  string           `json:"content,omitempty"`
	ETag     string           `json:"etag,omitempty"`
	Metadata *topic.Metadata  `json:"metadata,omitempty"`
}

// ReadTopic loads a topic's content and metadata.
func (kb *KnowledgeBase) ReadTopic(ctx context.Context, path string) ReadTopicResult {
	t, err := kb.topics.Read(ctx, path)
	if err != nil {
		return ReadTopicResult{Result: errResult(err)}
	}
	return ReadTopicResult{
		Result:   Result{Success: true},
		Path:     path,
		Content:  t.Content,
		ETag:     string(t.ETag),
		Metadata: t.Metadata,
	}
}

// WriteTopicInput collects the arguments to WriteTopic.
type WriteTopicInput struct {
	Path          string
	Content       string
	Title         string
	Keywords      []string
	RelatedTopics []string
	Citations     []string
	ETag          string
	AgentID       string
}

// WriteTopicResult is the response to WriteTopic.
type WriteTopicResult struct {
	Result
	Path    string `json:"path,omitempty"`
	ETag    string `json:"etag,omitempty"`
	Version int    `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteTopic creates or updates a topic, merging citations and keeping the
// index consistent.
func (kb *KnowledgeBase) WriteTopic(ctx context.Context, in WriteTopicInput) WriteTopicResult {
	writerID := in.AgentID
	if writerID == "" {
		writerID = kb.cfg.WriterID
	}
	res, err := kb.topics.Write(ctx, topic.WriteInput{
		ID:            in.Path,
		Content:       in.Content,
		Title:         in.Title,
		Keywords:      in.Keywords,
		RelatedTopics: in.RelatedTopics,
		Citations:     in.Citations,
		ExpectedETag:  objectstore.ETag(in.ETag),
		WriterID:      writerID,
	})
	if err != nil {
		result := WriteTopicResult{Result: errResult(err)}
		if code, ok := kberrors.CodeOf(err); ok && code == kberrors.Conflict {
			if kbErr, ok2 := err.(*kberrors.Error); ok2 {
				result.ETag = kbErr.Etag
			}
		}
		return result
	}
	kb.reader.InvalidateCache()
	return WriteTopicResult{
		Result:  Result{Success: true},
		Path:    in.Path,
		ETag:    string(res.ETag),
		Version: res.Version,
		Message: "topic '" + in.Title + "' saved successfully",
	}
}

// AppendToTopic appends content to an existing topic.
func (kb *KnowledgeBase) AppendToTopic(ctx context.Context, path, additionalContent, citationID, agentID string) WriteTopicResult {
	writerID := agentID
	if writerID == "" {
		writerID = kb.cfg.WriterID
	}
	res, err := kb.topics.Append(ctx, path, additionalContent, citationID, writerID)
	if err != nil {
		return WriteTopicResult{Result: errResult(err)}
	}
	kb.reader.InvalidateCache()
	return WriteTopicResult{Result: Result{Success: true}, Path: path, ETag: string(res.ETag), Version: res.Version}
}

// DeleteTopic removes a topic and its index entries.
func (kb *KnowledgeBase) DeleteTopic(ctx context.Context, path string) Result {
	if err := kb.topics.Delete(ctx, path); err != nil {
		return errResult(err)
	}
	kb.reader.InvalidateCache()
	return Result{Success: true}
}

// ListTopicsResult is the response to ListTopics.
type ListTopicsResult struct {
	Result
	Category string                                 `json:"category,omitempty"`
	Count    int                                     `json:"count"`
	Topics   map[string]index.TopicSummaryEntry      `json:"topics"`
}

// ListTopics lists every topic in category, or, when category is empty,
// every topic in the categories recorded in the index summary. Only a full
// rebuild writes that category list; a category first created by an
// incremental write since the last rebuild is not included.
func (kb *KnowledgeBase) ListTopics(ctx context.Context, category string) ListTopicsResult {
	if category != "" {
		topics, err := kb.reader.CategoryTopics(ctx, category)
		if err != nil {
			return ListTopicsResult{Result: errResult(err)}
		}
		return ListTopicsResult{Result: Result{Success: true}, Category: category, Count: len(topics), Topics: topics}
	}

	categories, err := kb.reader.AllCategories(ctx)
	if err != nil {
		return ListTopicsResult{Result: errResult(err)}
	}
	all := map[string]index.TopicSummaryEntry{}
	for _, c := range categories {
		topics, err := kb.reader.CategoryTopics(ctx, c)
		if err != nil {
			continue
		}
		for id, entry := range topics {
			all[id] = entry
		}
	}
	return ListTopicsResult{Result: Result{Success: true}, Count: len(all), Topics: all}
}

// SearchTopicsResult is the response to SearchTopics and SearchTopicsFulltext.
type SearchTopicsResult struct {
	Result
	Query    string   `json:"query,omitempty"`
	Count    int      `json:"count"`
	TopicIDs []string `json:"topic_ids,omitempty"`
	Results  []FulltextMatch `json:"results,omitempty"`
}

// FulltextMatch is one hit from the content-search fallback.
type FulltextMatch struct {
	Path      string              `json:"path"`
	MatchType string              `json:"match_type"`
	Snippets  []objectstore.Excerpt `json:"snippets"`
}

// SearchTopics performs an index-backed keyword search.
func (kb *KnowledgeBase) SearchTopics(ctx context.Context, query string) SearchTopicsResult {
	ids, err := kb.reader.SearchKeyword(ctx, query)
	if err != nil {
		return SearchTopicsResult{Result: errResult(err)}
	}
	sort.Strings(ids)
	return SearchTopicsResult{Result: Result{Success: true}, Query: query, Count: len(ids), TopicIDs: ids}
}

// SearchTopicsFulltext tries the index first, then falls back to a linear
// content scan across topics/*.md when the index finds nothing, capped at
// limit results.
func (kb *KnowledgeBase) SearchTopicsFulltext(ctx context.Context, query string, limit int) SearchTopicsResult {
	indexed := kb.SearchTopics(ctx, query)
	if indexed.Success && indexed.Count > 0 {
		return indexed
	}

	if limit <= 0 {
		limit = 20
	}
	matches, err := kb.objects.Search(ctx, query, "topics", "*.md")
	if err != nil {
		return SearchTopicsResult{Result: errResult(err)}
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]FulltextMatch, 0, len(matches))
	for _, m := range matches {
		results = append(results, FulltextMatch{
			Path:      stripTopicPath(m.Path),
			MatchType: "content",
			Snippets:  m.Excerpts,
		})
	}
	return SearchTopicsResult{Result: Result{Success: true}, Query: query, Count: len(results), Results: results}
}

func stripTopicPath(path string) string {
	const prefix = "topics/"
	const suffix = ".md"
	id := path
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		id = id[len(prefix):]
	}
	if len(id) > len(suffix) && id[len(id)-len(suffix):] == suffix {
		id = id[:len(id)-len(suffix)]
	}
	return id
}

// RelatedTopic is one entry in FindRelatedTopics's result.
type RelatedTopic struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	Relation string `json:"relation"` // "explicit" or "keyword_similarity"
}

// FindRelatedTopicsResult is the response to FindRelatedTopics.
type FindRelatedTopicsResult struct {
	Result
	Source  string         `json:"source,omitempty"`
	Related []RelatedTopic `json:"related,omitempty"`
}

// FindRelatedTopics returns a topic's explicitly linked related_topics plus
// up to five topics sharing one of its first three keywords, via the
// inverted keyword index.
func (kb *KnowledgeBase) FindRelatedTopics(ctx context.Context, path string) FindRelatedTopicsResult {
	source, err := kb.reader.TopicMetadata(ctx, path, kb.cfg.TopicShardCount)
	if err != nil {
		return FindRelatedTopicsResult{Result: errResult(err)}
	}

	var related []RelatedTopic
	for _, relatedPath := range source.RelatedTopics {
		entry, err := kb.reader.TopicMetadata(ctx, relatedPath, kb.cfg.TopicShardCount)
		if err != nil {
			continue
		}
		related = append(related, RelatedTopic{Path: relatedPath, Title: entry.Title, Relation: "explicit"})
	}

	if len(source.Keywords) > 0 {
		checkKeywords := source.Keywords
		if len(checkKeywords) > 3 {
			checkKeywords = checkKeywords[:3]
		}

		similar := map[string]struct{}{}
		for _, kw := range checkKeywords {
			ids, err := kb.reader.SearchKeyword(ctx, kw)
			if err != nil {
				continue
			}
			for _, id := range ids {
				similar[id] = struct{}{}
			}
		}

		alreadyRelated := map[string]struct{}{}
		for _, r := range source.RelatedTopics {
			alreadyRelated[r] = struct{}{}
		}

		added := 0
		for id := range similar {
			if added >= 5 {
				break
			}
			if id == path {
				continue
			}
			if _, ok := alreadyRelated[id]; ok {
				continue
			}
			entry, err := kb.reader.TopicMetadata(ctx, id, kb.cfg.TopicShardCount)
			if err != nil {
				continue
			}
			related = append(related, RelatedTopic{Path: id, Title: entry.Title, Relation: "keyword_similarity"})
			added++
		}
	}

	return FindRelatedTopicsResult{Result: Result{Success: true}, Source: path, Related: related}
}

// AddCitationResult is the response to AddCitation.
type AddCitationResult struct {
	Result
	CitationID string `json:"citation_id,omitempty"`
}

// AddCitation records a new citation.
func (kb *KnowledgeBase) AddCitation(ctx context.Context, sourceDocument string, contributedTopics []string, summary, agentID string) AddCitationResult {
	c, err := kb.citations.Add(ctx, sourceDocument, contributedTopics, summary, agentID)
	if err != nil {
		return AddCitationResult{Result: errResult(err)}
	}
	return AddCitationResult{Result: Result{Success: true}, CitationID: c.CitationID}
}

// GetCitationResult is the response to GetCitation.
type GetCitationResult struct {
	Result
	Citation *citation.Citation `json:"citation,omitempty"`
}

// GetCitation looks up a citation by id.
func (kb *KnowledgeBase) GetCitation(ctx context.Context, id string) GetCitationResult {
	c, err := kb.citations.Get(ctx, id)
	if err != nil {
		return GetCitationResult{Result: errResult(err)}
	}
	return GetCitationResult{Result: Result{Success: true}, Citation: c}
}

// LogOperationResult is the response to LogOperation.
type LogOperationResult struct {
	Result
	LogID string `json:"log_id,omitempty"`
}

// LogOperation appends an entry to the operation log.
func (kb *KnowledgeBase) LogOperation(ctx context.Context, operation string, details map[string]interface{}, agentID string) LogOperationResult {
	entry, err := kb.citations.LogOperation(ctx, operation, details, agentID)
	if err != nil {
		return LogOperationResult{Result: errResult(err)}
	}
	return LogOperationResult{Result: Result{Success: true}, LogID: entry.LogID}
}

// RebuildIndexResult is the response to RebuildIndex.
type RebuildIndexResult struct {
	Result
	TopicCount    int      `json:"topic_count,omitempty"`
	KeywordCount  int      `json:"keyword_count,omitempty"`
	CategoryCount int      `json:"category_count,omitempty"`
	TopicShards   int      `json:"topic_shards,omitempty"`
	Failed        []string `json:"failed_metadata,omitempty"`
}

// RebuildIndex performs a full index rebuild from topic metadata.
func (kb *KnowledgeBase) RebuildIndex(ctx context.Context) RebuildIndexResult {
	logger.Info("starting full index rebuild")
	result, err := kb.builder.Build(ctx)
	if err != nil {
		return RebuildIndexResult{Result: errResult(err)}
	}
	kb.reader.InvalidateCache()
	return RebuildIndexResult{
		Result:        Result{Success: true},
		TopicCount:    result.TopicCount,
		KeywordCount:  result.KeywordCount,
		CategoryCount: result.CategoryCount,
		TopicShards:   result.TopicShards,
		Failed:        result.FailedMetadata,
	}
}

// MigrateIndex brings the on-disk index up to the current generation.
func (kb *KnowledgeBase) MigrateIndex(ctx context.Context) (*index.MigrationResult, error) {
	result, err := kb.migrator.Migrate(ctx)
	if err == nil {
		kb.reader.InvalidateCache()
	}
	return result, err
}

// GetStatsResult is the response to GetStats.
type GetStatsResult struct {
	Result
	TotalTopics     int      `json:"total_topics"`
	TotalKeywords   int      `json:"total_keywords"`
	TotalCategories int      `json:"total_categories"`
	TotalCitations  int      `json:"total_citations"`
	TotalLogs       int      `json:"total_logs"`
	Categories      []string `json:"categories"`
	LastRebuilt     string   `json:"last_rebuilt,omitempty"`
	IndexVersion    string   `json:"index_version,omitempty"`
}

// GetStats reports headline knowledge-base statistics.
func (kb *KnowledgeBase) GetStats(ctx context.Context) GetStatsResult {
	stats, err := kb.reader.Stats(ctx)
	if err != nil {
		return GetStatsResult{Result: errResult(err)}
	}
	citationCount, _ := kb.citations.CountCitations(ctx)
	logCount, _ := kb.citations.CountLogs(ctx)
	return GetStatsResult{
		Result:          Result{Success: true},
		TotalTopics:     stats.TotalTopics,
		TotalKeywords:   stats.TotalKeywords,
		TotalCategories: stats.TotalCategories,
		TotalCitations:  citationCount,
		TotalLogs:       logCount,
		Categories:      stats.Categories,
		LastRebuilt:     stats.LastRebuilt,
		IndexVersion:    stats.IndexVersion,
	}
}

// AcquireLock acquires a named advisory lock on a logical path (typically
// a topic id), for callers that prefer pessimistic serialization over
// ETag-based optimistic retry.
func (kb *KnowledgeBase) AcquireLock(ctx context.Context, path, holderID string, wait bool) (string, error) {
	return kb.objects.AcquireLock(ctx, path, holderID, kb.cfg.LockTTL, wait, kb.cfg.LockWaitTTL)
}

// ReleaseLock releases a lock previously returned by AcquireLock.
func (kb *KnowledgeBase) ReleaseLock(ctx context.Context, path, lockID string) error {
	return kb.objects.ReleaseLock(ctx, path, lockID)
}

// CheckLock reports the current lock state on path.
func (kb *KnowledgeBase) CheckLock(ctx context.Context, path string) (*objectstore.LockInfo, error) {
	return kb.objects.CheckLock(ctx, path)
}

// ForceUnlock clears whatever lock is on path, for operator recovery.
func (kb *KnowledgeBase) ForceUnlock(ctx context.Context, path string) error {
	return kb.objects.ForceUnlock(ctx, path)
}

// WithLock runs fn while holding the named lock on path.
func (kb *KnowledgeBase) WithLock(ctx context.Context, path, holderID string, wait bool, fn func() error) error {
	return objectstore.WithLock(ctx, kb.objects, path, holderID, kb.cfg.LockTTL, wait, kb.cfg.LockWaitTTL, fn)
}
