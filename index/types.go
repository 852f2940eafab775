// Package index implements the sharded, Bloom-gated search index that sits
// in front of the topic store: a full rebuild that scans every topic's
// metadata, an incremental updater that touches only the shards a single
// write affects, a bounded-I/O reader, and an online migrator that brings
// an older on-disk generation up to the current shard layout.
package index

import (
	"fmt"
	"time"
)

// Generation identifies an on-disk index layout. G3 is current; G1 and G2
// are recognized only so Migrator.Migrate can upgrade them in place.
type Generation int

const (
	G1 Generation = 1
	G2 Generation = 2
	G3 Generation = 3
)

const currentVersion = "3.0.0"
const indexType = "2-tier-sharded"

// Summary is the top-level _index/summary.json document.
type Summary struct {
	Version         string      `json:"version"`
	IndexType       string      `json:"index_type"`
	TotalTopics     int         `json:"total_topics"`
	TotalKeywords   int         `json:"total_keywords"`
	TotalCategories int         `json:"total_categories"`
	Categories      []string    `json:"categories"`
	LastRebuilt     time.Time   `json:"last_rebuilt"`
	ShardConfig     ShardConfig `json:"shard_config"`
}

// ShardConfig records the sharding scheme the summary was built with.
type ShardConfig struct {
	KeywordShards []string `json:"keyword_shards"`
	KeywordTier   string   `json:"keyword_tier"`
	TopicShards   int      `json:"topic_shards"`
	CategoryShards string  `json:"category_shards"`
}

// KeywordSummary is one of the five _index/shards/keywords/<bucket>.summary.json
// files: just the sorted list of keywords that bucket holds, without topic
// membership, so the first tier of a lookup stays small.
type KeywordSummary struct {
	ShardID      string   `json:"shard_id"`
	KeywordCount int      `json:"keyword_count"`
	Keywords     []string `json:"keywords"`
}

// KeywordDetail is one _index/shards/keywords/<bucket>/<keyword>.json file:
// the full set of topic ids carrying that keyword.
type KeywordDetail struct {
	Keyword    string   `json:"keyword"`
	TopicCount int      `json:"topic_count"`
	Topics     []string `json:"topics"`
}

// TopicSummaryEntry is the denormalized per-topic record stored inside a
// category or topic shard: enough to answer list/search queries without a
// further read of the topic's own metadata file.
type TopicSummaryEntry struct {
	Title           string    `json:"title"`
	Keywords        []string  `json:"keywords"`
	RelatedTopics   []string  `json:"related_topics"`
	Category        string    `json:"category,omitempty"`
	LastModified    time.Time `json:"last_modified"`
	LastModifiedBy  string    `json:"last_modified_by,omitempty"`
	Version         int       `json:"version,omitempty"`
}

// CategoryShard is one _index/shards/categories/<category>.json file.
type CategoryShard struct {
	Category   string                       `json:"category"`
	TopicCount int                          `json:"topic_count"`
	Topics     map[string]TopicSummaryEntry `json:"topics"`
}

// TopicShardDoc is one _index/shards/topics/shard_NN.json file.
type TopicShardDoc struct {
	ShardID    int                          `json:"shard_id"`
	TopicCount int                          `json:"topic_count"`
	Topics     map[string]TopicSummaryEntry `json:"topics"`
}

// SourceMetadata is the subset of a topic's metadata the index cares about;
// it is intentionally narrower than topic.Metadata so this package does not
// need to import the topic package (which instead depends on index).
type SourceMetadata struct {
	TopicID        string
	Title          string
	Keywords       []string
	RelatedTopics  []string
	LastModified   time.Time
	LastModifiedBy string
	Version        int
}

func topicShardPath(shardID int) string {
	return fmt.Sprintf("_index/shards/topics/shard_%02d.json", shardID)
}

func keywordSummaryPath(bucket string) string {
	return fmt.Sprintf("_index/shards/keywords/%s.summary.json", bucket)
}

func keywordDetailPath(bucket, keyword string) string {
	return fmt.Sprintf("_index/shards/keywords/%s/%s.json", bucket, keyword)
}

func categoryShardPath(category string) string {
	return fmt.Sprintf("_index/shards/categories/%s.json", category)
}

const summaryPath = "_index/summary.json"
const bloomPath = "_index/bloom.json"
