// Package config provides centralized configuration for the knowledge-base
// engine. Every value has a sensible default and can be overridden through
// environment variables, following the same KBSTORE_-prefixed convention
// throughout.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the storage and index subsystems.
//
// The only value a caller is required to supply is RootPath; everything
// else defaults to settings appropriate for a single-node deployment
// scaling toward the ten-million-topic range described in the design.
type Config struct {
	// RootPath is the root directory (or, for non-filesystem backends, the
	// root namespace) under which topics/, citations/, logs/, _index/ and
	// _locks/ live.
	// Environment: KBSTORE_ROOT_PATH
	RootPath string

	// WriterID identifies the agent or process performing writes when the
	// caller does not supply one explicitly. Recorded as last_modified_by.
	// Environment: KBSTORE_WRITER_ID
	// Default: "unknown"
	WriterID string

	// TopicShardCount is the number of shard_NN.json files under
	// _index/shards/topics. Generation 3 uses 100.
	// Environment: KBSTORE_TOPIC_SHARD_COUNT
	// Default: 100
	TopicShardCount int

	// BloomFalsePositiveRate is the target false-positive rate for both the
	// keyword and category Bloom filters.
	// Environment: KBSTORE_BLOOM_FP_RATE
	// Default: 0.01
	BloomFalsePositiveRate float64

	// BloomExpectedKeywords seeds the Bloom filter's bit-array sizing.
	// Environment: KBSTORE_BLOOM_EXPECTED_KEYWORDS
	// Default: 10000
	BloomExpectedKeywords uint

	// BloomExpectedCategories seeds the category Bloom filter's sizing.
	// Environment: KBSTORE_BLOOM_EXPECTED_CATEGORIES
	// Default: 200
	BloomExpectedCategories uint

	// LockTTL is how long an acquired advisory lock remains valid before it
	// becomes eligible for reaping by the next acquisition attempt.
	// Environment: KBSTORE_LOCK_TTL_SECONDS
	// Default: 30s
	LockTTL time.Duration

	// LockWaitTTL is how long acquire_lock blocks, polling every
	// LockPollInterval, before giving up with Timeout.
	// Environment: KBSTORE_LOCK_WAIT_TTL_SECONDS
	// Default: 30s
	LockWaitTTL time.Duration

	// LockPollInterval is the delay between polling attempts while waiting
	// for a held lock to free up.
	// Environment: KBSTORE_LOCK_POLL_INTERVAL_MS
	// Default: 500ms
	LockPollInterval time.Duration

	// WriteRetries bounds the read-modify-write retry loop the incremental
	// updater uses when a shard's ETag has moved under it.
	// Environment: KBSTORE_WRITE_RETRIES
	// Default: 5
	WriteRetries int

	// SearchExcerptLimit is loaded from the environment but is not read by
	// either object store: FSStore.Search and SQLiteStore.Search always
	// return at most five line excerpts per matching file.
	// Environment: KBSTORE_SEARCH_EXCERPT_LIMIT
	// Default: 5
	SearchExcerptLimit int

	// DeletionsSinceRebuildThreshold is the maintenance counter at which a
	// caller should consider a full rebuild to clear Bloom-filter staleness
	// accumulated from removed keywords.
	// Environment: KBSTORE_BLOOM_REBUILD_THRESHOLD
	// Default: 10000
	DeletionsSinceRebuildThreshold int64

	// LogLevel is the minimum logger.LogLevel name ("trace".."error").
	// Environment: KBSTORE_LOG_LEVEL
	// Default: "info"
	LogLevel string
}

// Load builds a Config from environment variables, falling back to defaults
// for anything unset. RootPath has no useful default and is left empty when
// KBSTORE_ROOT_PATH is not set; callers should validate it before use.
func Load() *Config {
	return &Config{
		RootPath:                       getEnv("KBSTORE_ROOT_PATH", ""),
		WriterID:                       getEnv("KBSTORE_WRITER_ID", "unknown"),
		TopicShardCount:                getEnvInt("KBSTORE_TOPIC_SHARD_COUNT", 100),
		BloomFalsePositiveRate:         getEnvFloat("KBSTORE_BLOOM_FP_RATE", 0.01),
		BloomExpectedKeywords:          uint(getEnvInt("KBSTORE_BLOOM_EXPECTED_KEYWORDS", 10000)),
		BloomExpectedCategories:        uint(getEnvInt("KBSTORE_BLOOM_EXPECTED_CATEGORIES", 200)),
		LockTTL:                        getEnvDuration("KBSTORE_LOCK_TTL_SECONDS", 30),
		LockWaitTTL:                    getEnvDuration("KBSTORE_LOCK_WAIT_TTL_SECONDS", 30),
		LockPollInterval:               getEnvDurationMS("KBSTORE_LOCK_POLL_INTERVAL_MS", 500),
		WriteRetries:                   getEnvInt("KBSTORE_WRITE_RETRIES", 5),
		SearchExcerptLimit:             getEnvInt("KBSTORE_SEARCH_EXCERPT_LIMIT", 5),
		DeletionsSinceRebuildThreshold: int64(getEnvInt("KBSTORE_BLOOM_REBUILD_THRESHOLD", 10000)),
		LogLevel:                       getEnv("KBSTORE_LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultSeconds int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(defaultSeconds) * time.Second
}

func getEnvDurationMS(key string, defaultMillis int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return time.Duration(defaultMillis) * time.Millisecond
}
