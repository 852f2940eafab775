package shard

import "testing"

func TestTopicShardStable(t *testing.T) {
	id := "python/gil"
	first := TopicShard(id, 100)
	for i := 0; i < 5; i++ {
		if got := TopicShard(id, 100); got != first {
			t.Fatalf("TopicShard not stable across calls: got %d, want %d", got, first)
		}
	}
}

func TestTopicShardRange(t *testing.T) {
	ids := []string{"python/gil", "rust/ownership", "go/channels", "a", "b/c/d"}
	for _, id := range ids {
		shardID := TopicShard(id, 100)
		if shardID < 0 || shardID >= 100 {
			t.Errorf("TopicShard(%q, 100) = %d, out of range", id, shardID)
		}
	}
}

func TestTopicShardDistribution(t *testing.T) {
	// A coarse sanity check that routing isn't degenerate (e.g. everything
	// landing in shard 0), not a rigorous uniformity test.
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		id := "topic/" + string(rune('a'+i%26)) + string(rune('0'+i%10))
		seen[TopicShard(id, 10)] = true
	}
	if len(seen) < 5 {
		t.Errorf("only %d distinct shards hit out of 10; routing looks degenerate", len(seen))
	}
}

func TestKeywordBucket(t *testing.T) {
	cases := map[string]string{
		"async":      "a-e",
		"elixir":     "a-e",
		"fortran":    "f-j",
		"javascript": "f-j",
		"kubernetes": "k-o",
		"ocaml":      "k-o",
		"python":     "p-t",
		"typescript": "p-t",
		"unix":       "u-z",
		"zig":        "u-z",
		"123start":   "u-z",
		"":           "u-z",
	}
	for kw, want := range cases {
		if got := KeywordBucket(kw); got != want {
			t.Errorf("KeywordBucket(%q) = %q, want %q", kw, got, want)
		}
	}
}

func TestKeywordBucketCaseInsensitive(t *testing.T) {
	if KeywordBucket("Python") != KeywordBucket("python") {
		t.Error("KeywordBucket should be case-insensitive")
	}
}

func TestCategory(t *testing.T) {
	cases := map[string]string{
		"python/gil":         "python",
		"go/concurrency/csp": "go",
		"standalone":         "uncategorized",
		"":                   "uncategorized",
	}
	for id, want := range cases {
		if got := Category(id); got != want {
			t.Errorf("Category(%q) = %q, want %q", id, got, want)
		}
	}
}
