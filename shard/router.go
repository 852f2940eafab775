// Package shard implements the pure, deterministic routing functions the
// sharded index is built on: which of the N topic shards a topic_id lives
// in, which of the five keyword buckets a keyword's detail file belongs to,
// and which category a topic_id falls under.
//
// Every function here is a pure function of its inputs with no I/O, so the
// index builder, the incremental updater and the reader all agree on
// placement without coordinating: calling TopicShard(id, n) twice with the
// same arguments, from any process, always returns the same shard.
package shard

import (
	"crypto/md5"
	"math/big"
	"strings"
)

// TopicShard returns the index, in [0, n), of the shard that owns id. It
// reproduces Python's int(md5_hex, 16) % n over the full 128-bit digest,
// not a truncated 64-bit hash, so placements computed here match any
// pre-existing index built by the original implementation.
func TopicShard(id string, n int) int {
	if n <= 0 {
		return 0
	}
	sum := md5.Sum([]byte(id))
	digest := new(big.Int).SetBytes(sum[:])
	mod := new(big.Int).SetInt64(int64(n))
	digest.Mod(digest, mod)
	return int(digest.Int64())
}

// KeywordBucket returns one of "a-e", "f-j", "k-o", "p-t" or "u-z" for
// keyword, based on the first character after lowercasing. Anything not a
// lowercase letter a-z (digits, punctuation, non-ASCII) falls into "u-z",
// matching the original implementation's else branch.
func KeywordBucket(keyword string) string {
	if keyword == "" {
		return "u-z"
	}
	c := strings.ToLower(keyword)[0]
	switch {
	case c >= 'a' && c <= 'e':
		return "a-e"
	case c >= 'f' && c <= 'j':
		return "f-j"
	case c >= 'k' && c <= 'o':
		return "k-o"
	case c >= 'p' && c <= 't':
		return "p-t"
	default:
		return "u-z"
	}
}

// KeywordBuckets lists every bucket name in a stable order, for callers
// that need to enumerate all of them (e.g. the full index rebuild).
func KeywordBuckets() []string {
	return []string{"a-e", "f-j", "k-o", "p-t", "u-z"}
}

// Category derives a topic's category from its id: the path segment before
// the first "/", or "uncategorized" if id has no "/". Topic metadata has no
// category field, so this is the only source of a topic's category.
func Category(id string) string {
	if idx := strings.IndexByte(id, '/'); idx >= 0 {
		return id[:idx]
	}
	return "uncategorized"
}
