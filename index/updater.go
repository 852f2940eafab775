package index

import (
	"context"
	"sort"
	"strings"
	"time"

	"kbstore/kberrors"
	"kbstore/objectstore"
	"kbstore/shard"
)

// Updater applies incremental changes to the sharded index: a single
// topic's upsert or removal touches only its topic shard, its category
// shard, and the keyword shards for the keywords that were added or
// removed, never a full rebuild.
type Updater struct {
	store           objectstore.Store
	topicShardCount int
	writeRetries    int
}

// NewUpdater constructs an Updater. writeRetries bounds the read-modify-
// write retry loop used when a shard's ETag moves between the read and the
// write (concurrent updates to the same shard).
func NewUpdater(store objectstore.Store, topicShardCount, writeRetries int) *Updater {
	if writeRetries <= 0 {
		writeRetries = 5
	}
	return &Updater{store: store, topicShardCount: topicShardCount, writeRetries: writeRetries}
}

// Upsert reflects a topic's current metadata into every shard it affects.
// previousKeywords is the topic's keyword set before this write (nil for a
// brand new topic); the updater diffs against it to know which per-keyword
// detail files need an entry added versus removed, rather than trusting a
// caller-supplied delta.
func (u *Updater) Upsert(ctx context.Context, meta SourceMetadata, previousKeywords []string) error {
	category := shard.Category(meta.TopicID)
	shardID := shard.TopicShard(meta.TopicID, u.topicShardCount)

	entry := TopicSummaryEntry{
		Title:          meta.Title,
		Keywords:       meta.Keywords,
		RelatedTopics:  meta.RelatedTopics,
		Category:       category,
		LastModified:   meta.LastModified,
		LastModifiedBy: meta.LastModifiedBy,
		Version:        meta.Version,
	}

	if err := u.upsertTopicShard(ctx, shardID, meta.TopicID, entry); err != nil {
		return err
	}
	if err := u.upsertCategoryShard(ctx, category, meta.TopicID, entry); err != nil {
		return err
	}

	added, removed := diffKeywords(previousKeywords, meta.Keywords)
	for _, kw := range added {
		if err := u.updateKeywordDetail(ctx, kw, meta.TopicID, false); err != nil {
			return err
		}
	}
	for _, kw := range removed {
		if err := u.updateKeywordDetail(ctx, kw, meta.TopicID, true); err != nil {
			return err
		}
	}

	if previousKeywords == nil {
		return u.adjustTopicCount(ctx, 1)
	}
	return nil
}

// Remove reflects a topic's deletion out of every shard it was present in.
func (u *Updater) Remove(ctx context.Context, topicID string, keywords []string) error {
	category := shard.Category(topicID)
	shardID := shard.TopicShard(topicID, u.topicShardCount)

	if err := u.removeFromTopicShard(ctx, shardID, topicID); err != nil {
		return err
	}
	if err := u.removeFromCategoryShard(ctx, category, topicID); err != nil {
		return err
	}
	for _, kw := range keywords {
		if err := u.updateKeywordDetail(ctx, kw, topicID, true); err != nil {
			return err
		}
	}
	return u.adjustTopicCount(ctx, -1)
}

// retryWrite runs fn (which reads the current document, mutates it, and
// writes it back with the etag it read) up to writeRetries+1 times,
// retrying only on a Conflict from a concurrent writer.
func (u *Updater) retryWrite(fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= u.writeRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !kberrors.IsConflict(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (u *Updater) upsertTopicShard(ctx context.Context, shardID int, topicID string, entry TopicSummaryEntry) error {
	return u.retryWrite(func() error {
		var doc TopicShardDoc
		etag, err := objectstore.ReadJSON(ctx, u.store, topicShardPath(shardID), &doc)
		if kberrors.IsNotFound(err) {
			doc = TopicShardDoc{ShardID: shardID, Topics: map[string]TopicSummaryEntry{}}
			etag = ""
		} else if err != nil {
			return err
		}
		if doc.Topics == nil {
			doc.Topics = map[string]TopicSummaryEntry{}
		}
		doc.Topics[topicID] = entry
		doc.TopicCount = len(doc.Topics)
		_, err = objectstore.WriteJSON(ctx, u.store, topicShardPath(shardID), doc, etag)
		return err
	})
}

func (u *Updater) removeFromTopicShard(ctx context.Context, shardID int, topicID string) error {
	return u.retryWrite(func() error {
		var doc TopicShardDoc
		etag, err := objectstore.ReadJSON(ctx, u.store, topicShardPath(shardID), &doc)
		if kberrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, ok := doc.Topics[topicID]; !ok {
			return nil
		}
		delete(doc.Topics, topicID)
		doc.TopicCount = len(doc.Topics)
		_, err = objectstore.WriteJSON(ctx, u.store, topicShardPath(shardID), doc, etag)
		return err
	})
}

func (u *Updater) upsertCategoryShard(ctx context.Context, category, topicID string, entry TopicSummaryEntry) error {
	return u.retryWrite(func() error {
		var doc CategoryShard
		etag, err := objectstore.ReadJSON(ctx, u.store, categoryShardPath(category), &doc)
		if kberrors.IsNotFound(err) {
			doc = CategoryShard{Category: category, Topics: map[string]TopicSummaryEntry{}}
			etag = ""
		} else if err != nil {
			return err
		}
		if doc.Topics == nil {
			doc.Topics = map[string]TopicSummaryEntry{}
		}
		doc.Topics[topicID] = entry
		doc.TopicCount = len(doc.Topics)
		_, err = objectstore.WriteJSON(ctx, u.store, categoryShardPath(category), doc, etag)
		return err
	})
}

func (u *Updater) removeFromCategoryShard(ctx context.Context, category, topicID string) error {
	return u.retryWrite(func() error {
		var doc CategoryShard
		etag, err := objectstore.ReadJSON(ctx, u.store, categoryShardPath(category), &doc)
		if kberrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, ok := doc.Topics[topicID]; !ok {
			return nil
		}
		delete(doc.Topics, topicID)
		doc.TopicCount = len(doc.Topics)
		_, err = objectstore.WriteJSON(ctx, u.store, categoryShardPath(category), doc, etag)
		return err
	})
}

// updateKeywordDetail adds or removes topicID from keyword's detail file
// and keeps the bucket summary's keyword list consistent: a keyword whose
// last topic is removed is deleted outright, and dropped from the summary.
func (u *Updater) updateKeywordDetail(ctx context.Context, keyword, topicID string, remove bool) error {
	lower := strings.ToLower(keyword)
	bucket := shard.KeywordBucket(lower)

	var nowEmpty bool
	err := u.retryWrite(func() error {
		var detail KeywordDetail
		etag, err := objectstore.ReadJSON(ctx, u.store, keywordDetailPath(bucket, lower), &detail)
		if kberrors.IsNotFound(err) {
			if remove {
				nowEmpty = true
				return nil
			}
			detail = KeywordDetail{Keyword: lower, Topics: []string{}}
			etag = ""
		} else if err != nil {
			return err
		}

		if remove {
			detail.Topics = removeString(detail.Topics, topicID)
		} else if !containsString(detail.Topics, topicID) {
			detail.Topics = append(detail.Topics, topicID)
			sort.Strings(detail.Topics)
		}
		detail.TopicCount = len(detail.Topics)

		if detail.TopicCount == 0 {
			nowEmpty = true
			if etag == "" {
				return nil
			}
			return u.store.Delete(ctx, keywordDetailPath(bucket, lower))
		}

		_, err = objectstore.WriteJSON(ctx, u.store, keywordDetailPath(bucket, lower), detail, etag)
		return err
	})
	if err != nil {
		return err
	}

	return u.retryWrite(func() error {
		var summary KeywordSummary
		etag, err := objectstore.ReadJSON(ctx, u.store, keywordSummaryPath(bucket), &summary)
		if kberrors.IsNotFound(err) {
			if nowEmpty {
				return nil
			}
			summary = KeywordSummary{ShardID: bucket, Keywords: []string{}}
			etag = ""
		} else if err != nil {
			return err
		}

		changed := false
		if nowEmpty {
			if containsString(summary.Keywords, lower) {
				summary.Keywords = removeString(summary.Keywords, lower)
				changed = true
			}
		} else if !containsString(summary.Keywords, lower) {
			summary.Keywords = append(summary.Keywords, lower)
			sort.Strings(summary.Keywords)
			changed = true
		}
		if !changed {
			return nil
		}
		summary.KeywordCount = len(summary.Keywords)
		_, err = objectstore.WriteJSON(ctx, u.store, keywordSummaryPath(bucket), summary, etag)
		return err
	})
}

func (u *Updater) adjustTopicCount(ctx context.Context, delta int) error {
	return u.retryWrite(func() error {
		var summary Summary
		etag, err := objectstore.ReadJSON(ctx, u.store, summaryPath, &summary)
		if kberrors.IsNotFound(err) {
			summary = Summary{Version: currentVersion, IndexType: indexType, ShardConfig: ShardConfig{TopicShards: u.topicShardCount}}
			etag = ""
		} else if err != nil {
			return err
		}
		summary.TotalTopics += delta
		if summary.TotalTopics < 0 {
			summary.TotalTopics = 0
		}
		summary.LastRebuilt = time.Now().UTC()
		_, err = objectstore.WriteJSON(ctx, u.store, summaryPath, summary, etag)
		return err
	})
}

func diffKeywords(previous, current []string) (added, removed []string) {
	prevSet := map[string]struct{}{}
	for _, kw := range previous {
		prevSet[strings.ToLower(kw)] = struct{}{}
	}
	currSet := map[string]struct{}{}
	for _, kw := range current {
		currSet[strings.ToLower(kw)] = struct{}{}
	}
	for kw := range currSet {
		if _, ok := prevSet[kw]; !ok {
			added = append(added, kw)
		}
	}
	for kw := range prevSet {
		if _, ok := currSet[kw]; !ok {
			removed = append(removed, kw)
		}
	}
	return added, removed
}

func removeString(haystack []string, needle string) []string {
	out := haystack[:0:0]
	for _, s := range haystack {
		if s != needle {
			out = append(out, s)
		}
	}
	return out
}
