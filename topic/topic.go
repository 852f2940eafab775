// Package topic implements the knowledge base's core unit of content: a
// topic is a Markdown body plus a metadata sidecar (title, keywords,
// related topics, citations, version), stored as a pair of files and kept
// in sync with the sharded index on every write.
package topic

import (
	"context"
	"time"

	"kbstore/index"
	"kbstore/kberrors"
	"kbstore/objectstore"
)

// Metadata is the on-disk shape of topics/<id>.meta.json.
type Metadata struct {
	TopicID        string    `json:"topic_id"`
	Title          string    `json:"title"`
	Version        int       `json:"version"`
	ETag           string    `json:"etag"`
	LastModified   time.Time `json:"last_modified"`
	LastModifiedBy string    `json:"last_modified_by"`
	Citations      []string  `json:"citations"`
	RelatedTopics  []string  `json:"related_topics"`
	Keywords       []string  `json:"keywords"`
}

// Topic is a fully loaded topic: its body and its metadata, plus the
// content ETag a caller presents to write_topic for optimistic
// concurrency.
type Topic struct {
	ID       string
	Content  string
	ETag     objectstore.ETag
	Metadata *Metadata
}

func bodyPath(id string) string { return "topics/" + id + ".md" }
func metaPath(id string) string { return "topics/" + id + ".meta.json" }

// Store reads and writes topics, keeping the sharded index consistent with
// every change. It wraps an objectstore.Store and an index.Updater rather
// than owning storage itself, so the same logic works unmodified against
// either FSStore or SQLiteStore.
type Store struct {
	objects objectstore.Store
	updater *index.Updater
}

// NewStore constructs a topic Store.
func NewStore(objects objectstore.Store, updater *index.Updater) *Store {
	return &Store{objects: objects, updater: updater}
}

// Read loads a topic's body and metadata. A missing body is reported as
// NotFound even if the metadata sidecar happens to still exist, matching
// the content file as the topic's existence marker.
func (s *Store) Read(ctx context.Context, id string) (*Topic, error) {
	content, etag, err := s.objects.Read(ctx, bodyPath(id))
	if err != nil {
		return nil, err
	}

	var meta Metadata
	_, metaErr := objectstore.ReadJSON(ctx, s.objects, metaPath(id), &meta)
	if metaErr != nil {
		// A topic can exist with no metadata sidecar yet (e.g. written by an
		// external process); surface the content with metadata absent rather
		// than failing the whole read.
		return &Topic{ID: id, Content: string(content), ETag: etag, Metadata: nil}, nil
	}

	return &Topic{ID: id, Content: string(content), ETag: etag, Metadata: &meta}, nil
}

// WriteInput collects the arguments to Write.
type WriteInput struct {
	ID            string
	Content       string
	Title         string
	Keywords      []string
	RelatedTopics []string
	Citations     []string
	ExpectedETag  objectstore.ETag // empty means unconditional write
	WriterID      string
}

// WriteResult reports the outcome of a successful write.
type WriteResult struct {
	ID      string
	ETag    objectstore.ETag
	Version int
}

// Write creates or updates a topic's content and metadata, merges any new
// citation ids into the existing set, and reflects the change into the
// sharded index. The content write is ETag-guarded; the metadata write
// that follows is unconditional, since only the content write participates
// in the optimistic-concurrency contract the caller observes.
func (s *Store) Write(ctx context.Context, in WriteInput) (*WriteResult, error) {
	var existing Metadata
	_, err := objectstore.ReadJSON(ctx, s.objects, metaPath(in.ID), &existing)
	hasExisting := err == nil
	if err != nil && !kberrors.IsNotFound(err) {
		return nil, err
	}

	version := 1
	var existingCitations, oldKeywords []string
	if hasExisting {
		version = existing.Version + 1
		existingCitations = existing.Citations
		oldKeywords = existing.Keywords
	}

	newETag, err := s.objects.Write(ctx, bodyPath(in.ID), []byte(in.Content), in.ExpectedETag)
	if err != nil {
		return nil, err
	}

	meta := Metadata{
		TopicID:        in.ID,
		Title:          in.Title,
		Version:        version,
		ETag:           string(newETag),
		LastModified:   time.Now().UTC(),
		LastModifiedBy: in.WriterID,
		Citations:      unionStrings(existingCitations, in.Citations),
		RelatedTopics:  in.RelatedTopics,
		Keywords:       in.Keywords,
	}

	if _, err := objectstore.WriteJSON(ctx, s.objects, metaPath(in.ID), meta, ""); err != nil {
		return nil, err
	}

	if s.updater != nil {
		sourceMeta := index.SourceMetadata{
			TopicID:        in.ID,
			Title:          in.Title,
			Keywords:       in.Keywords,
			RelatedTopics:  in.RelatedTopics,
			LastModified:   meta.LastModified,
			LastModifiedBy: in.WriterID,
			Version:        version,
		}
		var prevKeywords []string
		if hasExisting {
			prevKeywords = oldKeywords
			if prevKeywords == nil {
				prevKeywords = []string{}
			}
		}
		if err := s.updater.Upsert(ctx, sourceMeta, prevKeywords); err != nil {
			return nil, err
		}
	}

	return &WriteResult{ID: in.ID, ETag: newETag, Version: version}, nil
}

// Append reads a topic, appends additional content separated by a blank
// line, optionally attaches a citation id, and writes the result back
// using the topic's current ETag so a concurrent modification is detected
// rather than silently overwritten.
func (s *Store) Append(ctx context.Context, id, additionalContent, citationID, writerID string) (*WriteResult, error) {
	existing, err := s.Read(ctx, id)
	if err != nil {
		return nil, err
	}

	newContent := existing.Content + "\n\n" + additionalContent

	title := id
	var keywords, related []string
	if existing.Metadata != nil {
		title = existing.Metadata.Title
		keywords = existing.Metadata.Keywords
		related = existing.Metadata.RelatedTopics
	}

	var citations []string
	if citationID != "" {
		citations = []string{citationID}
	}

	return s.Write(ctx, WriteInput{
		ID:            id,
		Content:       newContent,
		Title:         title,
		Keywords:      keywords,
		RelatedTopics: related,
		Citations:     citations,
		ExpectedETag:  existing.ETag,
		WriterID:      writerID,
	})
}

// Delete removes a topic's content and metadata and reflects the removal
// into the sharded index. Both files are removed even if one is already
// missing; the index update runs as long as at least the content delete
// succeeds (or did not need to happen because it was already gone).
func (s *Store) Delete(ctx context.Context, id string) error {
	var existing Metadata
	_, metaErr := objectstore.ReadJSON(ctx, s.objects, metaPath(id), &existing)
	hasExisting := metaErr == nil

	err := s.objects.Delete(ctx, bodyPath(id))
	if err != nil && !kberrors.IsNotFound(err) {
		return err
	}

	if metaDeleteErr := s.objects.Delete(ctx, metaPath(id)); metaDeleteErr != nil && !kberrors.IsNotFound(metaDeleteErr) {
		return metaDeleteErr
	}

	if s.updater != nil {
		var keywords []string
		if hasExisting {
			keywords = existing.Keywords
		}
		if err := s.updater.Remove(ctx, id, keywords); err != nil {
			return err
		}
	}
	return nil
}

// List returns every topic path under topics/, regardless of category.
// This is the fallback used when no index exists yet; callers that have a
// working index should prefer index.Reader.CategoryTopics or
// index.Reader.AllCategories instead, which never scan every metadata
// file.
func (s *Store) List(ctx context.Context) ([]string, error) {
	paths, err := s.objects.List(ctx, "topics", "*.meta.json")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		ids = append(ids, stripMetaSuffix(p))
	}
	return ids, nil
}

func stripMetaSuffix(path string) string {
	const prefix = "topics/"
	const suffix = ".meta.json"
	id := path
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		id = id[len(prefix):]
	}
	if len(id) > len(suffix) && id[len(id)-len(suffix):] == suffix {
		id = id[:len(id)-len(suffix)]
	}
	return id
}

func unionStrings(a, b []string) []string {
	set := map[string]struct{}{}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; !ok {
			set[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			set[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
