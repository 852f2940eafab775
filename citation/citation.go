// Package citation records provenance for knowledge-base content: which
// source document contributed which topics, and a general-purpose
// operation log external collaborators (ingest pipelines, agents) can
// append to.
package citation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kbstore/kberrors"
	"kbstore/objectstore"
)

// Citation is the on-disk shape of citations/<id>_<date>.json.
type Citation struct {
	CitationID         string    `json:"citation_id"`
	SourceDocument     string    `json:"source_document"`
	ProcessedAt        time.Time `json:"processed_at"`
	ProcessedBy        string    `json:"processed_by"`
	ContributedTopics  []string  `json:"contributed_topics"`
	Summary            string    `json:"summary"`
}

// LogEntry is the on-disk shape of logs/<agent>_<timestamp>_<id>.json.
type LogEntry struct {
	LogID     string                 `json:"log_id"`
	Timestamp time.Time              `json:"timestamp"`
	AgentID   string                 `json:"agent_id"`
	Operation string                 `json:"operation"`
	Details   map[string]interface{} `json:"details"`
}

// Store reads and writes citations and log entries.
type Store struct {
	objects objectstore.Store
}

// NewStore constructs a citation Store.
func NewStore(objects objectstore.Store) *Store {
	return &Store{objects: objects}
}

// newID generates the short 8-character id the original knowledge base
// used (the first 8 hex characters of a UUID4), via the real uuid library
// rather than hand-rolled random hex.
func newID() string {
	return uuid.New().String()[:8]
}

// Add records a new citation and returns its generated id.
func (s *Store) Add(ctx context.Context, sourceDocument string, contributedTopics []string, summary, processedBy string) (*Citation, error) {
	id := newID()
	now := time.Now().UTC()
	citation := &Citation{
		CitationID:        id,
		SourceDocument:    sourceDocument,
		ProcessedAt:       now,
		ProcessedBy:       processedBy,
		ContributedTopics: contributedTopics,
		Summary:           summary,
	}

	path := fmt.Sprintf("citations/%s_%s.json", id, now.Format("2006-01-02"))
	if _, err := objectstore.WriteJSON(ctx, s.objects, path, citation, ""); err != nil {
		return nil, err
	}
	return citation, nil
}

// Get locates a citation by id. Citation files are named
// "<id>_<date>.json"; since the date is not known to the caller, this lists
// citations/ for the id prefix rather than constructing the path directly.
func (s *Store) Get(ctx context.Context, id string) (*Citation, error) {
	matches, err := s.objects.List(ctx, "citations", id+"_*.json")
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, kberrors.NotFoundf("citation not found: %s", id)
	}

	var citation Citation
	if _, err := objectstore.ReadJSON(ctx, s.objects, matches[0], &citation); err != nil {
		return nil, err
	}
	return &citation, nil
}

// LogOperation appends an entry to the operation log.
func (s *Store) LogOperation(ctx context.Context, operation string, details map[string]interface{}, agentID string) (*LogEntry, error) {
	if agentID == "" {
		agentID = "unknown"
	}
	id := newID()
	now := time.Now().UTC()
	entry := &LogEntry{
		LogID:     id,
		Timestamp: now,
		AgentID:   agentID,
		Operation: operation,
		Details:   details,
	}

	path := fmt.Sprintf("logs/%s_%s_%s.json", agentID, now.Format("20060102_150405"), id)
	if _, err := objectstore.WriteJSON(ctx, s.objects, path, entry, ""); err != nil {
		return nil, err
	}
	return entry, nil
}

// CountCitations returns how many citation files exist, for get_stats.
func (s *Store) CountCitations(ctx context.Context) (int, error) {
	matches, err := s.objects.List(ctx, "citations", "*.json")
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// CountLogs returns how many log entries exist, for get_stats.
func (s *Store) CountLogs(ctx context.Context) (int, error) {
	matches, err := s.objects.List(ctx, "logs", "*.json")
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}
