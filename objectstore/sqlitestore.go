package objectstore

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kbstore/kberrors"
)

// SQLiteStore implements Store on top of a single SQLite database,
// demonstrating that the rest of the module depends only on the Store
// interface, never on filesystem paths directly. Every object is a row
// keyed by its logical path; ETags are computed the same way FSStore
// computes them (a monotonic write counter standing in for mtime, plus an
// 8-character content hash), so callers see identical ETag semantics
// regardless of backend.
type SQLiteStore struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at
// dataSourceName and ensures its schema exists. The lock poll interval
// defaults to 500ms; callers that have a config.Config should pass its
// LockPollInterval to SetLockPollInterval.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, kberrors.IOErrorf(err, "opening sqlite store %s", dataSourceName)
	}
	// The knowledge base's writers are single-flight per path but many
	// paths are touched concurrently; SQLite only tolerates one writer at
	// a time regardless, so pin the pool to one connection rather than
	// fight busy-database errors.
	db.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS objects (
	path TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	version INTEGER NOT NULL,
	etag TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS locks (
	path TEXT PRIMARY KEY,
	lock_id TEXT NOT NULL,
	holder_id TEXT NOT NULL,
	acquired_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, kberrors.IOErrorf(err, "initializing sqlite schema")
	}
	return &SQLiteStore{db: db, pollInterval: defaultLockPollInterval}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SetLockPollInterval overrides the delay between lock-acquisition poll
// attempts. A non-positive value is ignored.
func (s *SQLiteStore) SetLockPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

func computeRowETag(version int64, data []byte) ETag {
	sum := md5.Sum(data)
	return ETag(fmt.Sprintf("%d-%s", version, hex.EncodeToString(sum[:])[:8]))
}

func (s *SQLiteStore) Read(ctx context.Context, path string) ([]byte, ETag, error) {
	var data []byte
	var etag string
	err := s.db.QueryRowContext(ctx, `SELECT data, etag FROM objects WHERE path = ?`, path).Scan(&data, &etag)
	if err == sql.ErrNoRows {
		return nil, "", kberrors.NotFoundf("no object at %s", path)
	}
	if err != nil {
		return nil, "", kberrors.IOErrorf(err, "reading %s", path)
	}
	return data, ETag(etag), nil
}

func (s *SQLiteStore) Write(ctx context.Context, path string, data []byte, expectedETag ETag) (ETag, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", kberrors.IOErrorf(err, "beginning transaction for %s", path)
	}
	defer tx.Rollback()

	var currentVersion int64
	var currentETag string
	err = tx.QueryRowContext(ctx, `SELECT version, etag FROM objects WHERE path = ?`, path).Scan(&currentVersion, &currentETag)
	exists := err == nil
	if err != nil && err != sql.ErrNoRows {
		return "", kberrors.IOErrorf(err, "reading %s", path)
	}

	if expectedETag != "" {
		if !exists {
			return "", kberrors.Conflictf("", "etag mismatch writing %s: object does not exist", path)
		}
		if ETag(currentETag) != expectedETag {
			return "", kberrors.Conflictf(currentETag, "etag mismatch writing %s", path)
		}
	}

	newVersion := currentVersion + 1
	newETag := computeRowETag(newVersion, data)

	if exists {
		_, err = tx.ExecContext(ctx, `UPDATE objects SET data = ?, version = ?, etag = ? WHERE path = ?`, data, newVersion, string(newETag), path)
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO objects (path, data, version, etag) VALUES (?, ?, ?, ?)`, path, data, newVersion, string(newETag))
	}
	if err != nil {
		return "", kberrors.IOErrorf(err, "writing %s", path)
	}
	if err := tx.Commit(); err != nil {
		return "", kberrors.IOErrorf(err, "committing write to %s", path)
	}
	return newETag, nil
}

func (s *SQLiteStore) CreateExclusive(ctx context.Context, path string, data []byte) (ETag, error) {
	etag := computeRowETag(1, data)
	_, err := s.db.ExecContext(ctx, `INSERT INTO objects (path, data, version, etag) VALUES (?, ?, 1, ?)`, path, data, string(etag))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", kberrors.Conflictf("", "object already exists at %s", path)
		}
		return "", kberrors.IOErrorf(err, "creating %s", path)
	}
	return etag, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE path = ?`, path)
	if err != nil {
		return kberrors.IOErrorf(err, "deleting %s", path)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return kberrors.IOErrorf(err, "deleting %s", path)
	}
	if n == 0 {
		return kberrors.NotFoundf("no object at %s", path)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, prefix, glob string) ([]string, error) {
	if glob == "" {
		glob = "*"
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM objects WHERE path LIKE ? ESCAPE '\' ORDER BY path`, sqlPrefixPattern(prefix))
	if err != nil {
		return nil, kberrors.IOErrorf(err, "listing %s", prefix)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, kberrors.IOErrorf(err, "listing %s", prefix)
		}
		matched, err := path.Match(glob, path.Base(p))
		if err != nil {
			return nil, kberrors.IOErrorf(err, "invalid glob %s", glob)
		}
		if matched {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// sqlPrefixPattern builds a LIKE pattern matching every path under prefix,
// escaping SQL wildcard characters that might appear in a topic id.
func sqlPrefixPattern(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	if escaped == "" {
		return "%"
	}
	return strings.TrimSuffix(escaped, "/") + "/%"
}

func (s *SQLiteStore) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE path = ?`, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, kberrors.IOErrorf(err, "checking %s", path)
	}
	return true, nil
}

func (s *SQLiteStore) Search(ctx context.Context, text, prefix, glob string) ([]SearchMatch, error) {
	paths, err := s.List(ctx, prefix, glob)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(text)
	var matches []SearchMatch
	for _, p := range paths {
		data, _, err := s.Read(ctx, p)
		if err != nil {
			continue
		}
		content := string(data)
		if !strings.Contains(strings.ToLower(content), needle) {
			continue
		}
		var excerpts []Excerpt
		for i, line := range strings.Split(content, "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				trimmed := strings.TrimSpace(line)
				if len(trimmed) > 200 {
					trimmed = trimmed[:200]
				}
				excerpts = append(excerpts, Excerpt{Line: i + 1, Text: trimmed})
				if len(excerpts) >= 5 {
					break
				}
			}
		}
		matches = append(matches, SearchMatch{Path: p, Excerpts: excerpts})
	}
	return matches, nil
}

func (s *SQLiteStore) AcquireLock(ctx context.Context, path, holderID string, ttl time.Duration, wait bool, waitTTL time.Duration) (string, error) {
	return acquireLock(ctx, s, path, holderID, ttl, wait, waitTTL, s.pollInterval)
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, path, lockID string) error {
	return releaseLock(ctx, s, path, lockID)
}

func (s *SQLiteStore) CheckLock(ctx context.Context, path string) (*LockInfo, error) {
	return checkLock(ctx, s, path)
}

func (s *SQLiteStore) ForceUnlock(ctx context.Context, path string) error {
	return forceUnlock(ctx, s, path)
}
