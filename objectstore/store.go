// Package objectstore provides the byte-level storage abstraction that
// every other layer of the knowledge-base engine is built on: topics,
// index shards, citations and logs are all just paths with bytes, an
// ETag for optimistic concurrency, and a named advisory lock for callers
// that prefer pessimistic serialization.
//
// Store is implemented once for the local filesystem (FSStore, grounded on
// plain os/path semantics) and once for SQLite (SQLiteStore), so that the
// rest of the module never has to know which backend it is talking to.
// Both implementations share the same ETag and locking semantics, defined
// here rather than duplicated per backend.
package objectstore

import (
	"context"
	"time"
)

// ETag is an opaque fingerprint of an object's current bytes. Two reads of
// the same unmodified object always return the same ETag; any change to
// content, or deletion followed by re-creation, changes it. Callers must
// not parse its structure.
type ETag string

// Excerpt is a single matching line returned by Search.
type Excerpt struct {
	Line int    // 1-based line number within the file
	Text string // trimmed line content, truncated to a reasonable length
}

// SearchMatch groups every excerpt found in one file.
type SearchMatch struct {
	Path     string
	Excerpts []Excerpt
}

// LockInfo describes a held advisory lock.
type LockInfo struct {
	LockID     string
	HolderID   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lock's TTL has elapsed as of now.
func (l *LockInfo) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Store is the capability set every higher-level component (the topic
// store, the index builder/reader/updater, the migrator) is written
// against. Implementations need not be backed by a literal filesystem:
// anything that can hand back bytes, an ETag, and support create-if-absent
// semantics qualifies, including remote object-storage services.
type Store interface {
	// Read returns the bytes at path and their current ETag. Returns a
	// kberrors NotFound error if nothing exists at path.
	Read(ctx context.Context, path string) ([]byte, ETag, error)

	// Write stores data at path. If expectedETag is non-empty, the write
	// fails with a Conflict error (carrying the object's actual current
	// ETag) when the current ETag does not match; the object is left
	// untouched. If expectedETag is empty, the write proceeds
	// unconditionally, creating the object if it does not exist.
	Write(ctx context.Context, path string, data []byte, expectedETag ETag) (ETag, error)

	// CreateExclusive stores data at path only if nothing currently exists
	// there, atomically. Returns a Conflict error if the path is already
	// occupied. Used by the lock protocol to acquire a lock file without a
	// read-then-write race.
	CreateExclusive(ctx context.Context, path string, data []byte) (ETag, error)

	// Delete removes the object at path. Returns NotFound if it does not
	// exist.
	Delete(ctx context.Context, path string) error

	// List returns every path under prefix whose base name matches glob
	// (a shell-style pattern, "*" by default), sorted lexically.
	List(ctx context.Context, prefix, glob string) ([]string, error)

	// Exists reports whether an object is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Search performs a linear, case-insensitive scan of every object
	// under prefix matching glob, returning up to five excerpts per
	// matching file. This is the fallback full-text path used when the
	// sharded index has nothing for a query.
	Search(ctx context.Context, text, prefix, glob string) ([]SearchMatch, error)

	// AcquireLock attempts to take the named advisory lock at path on
	// behalf of holderID, valid for ttl. If the lock is already held and
	// wait is false, returns LockHeld immediately. If wait is true, polls
	// until the lock frees (or its TTL expires and is reaped) or waitTTL
	// elapses, in which case it returns Timeout.
	AcquireLock(ctx context.Context, path, holderID string, ttl time.Duration, wait bool, waitTTL time.Duration) (lockID string, err error)

	// ReleaseLock releases a lock previously returned by AcquireLock.
	// Returns LockMismatch if lockID does not match the lock on disk, and
	// NotFound if there is no lock to release.
	ReleaseLock(ctx context.Context, path, lockID string) error

	// CheckLock reports the current lock on path, or NotFound if unheld
	// (including if the held lock has expired).
	CheckLock(ctx context.Context, path string) (*LockInfo, error)

	// ForceUnlock removes whatever lock is on path regardless of holder or
	// lock_id. Intended for operator recovery, not normal call paths.
	ForceUnlock(ctx context.Context, path string) error
}
