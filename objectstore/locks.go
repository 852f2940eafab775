package objectstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"kbstore/kberrors"
)

// lockRecord is the JSON body of a lock file. Locks are ordinary objects
// under _locks/, created with CreateExclusive so acquisition is race-free
// on any backend that implements it, not just ones that offer OS-level
// file locking.
type lockRecord struct {
	LockID     string    `json:"lock_id"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// acquireLock implements Store.AcquireLock in terms of Read/CreateExclusive/
// Delete, so both FSStore and SQLiteStore can share one copy instead
// of reimplementing the poll-and-reap loop.
func acquireLock(ctx context.Context, s Store, path, holderID string, ttl time.Duration, wait bool, waitTTL, pollInterval time.Duration) (string, error) {
	lockPath := lockFilePath(path)
	deadline := time.Now().Add(waitTTL)

	for {
		lockID := uuid.NewString()
		now := time.Now()
		rec := lockRecord{
			LockID:     lockID,
			HolderID:   holderID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		}

		_, err := CreateExclusiveJSON(ctx, s, lockPath, rec)
		if err == nil {
			return lockID, nil
		}
		if !kberrors.IsConflict(err) {
			return "", err
		}

		// Something is already there. If it's expired, reap it and retry
		// immediately; otherwise it's genuinely held.
		if reaped, reapErr := reapIfExpired(ctx, s, lockPath); reapErr != nil {
			return "", reapErr
		} else if reaped {
			continue
		}

		if !wait {
			return "", kberrors.LockHeldf("lock already held on %s", path)
		}
		if time.Now().After(deadline) {
			return "", kberrors.Timeoutf("timed out waiting for lock on %s", path)
		}

		select {
		case <-ctx.Done():
			return "", kberrors.Timeoutf("context cancelled waiting for lock on %s", path)
		case <-time.After(pollInterval):
		}
	}
}

// defaultLockPollInterval is used when a store's configured poll interval is
// zero (e.g. a store constructed without going through config.Config).
const defaultLockPollInterval = 500 * time.Millisecond

// reapIfExpired deletes the lock at lockPath if it has expired, returning
// whether it did so. A NotFound on read (e.g. another caller reaped it
// first) is treated as "already gone", not an error; any other read
// failure is returned.
func reapIfExpired(ctx context.Context, s Store, lockPath string) (bool, error) {
	data, _, err := s.Read(ctx, lockPath)
	if err != nil {
		if kberrors.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, kberrors.SchemaErrorf(err, "invalid lock record at %s", lockPath)
	}
	if time.Now().Before(rec.ExpiresAt) {
		return false, nil
	}
	if err := s.Delete(ctx, lockPath); err != nil && !kberrors.IsNotFound(err) {
		return false, err
	}
	return true, nil
}

func releaseLock(ctx context.Context, s Store, path, lockID string) error {
	lockPath := lockFilePath(path)
	data, _, err := s.Read(ctx, lockPath)
	if err != nil {
		return err
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return kberrors.SchemaErrorf(err, "invalid lock record at %s", lockPath)
	}
	if rec.LockID != lockID {
		return kberrors.LockMismatchf("lock_id %s does not match current holder of %s", lockID, path)
	}
	return s.Delete(ctx, lockPath)
}

func checkLock(ctx context.Context, s Store, path string) (*LockInfo, error) {
	lockPath := lockFilePath(path)
	data, _, err := s.Read(ctx, lockPath)
	if err != nil {
		return nil, err
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, kberrors.SchemaErrorf(err, "invalid lock record at %s", lockPath)
	}
	info := &LockInfo{
		LockID:     rec.LockID,
		HolderID:   rec.HolderID,
		AcquiredAt: rec.AcquiredAt,
		ExpiresAt:  rec.ExpiresAt,
	}
	if info.Expired(time.Now()) {
		return nil, kberrors.NotFoundf("lock on %s has expired", path)
	}
	return info, nil
}

func forceUnlock(ctx context.Context, s Store, path string) error {
	return s.Delete(ctx, lockFilePath(path))
}

// AcquireLock implements Store.
func (s *FSStore) AcquireLock(ctx context.Context, path, holderID string, ttl time.Duration, wait bool, waitTTL time.Duration) (string, error) {
	return acquireLock(ctx, s, path, holderID, ttl, wait, waitTTL, s.pollInterval)
}

// ReleaseLock implements Store.
func (s *FSStore) ReleaseLock(ctx context.Context, path, lockID string) error {
	return releaseLock(ctx, s, path, lockID)
}

// CheckLock implements Store.
func (s *FSStore) CheckLock(ctx context.Context, path string) (*LockInfo, error) {
	return checkLock(ctx, s, path)
}

// ForceUnlock implements Store.
func (s *FSStore) ForceUnlock(ctx context.Context, path string) error {
	return forceUnlock(ctx, s, path)
}

// WithLock runs fn while holding the named lock on path, guaranteeing
// release even if fn panics or returns an error. Grounded on the
// acquire/defer-release pattern calvinalkan-agent-task's ticket package
// uses around its file lock.
func WithLock(ctx context.Context, s Store, path, holderID string, ttl time.Duration, wait bool, waitTTL time.Duration, fn func() error) error {
	lockID, err := s.AcquireLock(ctx, path, holderID, ttl, wait, waitTTL)
	if err != nil {
		return err
	}
	defer s.ReleaseLock(ctx, path, lockID)
	return fn()
}
