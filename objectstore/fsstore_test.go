package objectstore

import (
	"context"
	"testing"
	"time"

	"kbstore/kberrors"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	etag, err := s.Write(ctx, "topics/python/gil.md", []byte("# GIL"), "")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if etag == "" {
		t.Fatal("expected non-empty etag")
	}

	data, readETag, err := s.Read(ctx, "topics/python/gil.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "# GIL" {
		t.Errorf("content = %q, want %q", data, "# GIL")
	}
	if readETag != etag {
		t.Errorf("read-after-write etag mismatch: got %s, want %s", readETag, etag)
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Read(context.Background(), "topics/missing.md")
	if !kberrors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestOptimisticConcurrencyConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	etag1, err := s.Write(ctx, "topics/a.md", []byte("v1"), "")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Write using the original etag succeeds while it is still current.
	etag2, err := s.Write(ctx, "topics/a.md", []byte("v2"), etag1)
	if err != nil {
		t.Fatalf("Write with correct etag: %v", err)
	}
	if etag2 == etag1 {
		t.Fatal("etag should change after a content-changing write")
	}

	// Reusing the stale etag now fails with Conflict carrying the fresh etag.
	_, err = s.Write(ctx, "topics/a.md", []byte("v3"), etag1)
	if !kberrors.IsConflict(err) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	kbErr, ok := err.(*kberrors.Error)
	if !ok {
		t.Fatalf("expected *kberrors.Error, got %T", err)
	}
	if ETag(kbErr.Etag) != etag2 {
		t.Errorf("conflict etag = %s, want current etag %s", kbErr.Etag, etag2)
	}
}

func TestCreateExclusiveRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateExclusive(ctx, "_locks/x.lock", []byte("{}")); err != nil {
		t.Fatalf("first CreateExclusive: %v", err)
	}
	_, err := s.CreateExclusive(ctx, "_locks/x.lock", []byte("{}"))
	if !kberrors.IsConflict(err) {
		t.Fatalf("expected Conflict on duplicate create, got %v", err)
	}
}

func TestListSortedAndFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"topics/b.meta.json", "topics/a.meta.json", "topics/a.md"} {
		if _, err := s.Write(ctx, p, []byte("{}"), ""); err != nil {
			t.Fatalf("Write(%s): %v", p, err)
		}
	}

	paths, err := s.List(ctx, "topics", "*.meta.json")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"topics/a.meta.json", "topics/b.meta.json"}
	if len(paths) != len(want) {
		t.Fatalf("List returned %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %s, want %s", i, paths[i], want[i])
		}
	}
}

func TestLockExclusivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lockID, err := s.AcquireLock(ctx, "topics/a", "agent-1", time.Minute, false, 0)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	_, err = s.AcquireLock(ctx, "topics/a", "agent-2", time.Minute, false, 0)
	if !kberrors.IsLockHeld(err) {
		t.Fatalf("expected LockHeld for second non-waiting acquire, got %v", err)
	}

	if err := s.ReleaseLock(ctx, "topics/a", lockID); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}

	// Now free; a second acquire should succeed.
	if _, err := s.AcquireLock(ctx, "topics/a", "agent-2", time.Minute, false, 0); err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
}

func TestReleaseLockMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AcquireLock(ctx, "topics/a", "agent-1", time.Minute, false, 0); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	err := s.ReleaseLock(ctx, "topics/a", "not-the-real-lock-id")
	if !kberrors.IsLockMismatch(err) {
		t.Fatalf("expected LockMismatch, got %v", err)
	}
}

func TestExpiredLockIsReaped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AcquireLock(ctx, "topics/a", "agent-1", time.Millisecond, false, 0); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// The expired lock should be reaped transparently and this should succeed.
	if _, err := s.AcquireLock(ctx, "topics/a", "agent-2", time.Minute, false, 0); err != nil {
		t.Fatalf("AcquireLock after expiry: %v", err)
	}
}

func TestForceUnlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AcquireLock(ctx, "topics/a", "agent-1", time.Minute, false, 0); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if err := s.ForceUnlock(ctx, "topics/a"); err != nil {
		t.Fatalf("ForceUnlock: %v", err)
	}
	if _, err := s.AcquireLock(ctx, "topics/a", "agent-2", time.Minute, false, 0); err != nil {
		t.Fatalf("AcquireLock after force unlock: %v", err)
	}
}

func TestSearchFindsExcerpts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Write(ctx, "topics/python/gil.md", []byte("line one\nthe GIL prevents true parallelism\nline three"), ""); err != nil {
		t.Fatalf("Write: %v", err)
	}

	matches, err := s.Search(ctx, "parallelism", "topics", "*.md")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if len(matches[0].Excerpts) != 1 || matches[0].Excerpts[0].Line != 2 {
		t.Errorf("unexpected excerpts: %+v", matches[0].Excerpts)
	}
}
