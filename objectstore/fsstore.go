package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"kbstore/kberrors"
)

// dirPerm and filePerm match the permissions entitydb's atomic file
// manager uses for data it owns.
const (
	dirPerm  fs.FileMode = 0o755
	filePerm fs.FileMode = 0o644
)

// FSStore implements Store on top of the local filesystem. ETags are a
// deterministic fingerprint of the file's modification time (nanosecond
// resolution) and an 8-character content hash, matching the
// "mtime-hash8" scheme the knowledge base was originally built around:
// any content change moves the hash, and any re-creation of the same
// bytes still moves the mtime, so callers always observe a fresh ETag
// after a successful write even when content is unchanged.
type FSStore struct {
	basePath     string
	pollInterval time.Duration
}

// NewFSStore creates (if necessary) basePath and returns a Store backed by
// it. The lock poll interval defaults to 500ms; callers that have a
// config.Config should pass its LockPollInterval to SetLockPollInterval.
func NewFSStore(basePath string) (*FSStore, error) {
	if err := os.MkdirAll(basePath, dirPerm); err != nil {
		return nil, kberrors.IOErrorf(err, "creating store root %s", basePath)
	}
	return &FSStore{basePath: filepath.Clean(basePath), pollInterval: defaultLockPollInterval}, nil
}

// SetLockPollInterval overrides the delay between lock-acquisition poll
// attempts. A non-positive value is ignored.
func (s *FSStore) SetLockPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

func (s *FSStore) full(path string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(path))
}

func (s *FSStore) computeETag(full string) (ETag, error) {
	info, err := os.Stat(full)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return ETag(fmt.Sprintf("%d-%s", info.ModTime().UnixNano(), hex.EncodeToString(sum[:])[:8])), nil
}

func (s *FSStore) Read(_ context.Context, path string) ([]byte, ETag, error) {
	full := s.full(path)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", kberrors.NotFoundf("no object at %s", path)
		}
		return nil, "", kberrors.IOErrorf(err, "reading %s", path)
	}
	etag, err := s.computeETag(full)
	if err != nil {
		return nil, "", kberrors.IOErrorf(err, "computing etag for %s", path)
	}
	return data, etag, nil
}

func (s *FSStore) Write(_ context.Context, path string, data []byte, expectedETag ETag) (ETag, error) {
	full := s.full(path)

	if expectedETag != "" {
		current, err := s.computeETag(full)
		if err != nil && !os.IsNotExist(err) {
			return "", kberrors.IOErrorf(err, "checking etag for %s", path)
		}
		if err == nil && current != expectedETag {
			return "", kberrors.Conflictf(string(current), "etag mismatch writing %s", path)
		}
		if err != nil && expectedETag != "" {
			// Caller expected an existing object but there is none.
			return "", kberrors.Conflictf("", "etag mismatch writing %s: object does not exist", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(full), dirPerm); err != nil {
		return "", kberrors.IOErrorf(err, "creating parent directory for %s", path)
	}
	if err := atomic.WriteFile(full, bytes.NewReader(data)); err != nil {
		return "", kberrors.IOErrorf(err, "writing %s", path)
	}

	etag, err := s.computeETag(full)
	if err != nil {
		return "", kberrors.IOErrorf(err, "computing etag for %s", path)
	}
	return etag, nil
}

func (s *FSStore) CreateExclusive(_ context.Context, path string, data []byte) (ETag, error) {
	full := s.full(path)
	if err := os.MkdirAll(filepath.Dir(full), dirPerm); err != nil {
		return "", kberrors.IOErrorf(err, "creating parent directory for %s", path)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		if os.IsExist(err) {
			return "", kberrors.Conflictf("", "object already exists at %s", path)
		}
		return "", kberrors.IOErrorf(err, "creating %s", path)
	}
	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(full)
		return "", kberrors.IOErrorf(writeErr, "writing %s", path)
	}
	if closeErr != nil {
		os.Remove(full)
		return "", kberrors.IOErrorf(closeErr, "closing %s", path)
	}

	etag, err := s.computeETag(full)
	if err != nil {
		return "", kberrors.IOErrorf(err, "computing etag for %s", path)
	}
	return etag, nil
}

func (s *FSStore) Delete(_ context.Context, path string) error {
	full := s.full(path)
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return kberrors.NotFoundf("no object at %s", path)
		}
		return kberrors.IOErrorf(err, "deleting %s", path)
	}
	return nil
}

func (s *FSStore) List(_ context.Context, prefix, glob string) ([]string, error) {
	if glob == "" {
		glob = "*"
	}
	root := s.full(prefix)

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, kberrors.IOErrorf(err, "listing %s", prefix)
	}
	if !info.IsDir() {
		return nil, kberrors.IOErrorf(nil, "%s is not a directory", prefix)
	}

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		matched, matchErr := filepath.Match(glob, d.Name())
		if matchErr != nil {
			return matchErr
		}
		if !matched {
			return nil
		}
		rel, relErr := filepath.Rel(s.basePath, p)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, kberrors.IOErrorf(err, "listing %s", prefix)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *FSStore) Exists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(s.full(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, kberrors.IOErrorf(err, "checking %s", path)
	}
	return !info.IsDir(), nil
}

func (s *FSStore) Search(ctx context.Context, text, prefix, glob string) ([]SearchMatch, error) {
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

// flattenLockPath turns a data path into the flat filename the spec
// mandates for _locks/<flattened-path>.lock, e.g. "topics/python/gil.md"
// becomes "topics_python_gil.md".
func flattenLockPath(path string) string {
	return strings.ReplaceAll(path, "/", "_")
}

func lockFilePath(path string) string {
	return "_locks/" + flattenLockPath(path) + ".lock"
}
