package objectstore

import (
	"bytes"
	"context"
	"encoding/json"

	"kbstore/kberrors"
)

// ReadJSON reads path and unmarshals it into out, returning the object's
// ETag. A malformed document is reported as a SchemaError rather than
// bubbling up the raw json error, so callers can distinguish "not found"
// from "corrupt" without string matching.
func ReadJSON(ctx context.Context, store Store, path string, out interface{}) (ETag, error) {
	data, etag, err := store.Read(ctx, path)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return "", kberrors.SchemaErrorf(err, "invalid JSON at %s", path)
	}
	return etag, nil
}

// WriteJSON marshals data as pretty-printed, UTF-8 JSON (two-space indent,
// ensure-ascii disabled via encoding/json's default UTF-8 behaviour) and
// writes it with the same optimistic-concurrency semantics as Store.Write.
func WriteJSON(ctx context.Context, store Store, path string, data interface{}, expectedETag ETag) (ETag, error) {
	payload, err := marshalIndented(data)
	if err != nil {
		return "", kberrors.SchemaErrorf(err, "failed to serialize %s", path)
	}
	return store.Write(ctx, path, payload, expectedETag)
}

// CreateExclusiveJSON is the CreateExclusive analogue of WriteJSON, used by
// the lock protocol to write the initial lock record.
func CreateExclusiveJSON(ctx context.Context, store Store, path string, data interface{}) (ETag, error) {
	payload, err := marshalIndented(data)
	if err != nil {
		return "", kberrors.SchemaErrorf(err, "failed to serialize %s", path)
	}
	return store.CreateExclusive(ctx, path, payload)
}

func marshalIndented(data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	// json.Encoder.Encode always appends a trailing newline; trim it so the
	// output matches json.MarshalIndent, which ends without one.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
