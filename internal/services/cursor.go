package services

import (
	"encoding/base64"
	"time"

	classlink_errors "classlink/pkg/errors"
)

// Message cursors are opaque position markers over created_at, so pages stay
// stable while new messages arrive.

const cursorLayout = time.RFC3339Nano

func encodeCursor(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(t.UTC().Format(cursorLayout)))
}

func decodeCursor(cursor string) (time.Time, error) {
	if cursor == "" {
		return time.Time{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, classlink_errors.ErrValidationFailed
	}
	t, err := time.Parse(cursorLayout, string(raw))
	if err != nil {
		return time.Time{}, classlink_errors.ErrValidationFailed
	}
	return t, nil
}
