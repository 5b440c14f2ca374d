package services

import (
	"errors"
	"testing"
	"time"

	classlink_errors "classlink/pkg/errors"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	decoded, err := decodeCursor(encodeCursor(at))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(at) {
		t.Fatalf("round trip lost precision: %v != %v", decoded, at)
	}
}

func TestEmptyCursorIsZeroTime(t *testing.T) {
	decoded, err := decodeCursor("")
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if !decoded.IsZero() {
		t.Fatalf("empty cursor decoded to %v", decoded)
	}
	if encodeCursor(time.Time{}) != "" {
		t.Fatalf("zero time should encode to empty cursor")
	}
}

func TestMalformedCursorRejected(t *testing.T) {
	for _, cursor := range []string{"???", "bm90LWEtdGltZQ", "AAAA"} {
		if _, err := decodeCursor(cursor); !errors.Is(err, classlink_errors.ErrValidationFailed) {
			t.Fatalf("cursor %q: expected validation error, got %v", cursor, err)
		}
	}
}
