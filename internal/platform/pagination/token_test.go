package pagination

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), ID: "ord_01"}
	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !decoded.CreatedAt.Equal(cursor.CreatedAt) || decoded.ID != cursor.ID {
		t.Fatalf("unexpected cursor %#v", decoded)
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil || token != "" {
		t.Fatalf("expected empty token, got %q err %v", token, err)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodeToken("!!!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
}

func TestParsePageSize(t *testing.T) {
	if size, err := ParsePageSize(""); err != nil || size != DefaultPageSize {
		t.Fatalf("expected default page size, got %d err %v", size, err)
	}
	if size, err := ParsePageSize("500"); err != nil || size != DefaultMaxPageSize {
		t.Fatalf("expected capped page size, got %d err %v", size, err)
	}
	if _, err := ParsePageSize("-1"); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize got %v", err)
	}
}
