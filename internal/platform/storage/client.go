package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultDownloadExpiry = 15 * time.Minute
	maxDownloadExpiry     = time.Hour
)

var (
	errNoSigner       = errors.New("storage: signer is required")
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidObject  = errors.New("storage: object path is invalid")
	errExpiryTooLong  = errors.New("storage: expiry exceeds permitted maximum")
	errContextMissing = errors.New("storage: context is required")
)

// DocumentClient issues V4 signed GET URLs for uploaded print documents in a single bucket.
type DocumentClient struct {
	bucket      string
	signer      Signer
	scheme      storage.SigningScheme
	now         func() time.Time
	disposition string
}

// ClientOption customises client behaviour.
type ClientOption func(*DocumentClient)

// WithSigningScheme overrides the signing scheme (defaults to V4).
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *DocumentClient) {
		if scheme != 0 {
			c.scheme = scheme
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *DocumentClient) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithInlineDisposition asks the browser to render documents instead of downloading them.
func WithInlineDisposition() ClientOption {
	return func(c *DocumentClient) {
		c.disposition = "inline"
	}
}

// NewDocumentClient constructs a signed URL client bound to bucket.
func NewDocumentClient(bucket string, signer Signer, opts ...ClientOption) (*DocumentClient, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}

	client := &DocumentClient{
		bucket:      bucket,
		signer:      signer,
		scheme:      storage.SigningSchemeV4,
		now:         time.Now,
		disposition: "attachment",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// SignedDownloadURL returns a time-limited GET URL for objectPath. A non-positive ttl uses
// the 15 minute default.
func (c *DocumentClient) SignedDownloadURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	if c == nil {
		return "", errNoSigner
	}
	if ctx == nil {
		return "", errContextMissing
	}
	object, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = defaultDownloadExpiry
	}
	if ttl > maxDownloadExpiry {
		return "", errExpiryTooLong
	}

	query := url.Values{}
	query.Set("response-content-disposition", fmt.Sprintf("%s; filename=%q", c.disposition, path.Base(object)))

	opts := &storage.SignedURLOptions{
		GoogleAccessID:  c.signer.Email(),
		Scheme:          c.scheme,
		Method:          "GET",
		Expires:         c.now().Add(ttl),
		QueryParameters: query,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}

	signed, err := storage.SignedURL(c.bucket, object, opts)
	if err != nil {
		return "", fmt.Errorf("storage: sign download url: %w", err)
	}
	return signed, nil
}

// cleanObjectPath accepts bucket-relative object names and gs://bucket/object references.
func cleanObjectPath(raw string) (string, error) {
	object := strings.TrimSpace(raw)
	if strings.HasPrefix(object, "gs://") {
		rest := strings.TrimPrefix(object, "gs://")
		idx := strings.Index(rest, "/")
		if idx < 0 {
			return "", errInvalidObject
		}
		object = rest[idx+1:]
	}
	object = strings.TrimLeft(object, "/")
	if object == "" || strings.ContainsAny(object, "\r\n\x00") {
		return "", errInvalidObject
	}
	for _, segment := range strings.Split(object, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", errInvalidObject
		}
	}
	return object, nil
}
