package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/auth"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/httpx"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
)

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	optional   bool
	clock      func() time.Time
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// Optional lets requests without a key pass through unguarded.
func Optional() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.optional = true
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware guards mutating requests. The first response for a key is stored and replayed
// for identical retries; a retry while the first is running gets 409 and reuse of the key for
// a different request gets 422. Server errors are not stored so the client may retry them.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return func(next http.Handler) http.Handler {
		return &guard{store: store, cfg: cfg, next: next}
	}
}

type guard struct {
	store Store
	cfg   middlewareConfig
	next  http.Handler
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !mutating(r.Method) {
		g.next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get(g.cfg.headerName))
	switch {
	case key == "" && g.cfg.optional:
		g.next.ServeHTTP(w, r)
		return
	case key == "":
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+g.cfg.headerName+" header", http.StatusBadRequest))
		return
	case len(key) > maxKeyLength:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "idempotency key is too long", http.StatusBadRequest))
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}
	requester := extractRequester(ctx)
	scoped := scopedKey(key, requester)
	fingerprint := requestFingerprint(r, body, requester)

	reservation, err := g.store.Reserve(ctx, scoped, fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	if err != nil {
		g.rejectReservation(ctx, w, err)
		return
	}
	switch reservation.State {
	case ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
		return
	}

	buffered := &bufferedWriter{header: make(http.Header)}
	g.next.ServeHTTP(buffered, r)
	g.settle(ctx, scoped, fingerprint, buffered)
	if err := buffered.flushTo(w); err != nil {
		requestctx.Logger(ctx).Debug("idempotency flush failed", zap.Error(err))
	}
}

// settle stores a non-5xx response against the reservation, or releases the key so the
// client can retry.
func (g *guard) settle(ctx context.Context, scoped, fingerprint string, buffered *bufferedWriter) {
	logger := requestctx.Logger(ctx)
	release := func() {
		if err := g.store.Release(ctx, scoped, fingerprint); err != nil {
			logger.Warn("idempotency release failed", zap.Error(err))
		}
	}
	if buffered.statusCode() >= http.StatusInternalServerError {
		release()
		return
	}
	response := Response{
		Status:  buffered.statusCode(),
		Headers: buffered.header.Clone(),
		Body:    buffered.body.Bytes(),
	}
	if err := g.store.SaveResponse(ctx, scoped, fingerprint, response, g.cfg.clock().UTC(), g.cfg.ttl); err != nil {
		logger.Error("idempotency save failed", zap.Error(err))
		release()
	}
}

func (g *guard) rejectReservation(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
		return
	}
	requestctx.Logger(ctx).Error("idempotency store error", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint binds a key to the method, target, content type, requester and body.
func requestFingerprint(r *http.Request, body []byte, requester string) string {
	h := sha256.New()
	for _, part := range []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		requester,
	} {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		_, _ = h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func extractRequester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

// scopedKey namespaces a client key by requester so two users cannot collide.
func scopedKey(key, requester string) string {
	if requester = strings.TrimSpace(requester); requester == "" {
		requester = "anonymous"
	}
	return strings.TrimSpace(key) + "|" + requester
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	clear(header)
	for name, values := range headersFromRecord(record.ResponseHeaders) {
		header[name] = values
	}
	header.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// bufferedWriter holds the downstream response until it has been persisted.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 && status > 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(data []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(data)
}

func (b *bufferedWriter) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) error {
	header := w.Header()
	clear(header)
	for name, values := range b.header {
		header[name] = values
	}
	w.WriteHeader(b.statusCode())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
