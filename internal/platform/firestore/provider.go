package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/config"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultPingCollection = "shops"
	envEmulatorHost       = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID    = "GOOGLE_CLOUD_PROJECT"
)

// ErrProviderClosed is returned once Close has run.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider hands out one shared client for the order and shop repositories. The client is
// dialled on first use; a failed dial is retried by the next caller.
type Provider struct {
	projectID      string
	emulator       string
	dialTimeout    time.Duration
	pingCollection string
	extra          []option.ClientOption

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions adds client options, for example credentials in tests.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.extra = append(p.extra, opts...)
	}
}

// WithPingCollection changes the collection read by Ping.
func WithPingCollection(name string) ProviderOption {
	return func(p *Provider) {
		if name = strings.TrimSpace(name); name != "" {
			p.pingCollection = name
		}
	}
}

// NewProvider resolves the project and emulator settings up front; nothing is dialled yet.
// Empty values fall back to GOOGLE_CLOUD_PROJECT and FIRESTORE_EMULATOR_HOST.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		projectID:      firstNonEmpty(cfg.ProjectID, os.Getenv(envGoogleProjectID)),
		emulator:       firstNonEmpty(cfg.EmulatorHost, os.Getenv(envEmulatorHost)),
		dialTimeout:    defaultDialTimeout,
		pingCollection: defaultPingCollection,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client, dialling it if needed.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if ctx == nil {
		return nil, errors.New("firestore: context is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}
	if p.projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, p.projectID, p.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client for %s: %w", p.projectID, err)
	}
	p.client = client
	return client, nil
}

func (p *Provider) clientOptions() []option.ClientOption {
	opts := make([]option.ClientOption, 0, len(p.extra)+3)
	opts = append(opts, p.extra...)
	if p.emulator != "" {
		opts = append(opts,
			option.WithEndpoint(p.emulator),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	return opts
}

// Close releases the client and marks the provider unusable. It gives up waiting when
// ctx ends, leaving the client to finish closing in the background.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	alreadyClosed := p.closed
	p.client, p.closed = nil, true
	p.mu.Unlock()
	if alreadyClosed || client == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping reads at most one shop document; an empty collection still proves reachability.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	docs := client.Collection(p.pingCollection).Limit(1).Documents(ctx)
	defer docs.Stop()
	if _, err := docs.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return WrapError("firestore.ping", err)
	}
	return nil
}

// RunTransaction runs fn in a transaction on the shared client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
