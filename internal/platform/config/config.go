package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile            = ".env"
	defaultEnvironment        = "local"
	defaultLogLevel           = "info"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultDownloadTTL        = 15 * time.Minute
	defaultStoreDriver        = StoreDriverFirestore
	defaultGatewayEnvironment = "sandbox"
	defaultGatewayTimeout     = 10 * time.Second
	defaultGatewaySaltIndex   = "1"
	defaultOTPTTL             = 24 * time.Hour
	defaultOTPMaxAttempts     = 5
	defaultOTPAttemptWindow   = 15 * time.Minute
	defaultSkipAheadPolicy    = "reject"
	defaultLocale             = "en-IN"
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
)

// Store drivers accepted by API_STORE_DRIVER.
const (
	StoreDriverFirestore = "firestore"
	StoreDriverPostgres  = "postgres"
	StoreDriverMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment   string
	LogLevel      string
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Storage       StorageConfig
	Store         StoreConfig
	Redis         RedisConfig
	PubSub        PubSubConfig
	Gateway       GatewayConfig
	OTP           OTPConfig
	Workflow      WorkflowConfig
	Notifications NotificationConfig
	Idempotency   IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CheckRevoked rejects ID tokens from revoked sessions.
	CheckRevoked bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig locates uploaded print documents and the key used to sign download URLs.
type StorageConfig struct {
	DocumentsBucket string
	// SignerKey is a service account JSON key, usually a secret:// reference.
	SignerKey   string
	DownloadTTL time.Duration
}

// StoreConfig selects the order store.
type StoreConfig struct {
	Driver      string
	PostgresDSN string
}

// RedisConfig is optional; an empty Addr disables Redis backed limiters and idempotency.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PubSubConfig names the topics used for notifications and order events.
type PubSubConfig struct {
	ProjectID          string
	NotificationsTopic string
	OrderEventsTopic   string
}

// GatewayConfig carries the payment gateway merchant credentials.
type GatewayConfig struct {
	MerchantID        string
	SaltKey           string
	SaltIndex         string
	Environment       string
	Timeout           time.Duration
	CallbackBaseURL   string
	FrontendReturnURL string
}

// OTPConfig controls pickup code issuance and verification throttling.
type OTPConfig struct {
	HashKey       string
	TTL           time.Duration
	MaxAttempts   int
	AttemptWindow time.Duration
}

// WorkflowConfig holds order lifecycle policy.
type WorkflowConfig struct {
	SkipAheadPolicy string
}

// NotificationConfig controls requester-facing message rendering.
type NotificationConfig struct {
	Locale string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing.
// Names are redacted so the error can be logged.
type MissingSecretsError struct {
	redacted []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.redacted, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	return append([]string(nil), e.redacted...)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "Gateway.SaltKey") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Lookup returns a single value using the same precedence as Load. main uses it to
// configure the secret fetcher before the full configuration can be resolved.
func Lookup(key string, opts ...Option) (string, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return strings.TrimSpace(value), nil
}

// Load assembles the application configuration from defaults, the dotenv file, the process
// environment, the explicit env map and secret references, in increasing precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
		LogLevel:    strings.ToLower(stringWithDefault(lookup, "API_LOG_LEVEL", defaultLogLevel)),
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			AllowedOrigins: csvWithDefault(lookup, "API_SERVER_ALLOWED_ORIGINS"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    boolWithDefault(lookup, "API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			DocumentsBucket: stringWithDefault(lookup, "API_STORAGE_DOCUMENTS_BUCKET", ""),
			SignerKey:       stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY", ""),
			DownloadTTL:     durationWithDefault(lookup, "API_STORAGE_DOWNLOAD_TTL", defaultDownloadTTL),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(stringWithDefault(lookup, "API_STORE_DRIVER", defaultStoreDriver)),
			PostgresDSN: stringWithDefault(lookup, "API_STORE_POSTGRES_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		PubSub: PubSubConfig{
			ProjectID:          stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			NotificationsTopic: stringWithDefault(lookup, "API_PUBSUB_NOTIFICATIONS_TOPIC", ""),
			OrderEventsTopic:   stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Gateway: GatewayConfig{
			MerchantID:        stringWithDefault(lookup, "API_GATEWAY_MERCHANT_ID", ""),
			SaltKey:           stringWithDefault(lookup, "API_GATEWAY_SALT_KEY", ""),
			SaltIndex:         stringWithDefault(lookup, "API_GATEWAY_SALT_INDEX", defaultGatewaySaltIndex),
			Environment:       strings.ToLower(stringWithDefault(lookup, "API_GATEWAY_ENVIRONMENT", defaultGatewayEnvironment)),
			Timeout:           durationWithDefault(lookup, "API_GATEWAY_TIMEOUT", defaultGatewayTimeout),
			CallbackBaseURL:   strings.TrimRight(stringWithDefault(lookup, "API_GATEWAY_CALLBACK_BASE_URL", ""), "/"),
			FrontendReturnURL: stringWithDefault(lookup, "API_GATEWAY_FRONTEND_RETURN_URL", ""),
		},
		OTP: OTPConfig{
			HashKey:       stringWithDefault(lookup, "API_OTP_HASH_KEY", ""),
			TTL:           durationWithDefault(lookup, "API_OTP_TTL", defaultOTPTTL),
			MaxAttempts:   intWithDefault(lookup, "API_OTP_MAX_ATTEMPTS", defaultOTPMaxAttempts),
			AttemptWindow: durationWithDefault(lookup, "API_OTP_ATTEMPT_WINDOW", defaultOTPAttemptWindow),
		},
		Workflow: WorkflowConfig{
			SkipAheadPolicy: strings.ToLower(stringWithDefault(lookup, "API_WORKFLOW_SKIP_AHEAD_POLICY", defaultSkipAheadPolicy)),
		},
		Notifications: NotificationConfig{
			Locale: stringWithDefault(lookup, "API_NOTIFICATIONS_LOCALE", defaultLocale),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Storage.SignerKey", &cfg.Storage.SignerKey},
		{"Store.PostgresDSN", &cfg.Store.PostgresDSN},
		{"Redis.Password", &cfg.Redis.Password},
		{"Gateway.SaltKey", &cfg.Gateway.SaltKey},
		{"OTP.HashKey", &cfg.OTP.HashKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func (o loaderOptions) lookupFunc() (func(string) (string, bool), error) {
	dotEnv, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if o.envMap != nil {
			if value, ok := o.envMap[key]; ok {
				return value, true
			}
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnv[key]; ok {
			return value, true
		}
		return "", false
	}, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		var secretErr *SecretError
		if errors.As(err, &secretErr) {
			return "", secretErr
		}
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}

	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreDriverPostgres:
		if strings.TrimSpace(cfg.Store.PostgresDSN) == "" {
			missing = append(missing, "Store.PostgresDSN")
		}
	case StoreDriverMemory:
	default:
		missing = append(missing, "Store.Driver")
	}

	if cfg.Storage.DownloadTTL <= 0 {
		missing = append(missing, "Storage.DownloadTTL")
	}
	if cfg.Gateway.MerchantID == "" {
		missing = append(missing, "Gateway.MerchantID")
	}
	if cfg.Gateway.SaltKey == "" {
		missing = append(missing, "Gateway.SaltKey")
	}
	if cfg.Gateway.SaltIndex == "" {
		missing = append(missing, "Gateway.SaltIndex")
	}
	switch cfg.Gateway.Environment {
	case "sandbox", "production":
	default:
		missing = append(missing, "Gateway.Environment")
	}
	if cfg.Gateway.Timeout <= 0 {
		missing = append(missing, "Gateway.Timeout")
	}
	if !strings.HasPrefix(cfg.Gateway.CallbackBaseURL, "http://") && !strings.HasPrefix(cfg.Gateway.CallbackBaseURL, "https://") {
		missing = append(missing, "Gateway.CallbackBaseURL")
	}

	if cfg.OTP.HashKey == "" || cfg.OTP.HashKey == cfg.Gateway.SaltKey {
		missing = append(missing, "OTP.HashKey")
	}
	if cfg.OTP.TTL <= 0 {
		missing = append(missing, "OTP.TTL")
	}
	if cfg.OTP.MaxAttempts <= 0 {
		missing = append(missing, "OTP.MaxAttempts")
	}
	if cfg.OTP.AttemptWindow <= 0 {
		missing = append(missing, "OTP.AttemptWindow")
	}

	switch cfg.Workflow.SkipAheadPolicy {
	case "reject", "warn":
	default:
		missing = append(missing, "Workflow.SkipAheadPolicy")
	}

	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var redacted []string
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] != "" {
			continue
		}
		redacted = append(redacted, redactSecretName(trimmed))
	}
	if len(redacted) == 0 {
		return nil
	}
	sort.Strings(redacted)
	return &MissingSecretsError{redacted: redacted}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
