package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// Signer produces the RSA signature embedded in a signed document URL.
type Signer interface {
	// Email is used as the GoogleAccessID of the URL.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// ServiceAccountSigner signs with a private key taken from a service account JSON key.
type ServiceAccountSigner struct {
	email string
	key   crypto.Signer
}

type serviceAccountKey struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// NewServiceAccountSignerFromJSON parses a service account key. The key may be raw JSON or
// base64 encoded JSON, since secret stores often hold it in the latter form.
func NewServiceAccountSignerFromJSON(data []byte) (*ServiceAccountSigner, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil, errors.New("storage: signer key is empty")
	}
	if !strings.HasPrefix(raw, "{") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, errors.New("storage: signer key is neither JSON nor base64 JSON")
		}
		raw = string(decoded)
	}

	var key serviceAccountKey
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return nil, fmt.Errorf("storage: decode signer key: %w", err)
	}
	if key.Type != "" && key.Type != "service_account" {
		return nil, fmt.Errorf("storage: signer key type %q is not a service account", key.Type)
	}
	email := strings.TrimSpace(key.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: signer key has no client_email")
	}
	private, err := decodePrivateKey(key.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: email, key: private}, nil
}

// Email implements Signer.
func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes implements Signer with RSASSA-PKCS1-v1_5 over SHA-256, as V4 signing requires.
func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if len(payload) == 0 {
		return nil, errors.New("storage: nothing to sign")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	digest := sha256.Sum256(payload)
	signature, err := s.key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("storage: sign url: %w", err)
	}
	return signature, nil
}

// decodePrivateKey accepts PKCS#8 ("PRIVATE KEY") and PKCS#1 ("RSA PRIVATE KEY") PEM blocks.
func decodePrivateKey(text string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(text)))
	if block == nil {
		return nil, errors.New("storage: signer key has no PEM private_key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("storage: parse pkcs1 key: %w", err)
		}
		return key, nil
	default:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("storage: parse pkcs8 key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: signer key is not RSA")
		}
		return key, nil
	}
}
