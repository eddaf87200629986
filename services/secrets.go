package services

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/capability"
)

var _ capability.Secrets = (*SecretStore)(nil)

// SecretMetadata is everything about a secret except its value.
type SecretMetadata struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

func (m SecretMetadata) expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && m.ExpiresAt.Before(now)
}

type sealedSecret struct {
	meta       SecretMetadata
	ciphertext []byte
}

// SecretStore keeps per-account secrets sealed with AES-256-GCM. Plaintext
// exists only while a value is being returned to user code.
type SecretStore struct {
	mu      sync.RWMutex
	aead    cipher.AEAD
	secrets map[string]map[string]sealedSecret
	logger  *zap.Logger
}

// NewSecretStore creates a store sealed with masterKey, which must be 32
// bytes. A nil key generates a random one for the process lifetime.
func NewSecretStore(masterKey []byte, logger *zap.Logger) (*SecretStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if masterKey == nil {
		masterKey = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, masterKey); err != nil {
			return nil, fmt.Errorf("generate master key: %w", err)
		}
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d: %w", len(masterKey), ErrInvalidArgument)
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &SecretStore{
		aead:    aead,
		secrets: make(map[string]map[string]sealedSecret),
		logger:  logger.With(zap.String("component", "secrets")),
	}, nil
}

// additionalData ties a ciphertext to its account and name.
func additionalData(accountID, name string) []byte {
	return []byte(accountID + "\x00" + name)
}

// Set stores or replaces a secret. A zero ttl never expires.
func (s *SecretStore) Set(_ context.Context, accountID, name, value string, ttl time.Duration) (SecretMetadata, error) {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(name) == "" {
		return SecretMetadata{}, fmt.Errorf("account id and name are required: %w", ErrInvalidArgument)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return SecretMetadata{}, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, []byte(value), additionalData(accountID, name))

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.secrets[accountID]
	if !ok {
		byName = make(map[string]sealedSecret)
		s.secrets[accountID] = byName
	}
	meta := SecretMetadata{Name: name, CreatedAt: now, UpdatedAt: now}
	if prev, ok := byName[name]; ok {
		meta.CreatedAt = prev.meta.CreatedAt
	}
	if ttl > 0 {
		meta.ExpiresAt = now.Add(ttl)
	}
	byName[name] = sealedSecret{meta: meta, ciphertext: ciphertext}
	s.logger.Info("secret stored", zap.String("account_id", accountID), zap.String("name", name))
	return meta, nil
}

// Delete removes a secret.
func (s *SecretStore) Delete(_ context.Context, accountID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[accountID][name]; !ok {
		return fmt.Errorf("secret %q: %w", name, ErrNotFound)
	}
	delete(s.secrets[accountID], name)
	return nil
}

// List returns the metadata of every unexpired secret of accountID.
func (s *SecretStore) List(_ context.Context, accountID string) []SecretMetadata {
	now := time.Now()
	s.mu.RLock()
	out := make([]SecretMetadata, 0, len(s.secrets[accountID]))
	for _, sec := range s.secrets[accountID] {
		if !sec.meta.expired(now) {
			out = append(out, sec.meta)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetSecret implements capability.Secrets. Expired secrets are not found.
func (s *SecretStore) GetSecret(_ context.Context, accountID, name string) (string, bool, error) {
	s.mu.RLock()
	sec, ok := s.secrets[accountID][name]
	s.mu.RUnlock()
	if !ok || sec.meta.expired(time.Now()) {
		return "", false, nil
	}

	n := s.aead.NonceSize()
	if len(sec.ciphertext) < n {
		return "", false, fmt.Errorf("secret %q is corrupt", name)
	}
	plain, err := s.aead.Open(nil, sec.ciphertext[:n], sec.ciphertext[n:], additionalData(accountID, name))
	if err != nil {
		return "", false, fmt.Errorf("unseal secret %q: %w", name, err)
	}
	return string(plain), true, nil
}
