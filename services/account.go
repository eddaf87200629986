package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Account is an account known to the enclave.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AccountRegistry holds the enclave's accounts.
type AccountRegistry struct {
	mu       sync.RWMutex
	accounts map[string]Account
	logger   *zap.Logger
}

// NewAccountRegistry creates an empty registry.
func NewAccountRegistry(logger *zap.Logger) *AccountRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountRegistry{
		accounts: make(map[string]Account),
		logger:   logger.With(zap.String("component", "accounts")),
	}
}

// Create registers an account. An empty id gets a generated one.
func (r *AccountRegistry) Create(_ context.Context, id, name string) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; ok {
		return Account{}, fmt.Errorf("account %q: %w", id, ErrAlreadyExists)
	}
	acct := Account{ID: id, Name: name, CreatedAt: time.Now().UTC()}
	r.accounts[id] = acct
	r.logger.Info("account created", zap.String("account_id", id))
	return acct, nil
}

// Get returns one account.
func (r *AccountRegistry) Get(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	return acct, nil
}

// Exists reports whether id is registered.
func (r *AccountRegistry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[id]
	return ok
}

// List returns every account ordered by id.
func (r *AccountRegistry) List(_ context.Context) []Account {
	r.mu.RLock()
	out := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
