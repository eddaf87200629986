package capability

import (
	"context"
	"time"
)

// WalletInfo is the public view of a wallet.
type WalletInfo struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Label     string    `json:"label,omitempty"`
	Address   string    `json:"address"`
	PublicKey string    `json:"publicKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// Wallet is the wallet collaborator.
type Wallet interface {
	ListWallets(ctx context.Context, accountID string) ([]WalletInfo, error)
	// Sign signs message with the wallet's key. An empty walletID selects
	// the account's first wallet.
	Sign(ctx context.Context, accountID, walletID string, message []byte) (string, error)
}

// Secrets is the secrets collaborator.
type Secrets interface {
	GetSecret(ctx context.Context, accountID, name string) (value string, found bool, err error)
}

// Price is one price feed entry.
type Price struct {
	Symbol    string    `json:"symbol"`
	Value     float64   `json:"price"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PriceFeed is the price feed collaborator.
type PriceFeed interface {
	Price(ctx context.Context, symbol string) (Price, bool, error)
}

// Storage is a flat string key-value store. Namespacing per account and
// function happens in the capability object, not in the backend.
type Storage interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
