package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/capability"
)

var _ capability.Wallet = (*WalletService)(nil)

type wallet struct {
	info capability.WalletInfo
	key  *ecdsa.PrivateKey
}

// WalletService keeps one or more ECDSA P-256 keys per account. Private
// keys never leave the service.
type WalletService struct {
	mu        sync.RWMutex
	byAccount map[string][]*wallet
	logger    *zap.Logger
}

// NewWalletService creates an empty wallet service.
func NewWalletService(logger *zap.Logger) *WalletService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletService{
		byAccount: make(map[string][]*wallet),
		logger:    logger.With(zap.String("component", "wallets")),
	}
}

// Create generates a new key for accountID.
func (s *WalletService) Create(_ context.Context, accountID, label string) (capability.WalletInfo, error) {
	if strings.TrimSpace(accountID) == "" {
		return capability.WalletInfo{}, fmt.Errorf("account id is required: %w", ErrInvalidArgument)
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return capability.WalletInfo{}, fmt.Errorf("generate key: %w", err)
	}
	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return capability.WalletInfo{}, fmt.Errorf("encode public key: %w", err)
	}
	raw := pub.Bytes()
	w := &wallet{
		info: capability.WalletInfo{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Label:     label,
			Address:   address(raw),
			PublicKey: hex.EncodeToString(raw),
			CreatedAt: time.Now().UTC(),
		},
		key: key,
	}

	s.mu.Lock()
	s.byAccount[accountID] = append(s.byAccount[accountID], w)
	s.mu.Unlock()

	s.logger.Info("wallet created",
		zap.String("account_id", accountID),
		zap.String("wallet_id", w.info.ID),
		zap.String("address", w.info.Address))
	return w.info, nil
}

// address is 0x followed by the first 20 bytes of sha256(public key).
func address(pub []byte) string {
	sum := sha256.Sum256(pub)
	return "0x" + hex.EncodeToString(sum[:20])
}

// ListWallets implements capability.Wallet.
func (s *WalletService) ListWallets(_ context.Context, accountID string) ([]capability.WalletInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wallets := s.byAccount[accountID]
	out := make([]capability.WalletInfo, len(wallets))
	for i, w := range wallets {
		out[i] = w.info
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Get returns one wallet of accountID.
func (s *WalletService) Get(_ context.Context, accountID, walletID string) (capability.WalletInfo, error) {
	w, err := s.find(accountID, walletID)
	if err != nil {
		return capability.WalletInfo{}, err
	}
	return w.info, nil
}

func (s *WalletService) find(accountID, walletID string) (*wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wallets := s.byAccount[accountID]
	if walletID == "" {
		if len(wallets) == 0 {
			return nil, fmt.Errorf("account %q has no wallet: %w", accountID, ErrNotFound)
		}
		return wallets[0], nil
	}
	for _, w := range wallets {
		if w.info.ID == walletID {
			return w, nil
		}
	}
	return nil, fmt.Errorf("wallet %q: %w", walletID, ErrNotFound)
}

// Sign implements capability.Wallet. The signature is the hex ASN.1 ECDSA
// signature over sha256(message).
func (s *WalletService) Sign(_ context.Context, accountID, walletID string, message []byte) (string, error) {
	if len(message) == 0 {
		return "", fmt.Errorf("message cannot be empty: %w", ErrInvalidArgument)
	}
	w, err := s.find(accountID, walletID)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, w.key, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	s.logger.Debug("message signed",
		zap.String("account_id", accountID),
		zap.String("wallet_id", w.info.ID))
	return hex.EncodeToString(sig), nil
}

// Verify checks a signature produced by Sign.
func (s *WalletService) Verify(_ context.Context, accountID, walletID string, message []byte, signature string) (bool, error) {
	w, err := s.find(accountID, walletID)
	if err != nil {
		return false, err
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("signature is not hex: %w", ErrInvalidArgument)
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(&w.key.PublicKey, digest[:], sig), nil
}
