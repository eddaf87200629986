package services

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

// =============================================================================
// 👤 AccountRegistry
// =============================================================================

func TestAccountRegistry(t *testing.T) {
	r := NewAccountRegistry(zap.NewNop())

	a, err := r.Create(ctx, "acct-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", a.ID)

	_, err = r.Create(ctx, "acct-1", "again")
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	generated, err := r.Create(ctx, "", "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)

	got, err := r.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)
	assert.True(t, r.Exists("acct-1"))

	_, err = r.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Len(t, r.List(ctx), 2)
}

// =============================================================================
// 👛 WalletService
// =============================================================================

func TestWallet_CreateSignVerify(t *testing.T) {
	s := NewWalletService(nil)

	w, err := s.Create(ctx, "acct", "main")
	require.NoError(t, err)
	assert.Regexp(t, `^0x[0-9a-f]{40}$`, w.Address)
	assert.Len(t, w.PublicKey, 130)

	sig, err := s.Sign(ctx, "acct", "", []byte("hello"))
	require.NoError(t, err)

	ok, err := s.Verify(ctx, "acct", w.ID, []byte("hello"), sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Verify(ctx, "acct", w.ID, []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWallet_Errors(t *testing.T) {
	s := NewWalletService(nil)

	_, err := s.Create(ctx, " ", "")
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = s.Sign(ctx, "nobody", "", []byte("x"))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Create(ctx, "acct", "")
	require.NoError(t, err)
	_, err = s.Sign(ctx, "acct", "", nil)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = s.Get(ctx, "acct", "no-such-wallet")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Verify(ctx, "acct", "", []byte("x"), "zz")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestWallet_AccountsAreIsolated(t *testing.T) {
	s := NewWalletService(nil)
	a, err := s.Create(ctx, "a", "")
	require.NoError(t, err)

	_, err = s.Get(ctx, "b", a.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	list, err := s.ListWallets(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, list)
}

// =============================================================================
// 🔐 SecretStore
// =============================================================================

func TestSecrets_RoundTrip(t *testing.T) {
	s, err := NewSecretStore(nil, nil)
	require.NoError(t, err)

	meta, err := s.Set(ctx, "acct", "API_TOKEN", "t0ps3cret", 0)
	require.NoError(t, err)
	assert.Equal(t, "API_TOKEN", meta.Name)

	v, found, err := s.GetSecret(ctx, "acct", "API_TOKEN")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "t0ps3cret", v)

	_, found, err = s.GetSecret(ctx, "other", "API_TOKEN")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSecrets_ValuesAreSealed(t *testing.T) {
	s, err := NewSecretStore(bytes.Repeat([]byte{7}, 32), nil)
	require.NoError(t, err)
	_, err = s.Set(ctx, "acct", "k", "plaintext-value", 0)
	require.NoError(t, err)

	sealed := s.secrets["acct"]["k"].ciphertext
	assert.False(t, bytes.Contains(sealed, []byte("plaintext-value")))
}

func TestSecrets_CiphertextBoundToOwner(t *testing.T) {
	s, err := NewSecretStore(nil, nil)
	require.NoError(t, err)
	_, err = s.Set(ctx, "a", "k", "v", 0)
	require.NoError(t, err)

	// transplant a's sealed value under b
	s.secrets["b"] = map[string]sealedSecret{"k": s.secrets["a"]["k"]}
	_, _, err = s.GetSecret(ctx, "b", "k")
	assert.Error(t, err)
}

func TestSecrets_ExpiryListAndDelete(t *testing.T) {
	s, err := NewSecretStore(nil, nil)
	require.NoError(t, err)

	_, err = s.Set(ctx, "acct", "short", "v", time.Nanosecond)
	require.NoError(t, err)
	_, err = s.Set(ctx, "acct", "long", "v", time.Hour)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	_, found, err := s.GetSecret(ctx, "acct", "short")
	require.NoError(t, err)
	assert.False(t, found)

	list := s.List(ctx, "acct")
	require.Len(t, list, 1)
	assert.Equal(t, "long", list[0].Name)

	require.NoError(t, s.Delete(ctx, "acct", "long"))
	assert.True(t, errors.Is(s.Delete(ctx, "acct", "long"), ErrNotFound))
}

func TestSecrets_InvalidInput(t *testing.T) {
	_, err := NewSecretStore([]byte("short"), nil)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	s, err := NewSecretStore(nil, nil)
	require.NoError(t, err)
	_, err = s.Set(ctx, "", "k", "v", 0)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestSecrets_RoundTripProperty(t *testing.T) {
	s, err := NewSecretStore(nil, nil)
	require.NoError(t, err)

	properties := gopter.NewProperties(nil)
	properties.Property("sealed values open to the original", prop.ForAll(
		func(name, value string) bool {
			if name == "" {
				return true
			}
			if _, err := s.Set(ctx, "acct", name, value, 0); err != nil {
				return false
			}
			got, found, err := s.GetSecret(ctx, "acct", name)
			return err == nil && found && got == value
		},
		gen.AlphaString(),
		gen.AnyString(),
	))
	properties.TestingRun(t)
}

// =============================================================================
// 📈 PriceFeed
// =============================================================================

func TestPriceFeed(t *testing.T) {
	f := NewPriceFeed(nil)

	p, err := f.Update(ctx, " neo ", 12.5, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "NEO", p.Symbol)

	got, found, err := f.Price(ctx, "Neo")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 12.5, got.Value)

	_, found, err = f.Price(ctx, "GAS")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = f.Update(ctx, "", 1, time.Time{})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = f.Update(ctx, "X", -1, time.Time{})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestPriceFeed_StaleUpdateIgnored(t *testing.T) {
	f := NewPriceFeed(nil)
	now := time.Now()

	_, err := f.Update(ctx, "BTC", 100, now)
	require.NoError(t, err)
	kept, err := f.Update(ctx, "BTC", 50, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 100.0, kept.Value)
}

func TestPriceFeed_ConcurrentUpdates(t *testing.T) {
	f := NewPriceFeed(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.Update(ctx, "ETH", float64(i), time.Time{})
			_, _, _ = f.Price(ctx, "ETH")
		}(i)
	}
	wg.Wait()
	assert.Len(t, f.List(ctx), 1)
}
