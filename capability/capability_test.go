package capability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- fakes ---

type fakeWallet struct {
	wallets []WalletInfo
	signed  []string
}

func (w *fakeWallet) ListWallets(_ context.Context, accountID string) ([]WalletInfo, error) {
	var out []WalletInfo
	for _, info := range w.wallets {
		if info.AccountID == accountID {
			out = append(out, info)
		}
	}
	return out, nil
}

func (w *fakeWallet) Sign(_ context.Context, accountID, walletID string, message []byte) (string, error) {
	w.signed = append(w.signed, accountID+"/"+walletID+"/"+string(message))
	return "sig:" + string(message), nil
}

type fakeSecrets map[string]string

func (s fakeSecrets) GetSecret(_ context.Context, accountID, name string) (string, bool, error) {
	v, ok := s[accountID+"/"+name]
	return v, ok, nil
}

type fakePrices map[string]Price

func (f fakePrices) Price(_ context.Context, symbol string) (Price, bool, error) {
	p, ok := f[symbol]
	return p, ok, nil
}

func call(t *testing.T, set *Set, object, method string, args ...any) (any, error) {
	t.Helper()
	obj, ok := set.Object(object)
	require.True(t, ok, "object %s missing", object)
	return obj.Call(context.Background(), method, args)
}

// --- Set ---

func TestSet_ObjectsSortedAndEnvCopied(t *testing.T) {
	env := map[string]string{"API_KEY": "k"}
	set := NewProvider(zap.NewNop()).Bind(Scope{AccountID: "a", FunctionID: "f", Env: env})

	var names []string
	for _, o := range set.Objects() {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{NameHTTP, NamePriceFeed, NameSecrets, NameStorage, NameUtils, NameWallet}, names)

	got := set.Env()
	got["API_KEY"] = "changed"
	env["API_KEY"] = "changed"
	assert.Equal(t, "k", set.Env()["API_KEY"])
}

func TestSet_UnconfiguredCollaboratorsFail(t *testing.T) {
	set := NewProvider(nil).Bind(Scope{AccountID: "a"})

	for _, tc := range []struct{ object, method string }{
		{NameWallet, "list"},
		{NameSecrets, "get"},
		{NamePriceFeed, "getPrice"},
		{NameStorage, "get"},
		{NameHTTP, "get"},
	} {
		_, err := call(t, set, tc.object, tc.method, "x")
		assert.ErrorContains(t, err, "not configured", "%s.%s", tc.object, tc.method)
	}

	_, err := call(t, set, NameUtils, "missing")
	assert.ErrorContains(t, err, "utils.missing is not a function")
}

// --- collaborators ---

func TestWalletObject(t *testing.T) {
	w := &fakeWallet{wallets: []WalletInfo{
		{ID: "w1", AccountID: "acct", Address: "0xabc", CreatedAt: time.UnixMilli(1000)},
		{ID: "w2", AccountID: "acct", Address: "0xdef"},
		{ID: "w3", AccountID: "other", Address: "0x999"},
	}}
	set := NewProvider(nil, WithWallet(w)).Bind(Scope{AccountID: "acct"})

	addr, err := call(t, set, NameWallet, "getAddress")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", addr)

	addr, err = call(t, set, NameWallet, "getAddress", "w2")
	require.NoError(t, err)
	assert.Equal(t, "0xdef", addr)

	_, err = call(t, set, NameWallet, "getAddress", "w3")
	assert.Error(t, err)

	list, err := call(t, set, NameWallet, "list")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, int64(1000), list.([]any)[0].(map[string]any)["createdAt"])

	sig, err := call(t, set, NameWallet, "sign", "hello")
	require.NoError(t, err)
	assert.Equal(t, "sig:hello", sig)
	assert.Equal(t, []string{"acct//hello"}, w.signed)

	_, err = call(t, set, NameWallet, "sign", 42.0)
	assert.ErrorContains(t, err, "message must be a string")
}

func TestSecretsObject_ScopedToAccount(t *testing.T) {
	secrets := fakeSecrets{"acct/token": "s3cret", "other/token": "nope"}
	set := NewProvider(nil, WithSecrets(secrets)).Bind(Scope{AccountID: "acct"})

	v, err := call(t, set, NameSecrets, "get", "token")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	v, err = call(t, set, NameSecrets, "get", "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = call(t, set, NameSecrets, "get")
	assert.ErrorContains(t, err, "name is required")
}

func TestPriceFeedObject(t *testing.T) {
	prices := fakePrices{"ETH": {Symbol: "ETH", Value: 3120.5, UpdatedAt: time.UnixMilli(42)}}
	set := NewProvider(nil, WithPriceFeed(prices)).Bind(Scope{})

	v, err := call(t, set, NamePriceFeed, "getPrice", "ETH")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"symbol": "ETH", "price": 3120.5, "updatedAt": int64(42)}, v)

	v, err = call(t, set, NamePriceFeed, "getPrice", "BTC")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStorageObject_NamespacedPerFunction(t *testing.T) {
	store := NewMemoryStorage()
	p := NewProvider(nil, WithStorage(store))
	a := p.Bind(Scope{AccountID: "acct", FunctionID: "f1"})
	b := p.Bind(Scope{AccountID: "acct", FunctionID: "f2"})

	_, err := call(t, a, NameStorage, "set", "counter", map[string]any{"n": int64(3)})
	require.NoError(t, err)

	v, err := call(t, a, NameStorage, "get", "counter")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(3)}, v)

	v, err = call(t, b, NameStorage, "get", "counter")
	require.NoError(t, err)
	assert.Nil(t, v)

	keys, err := call(t, a, NameStorage, "keys")
	require.NoError(t, err)
	assert.Equal(t, []any{"counter"}, keys)

	_, err = call(t, a, NameStorage, "delete", "counter")
	require.NoError(t, err)
	v, err = call(t, a, NameStorage, "get", "counter")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStorageObject_IDsWithSeparatorsDoNotCollide(t *testing.T) {
	store := NewMemoryStorage()
	p := NewProvider(nil, WithStorage(store))
	a := p.Bind(Scope{AccountID: "a:b", FunctionID: "c"})
	b := p.Bind(Scope{AccountID: "a", FunctionID: "b:c"})

	assert.NotEqual(t, storagePrefix(Scope{AccountID: "a:b", FunctionID: "c"}), storagePrefix(Scope{AccountID: "a", FunctionID: "b:c"}))

	_, err := call(t, a, NameStorage, "set", "k", "from-a")
	require.NoError(t, err)

	v, err := call(t, b, NameStorage, "get", "k")
	require.NoError(t, err)
	assert.Nil(t, v)

	keys, err := call(t, b, NameStorage, "keys")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStoragePrefix_NoScopeIsPrefixOfAnother(t *testing.T) {
	scopes := []Scope{
		{AccountID: "a", FunctionID: "b"},
		{AccountID: "a", FunctionID: "bc"},
		{AccountID: "a:b", FunctionID: ""},
		{AccountID: "a", FunctionID: "b:c"},
		{AccountID: "a:b", FunctionID: "c"},
		{AccountID: "1:a", FunctionID: "1"},
		{AccountID: "", FunctionID: ""},
	}
	for i, x := range scopes {
		for j, y := range scopes {
			if i == j {
				continue
			}
			assert.False(t, strings.HasPrefix(storagePrefix(y), storagePrefix(x)),
				"%+v shares a prefix with %+v", x, y)
		}
	}
}

func TestUtilsObject(t *testing.T) {
	set := NewProvider(nil).Bind(Scope{})

	id, err := call(t, set, NameUtils, "uuid")
	require.NoError(t, err)
	assert.Len(t, id, 36)

	sum, err := call(t, set, NameUtils, "sha256", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)

	enc, err := call(t, set, NameUtils, "base64Encode", "hi")
	require.NoError(t, err)
	dec, err := call(t, set, NameUtils, "base64Decode", enc)
	require.NoError(t, err)
	assert.Equal(t, "hi", dec)

	_, err = call(t, set, NameUtils, "base64Decode", "%%%")
	assert.Error(t, err)

	parsed, err := call(t, set, NameUtils, "jsonParse", `{"a":[1,2.5]}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": []any{int64(1), 2.5}}, parsed)

	text, err := call(t, set, NameUtils, "jsonStringify", map[string]any{"a": true})
	require.NoError(t, err)
	assert.Equal(t, `{"a":true}`, text)

	now, err := call(t, set, NameUtils, "now")
	require.NoError(t, err)
	assert.InDelta(t, time.Now().UnixMilli(), now.(int64), 5000)
}

func TestStorage_BackendErrorsPropagate(t *testing.T) {
	set := NewProvider(nil, WithStorage(failingStorage{})).Bind(Scope{})
	_, err := call(t, set, NameStorage, "set", "k", "v")
	assert.ErrorIs(t, err, errBackend)
}

var errBackend = errors.New("backend down")

type failingStorage struct{}

func (failingStorage) Get(context.Context, string) (string, bool, error) { return "", false, errBackend }
func (failingStorage) Set(context.Context, string, string) error         { return errBackend }
func (failingStorage) Delete(context.Context, string) error              { return errBackend }
func (failingStorage) Keys(context.Context, string) ([]string, error)    { return nil, errBackend }
