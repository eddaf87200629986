package capability

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/types"
)

// =============================================================================
// 👛 wallet
// =============================================================================

func (p *Provider) walletObject(scope Scope) *Object {
	obj := &Object{Name: NameWallet, Methods: map[string]Method{}}
	obj.Methods["list"] = func(ctx context.Context, _ []any) (any, error) {
		if p.wallet == nil {
			return nil, notConfigured(NameWallet)
		}
		wallets, err := p.wallet.ListWallets(ctx, scope.AccountID)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(wallets))
		for _, w := range wallets {
			out = append(out, walletValue(w))
		}
		return out, nil
	}
	obj.Methods["getAddress"] = func(ctx context.Context, args []any) (any, error) {
		if p.wallet == nil {
			return nil, notConfigured(NameWallet)
		}
		walletID, err := argOptionalString(args, 0, "wallet.getAddress", "walletId")
		if err != nil {
			return nil, err
		}
		wallets, err := p.wallet.ListWallets(ctx, scope.AccountID)
		if err != nil {
			return nil, err
		}
		for _, w := range wallets {
			if walletID == "" || w.ID == walletID {
				return w.Address, nil
			}
		}
		if walletID == "" {
			return nil, fmt.Errorf("wallet.getAddress: account has no wallet")
		}
		return nil, fmt.Errorf("wallet.getAddress: wallet %q not found", walletID)
	}
	obj.Methods["sign"] = func(ctx context.Context, args []any) (any, error) {
		if p.wallet == nil {
			return nil, notConfigured(NameWallet)
		}
		message, err := argString(args, 0, "wallet.sign", "message")
		if err != nil {
			return nil, err
		}
		walletID, err := argOptionalString(args, 1, "wallet.sign", "walletId")
		if err != nil {
			return nil, err
		}
		return p.wallet.Sign(ctx, scope.AccountID, walletID, []byte(message))
	}
	return obj
}

func walletValue(w WalletInfo) map[string]any {
	return map[string]any{
		"id":        w.ID,
		"label":     w.Label,
		"address":   w.Address,
		"publicKey": w.PublicKey,
		"createdAt": w.CreatedAt.UnixMilli(),
	}
}

// =============================================================================
// 🔐 secrets
// =============================================================================

func (p *Provider) secretsObject(scope Scope) *Object {
	return &Object{Name: NameSecrets, Methods: map[string]Method{
		"get": func(ctx context.Context, args []any) (any, error) {
			if p.secrets == nil {
				return nil, notConfigured(NameSecrets)
			}
			name, err := argString(args, 0, "secrets.get", "name")
			if err != nil {
				return nil, err
			}
			value, found, err := p.secrets.GetSecret(ctx, scope.AccountID, name)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, nil
			}
			return value, nil
		},
	}}
}

// =============================================================================
// 📈 priceFeed
// =============================================================================

func (p *Provider) priceFeedObject() *Object {
	return &Object{Name: NamePriceFeed, Methods: map[string]Method{
		"getPrice": func(ctx context.Context, args []any) (any, error) {
			if p.priceFeed == nil {
				return nil, notConfigured(NamePriceFeed)
			}
			symbol, err := argString(args, 0, "priceFeed.getPrice", "symbol")
			if err != nil {
				return nil, err
			}
			price, found, err := p.priceFeed.Price(ctx, symbol)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, nil
			}
			return map[string]any{
				"symbol":    price.Symbol,
				"price":     price.Value,
				"updatedAt": price.UpdatedAt.UnixMilli(),
			}, nil
		},
	}}
}

// =============================================================================
// 💾 storage
// =============================================================================

// storagePrefix length-prefixes both ids so no two scopes share a prefix,
// whatever characters the ids contain.
func storagePrefix(scope Scope) string {
	return fmt.Sprintf("fn:%d:%s:%d:%s:",
		len(scope.AccountID), scope.AccountID, len(scope.FunctionID), scope.FunctionID)
}

func (p *Provider) storageObject(scope Scope) *Object {
	prefix := storagePrefix(scope)
	obj := &Object{Name: NameStorage, Methods: map[string]Method{}}

	obj.Methods["get"] = func(ctx context.Context, args []any) (any, error) {
		if p.storage == nil {
			return nil, notConfigured(NameStorage)
		}
		key, err := argString(args, 0, "storage.get", "key")
		if err != nil {
			return nil, err
		}
		raw, found, err := p.storage.Get(ctx, prefix+key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		var decoded any
		if err := types.UnmarshalTree([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("storage.get: corrupt value for %q: %w", key, err)
		}
		return types.Normalize(decoded, types.PreserveIntegers)
	}
	obj.Methods["set"] = func(ctx context.Context, args []any) (any, error) {
		if p.storage == nil {
			return nil, notConfigured(NameStorage)
		}
		key, err := argString(args, 0, "storage.set", "key")
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(argAny(args, 1))
		if err != nil {
			return nil, fmt.Errorf("storage.set: %w", err)
		}
		if err := p.storage.Set(ctx, prefix+key, string(raw)); err != nil {
			return nil, err
		}
		p.logger.Debug("storage set", zap.String("key", key), zap.Int("bytes", len(raw)))
		return true, nil
	}
	obj.Methods["delete"] = func(ctx context.Context, args []any) (any, error) {
		if p.storage == nil {
			return nil, notConfigured(NameStorage)
		}
		key, err := argString(args, 0, "storage.delete", "key")
		if err != nil {
			return nil, err
		}
		if err := p.storage.Delete(ctx, prefix+key); err != nil {
			return nil, err
		}
		return true, nil
	}
	obj.Methods["keys"] = func(ctx context.Context, args []any) (any, error) {
		if p.storage == nil {
			return nil, notConfigured(NameStorage)
		}
		sub, err := argOptionalString(args, 0, "storage.keys", "prefix")
		if err != nil {
			return nil, err
		}
		keys, err := p.storage.Keys(ctx, prefix+sub)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
		return out, nil
	}
	return obj
}

// =============================================================================
// 🌐 http
// =============================================================================

func (p *Provider) httpObject() *Object {
	obj := &Object{Name: NameHTTP, Methods: map[string]Method{}}
	obj.Methods["get"] = func(ctx context.Context, args []any) (any, error) {
		if p.http == nil {
			return nil, notConfigured(NameHTTP)
		}
		url, err := argString(args, 0, "http.get", "url")
		if err != nil {
			return nil, err
		}
		headers, err := argStringMap(args, 1, "http.get", "headers")
		if err != nil {
			return nil, err
		}
		resp, err := p.http.Do(ctx, "GET", url, "", headers)
		if err != nil {
			return nil, err
		}
		return resp.value(), nil
	}
	obj.Methods["post"] = func(ctx context.Context, args []any) (any, error) {
		if p.http == nil {
			return nil, notConfigured(NameHTTP)
		}
		url, err := argString(args, 0, "http.post", "url")
		if err != nil {
			return nil, err
		}
		headers, err := argStringMap(args, 2, "http.post", "headers")
		if err != nil {
			return nil, err
		}
		var body string
		switch b := argAny(args, 1).(type) {
		case nil:
		case string:
			body = b
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("http.post: %w", err)
			}
			body = string(raw)
			if headers == nil {
				headers = map[string]string{}
			}
			if _, ok := headers["Content-Type"]; !ok {
				headers["Content-Type"] = "application/json"
			}
		}
		resp, err := p.http.Do(ctx, "POST", url, body, headers)
		if err != nil {
			return nil, err
		}
		return resp.value(), nil
	}
	return obj
}

// =============================================================================
// 🧰 utils
// =============================================================================

func utilsObject() *Object {
	return &Object{Name: NameUtils, Methods: map[string]Method{
		"uuid": func(context.Context, []any) (any, error) {
			return uuid.NewString(), nil
		},
		"now": func(context.Context, []any) (any, error) {
			return time.Now().UnixMilli(), nil
		},
		"sha256": func(_ context.Context, args []any) (any, error) {
			s, err := argString(args, 0, "utils.sha256", "data")
			if err != nil {
				return nil, err
			}
			sum := sha256.Sum256([]byte(s))
			return hex.EncodeToString(sum[:]), nil
		},
		"base64Encode": func(_ context.Context, args []any) (any, error) {
			s, err := argString(args, 0, "utils.base64Encode", "data")
			if err != nil {
				return nil, err
			}
			return base64.StdEncoding.EncodeToString([]byte(s)), nil
		},
		"base64Decode": func(_ context.Context, args []any) (any, error) {
			s, err := argString(args, 0, "utils.base64Decode", "data")
			if err != nil {
				return nil, err
			}
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("utils.base64Decode: %w", err)
			}
			return string(raw), nil
		},
		"jsonParse": func(_ context.Context, args []any) (any, error) {
			s, err := argString(args, 0, "utils.jsonParse", "text")
			if err != nil {
				return nil, err
			}
			var decoded any
			if err := types.UnmarshalTree([]byte(s), &decoded); err != nil {
				return nil, fmt.Errorf("utils.jsonParse: %w", err)
			}
			return types.Normalize(decoded, types.PreserveIntegers)
		},
		"jsonStringify": func(_ context.Context, args []any) (any, error) {
			raw, err := json.Marshal(argAny(args, 0))
			if err != nil {
				return nil, fmt.Errorf("utils.jsonStringify: %w", err)
			}
			return string(raw), nil
		},
	}}
}
