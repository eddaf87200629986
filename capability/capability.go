package capability

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"

	"go.uber.org/zap"
)

// Names of the objects reachable from user code.
const (
	NameWallet    = "wallet"
	NameSecrets   = "secrets"
	NamePriceFeed = "priceFeed"
	NameStorage   = "storage"
	NameHTTP      = "http"
	NameUtils     = "utils"
	NameEnv       = "env"
)

// Names lists every capability binding, env included.
var Names = []string{NameWallet, NameSecrets, NamePriceFeed, NameStorage, NameHTTP, NameUtils, NameEnv}

// Method is one synchronous capability call. Arguments and the result are
// value trees as produced by types.Normalize.
type Method func(ctx context.Context, args []any) (any, error)

// Object is a named group of methods.
type Object struct {
	Name    string
	Methods map[string]Method
}

// MethodNames returns the method names in sorted order.
func (o *Object) MethodNames() []string {
	names := make([]string, 0, len(o.Methods))
	for name := range o.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes a method by name.
func (o *Object) Call(ctx context.Context, method string, args []any) (any, error) {
	m, ok := o.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%s.%s is not a function", o.Name, method)
	}
	return m(ctx, args)
}

// Set is the capability surface of one invocation.
type Set struct {
	objects map[string]*Object
	env     map[string]string
}

// NewSet builds a Set from objects and an environment map. The map is copied.
func NewSet(env map[string]string, objects ...*Object) *Set {
	s := &Set{objects: make(map[string]*Object, len(objects)), env: maps.Clone(env)}
	if s.env == nil {
		s.env = map[string]string{}
	}
	for _, o := range objects {
		s.objects[o.Name] = o
	}
	return s
}

// Objects returns the objects sorted by name.
func (s *Set) Objects() []*Object {
	if s == nil {
		return nil
	}
	names := slices.Sorted(maps.Keys(s.objects))
	out := make([]*Object, 0, len(names))
	for _, name := range names {
		out = append(out, s.objects[name])
	}
	return out
}

// Object looks up one object.
func (s *Set) Object(name string) (*Object, bool) {
	if s == nil {
		return nil, false
	}
	o, ok := s.objects[name]
	return o, ok
}

// Env returns a copy of the read-only environment.
func (s *Set) Env() map[string]string {
	if s == nil {
		return map[string]string{}
	}
	return maps.Clone(s.env)
}

// Scope identifies whose data a bound Set may touch.
type Scope struct {
	AccountID  string
	FunctionID string
	Env        map[string]string
}

// =============================================================================
// 🔌 Provider
// =============================================================================

// Provider binds the configured collaborators into per-invocation Sets.
type Provider struct {
	wallet    Wallet
	secrets   Secrets
	priceFeed PriceFeed
	storage   Storage
	http      *HTTPClient
	logger    *zap.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithWallet sets the wallet collaborator.
func WithWallet(w Wallet) Option { return func(p *Provider) { p.wallet = w } }

// WithSecrets sets the secrets collaborator.
func WithSecrets(s Secrets) Option { return func(p *Provider) { p.secrets = s } }

// WithPriceFeed sets the price feed collaborator.
func WithPriceFeed(f PriceFeed) Option { return func(p *Provider) { p.priceFeed = f } }

// WithStorage sets the key-value storage backend.
func WithStorage(s Storage) Option { return func(p *Provider) { p.storage = s } }

// WithHTTP sets the outbound HTTP client.
func WithHTTP(c *HTTPClient) Option { return func(p *Provider) { p.http = c } }

// NewProvider creates a Provider. Collaborators left unset still appear in
// every Set; their methods fail with a "not configured" error.
func NewProvider(logger *zap.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{logger: logger.With(zap.String("component", "capability"))}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Bind creates the Set for one invocation.
func (p *Provider) Bind(scope Scope) *Set {
	return NewSet(scope.Env,
		p.walletObject(scope),
		p.secretsObject(scope),
		p.priceFeedObject(),
		p.storageObject(scope),
		p.httpObject(),
		utilsObject(),
	)
}

func notConfigured(name string) error {
	return fmt.Errorf("%s capability is not configured", name)
}
