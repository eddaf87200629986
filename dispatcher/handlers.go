package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/executor"
	"github.com/BaSui01/enclaveflow/internal/metrics"
	"github.com/BaSui01/enclaveflow/types"
)

func (d *Dispatcher) registerBuiltins() {
	d.Handle(types.ServicePing, "ping", d.ping)
	d.Handle(types.ServicePing, "health", d.ping)
	d.Handle(types.ServiceMetrics, "get", d.metricsSnapshot)

	if d.deps.Executor != nil {
		d.Handle(types.ServiceFunction, "compile", d.compile)
		d.Handle(types.ServiceFunction, "execute", d.execute)
		d.Handle(types.ServiceFunction, "executeForEvent", d.executeForEvent)
	}
	if d.deps.Accounts != nil {
		d.Handle(types.ServiceAccount, "create", d.accountCreate)
		d.Handle(types.ServiceAccount, "get", d.accountGet)
		d.Handle(types.ServiceAccount, "list", d.accountList)
	}
	if d.deps.Wallets != nil {
		d.Handle(types.ServiceWallet, "create", d.walletCreate)
		d.Handle(types.ServiceWallet, "get", d.walletGet)
		d.Handle(types.ServiceWallet, "list", d.walletList)
		d.Handle(types.ServiceWallet, "sign", d.walletSign)
		d.Handle(types.ServiceWallet, "verify", d.walletVerify)
	}
	if d.deps.Secrets != nil {
		d.Handle(types.ServiceSecrets, "set", d.secretSet)
		d.Handle(types.ServiceSecrets, "delete", d.secretDelete)
		d.Handle(types.ServiceSecrets, "list", d.secretList)
	}
	if d.deps.Prices != nil {
		d.Handle(types.ServicePriceFeed, "update", d.priceUpdate)
		d.Handle(types.ServicePriceFeed, "get", d.priceGet)
		d.Handle(types.ServicePriceFeed, "list", d.priceList)
	}
}

// =============================================================================
// 🩺 ping / metrics
// =============================================================================

// PingResult is the payload of ping.
type PingResult struct {
	Status       string `json:"status"`
	UptimeMs     int64  `json:"uptimeMs"`
	RequestCount int64  `json:"requestCount"`
}

func (d *Dispatcher) ping(context.Context, []byte) (any, error) {
	c := d.deps.Counters
	return PingResult{Status: "ok", UptimeMs: c.Uptime().Milliseconds(), RequestCount: c.RequestCount()}, nil
}

// MetricsResult is the payload of metrics.get.
type MetricsResult struct {
	RequestCount   int64           `json:"requestCount"`
	UptimeMs       int64           `json:"uptimeMs"`
	StartTime      time.Time       `json:"startTime"`
	CPUSeconds     float64         `json:"cpuSeconds"`
	MemoryBytes    uint64          `json:"memoryBytes"`
	Goroutines     int             `json:"goroutines"`
	HeapAllocBytes uint64          `json:"heapAllocBytes"`
	Executions     *executor.Stats `json:"executions,omitempty"`
	Runtimes       []string        `json:"runtimes,omitempty"`
	// Metrics holds the gathered Prometheus families when a collector is set.
	Metrics []metrics.Family `json:"metrics,omitempty"`
}

func (d *Dispatcher) metricsSnapshot(context.Context, []byte) (any, error) {
	s := d.deps.Counters.Snapshot()
	out := MetricsResult{
		RequestCount:   s.RequestCount,
		UptimeMs:       s.UptimeMs,
		StartTime:      s.StartTime,
		CPUSeconds:     s.CPUSeconds,
		MemoryBytes:    s.MemoryBytes,
		Goroutines:     s.Goroutines,
		HeapAllocBytes: s.HeapAllocBytes,
	}
	if ex := d.deps.Executor; ex != nil {
		stats := ex.Stats()
		out.Executions = &stats
		for _, id := range ex.Runtimes() {
			out.Runtimes = append(out.Runtimes, string(id))
		}
	}
	families, err := d.collector.Families()
	if err != nil {
		d.logger.Warn("gather metrics failed", zap.Error(err))
	}
	out.Metrics = families
	return out, nil
}

// =============================================================================
// ⚙️ function
// =============================================================================

// FunctionRequest is the payload of the function operations. Params is used
// by execute, Event by executeForEvent.
type FunctionRequest struct {
	Runtime    string                  `json:"runtime"`
	Source     string                  `json:"source"`
	EntryPoint string                  `json:"entryPoint"`
	Params     any                     `json:"params,omitempty"`
	Event      any                     `json:"event,omitempty"`
	Context    *types.ExecutionContext `json:"context,omitempty"`
}

// CompileResult is the payload of function.compile.
type CompileResult struct {
	Runtime    string `json:"runtime"`
	EntryPoint string `json:"entryPoint"`
	SourceHash string `json:"sourceHash"`
}

func (d *Dispatcher) decodeFunction(payload []byte) (*FunctionRequest, error) {
	var req FunctionRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := required("runtime", req.Runtime); err != nil {
		return nil, err
	}
	if err := required("entryPoint", req.EntryPoint); err != nil {
		return nil, err
	}
	return &req, nil
}

func (d *Dispatcher) compile(_ context.Context, payload []byte) (any, error) {
	req, err := d.decodeFunction(payload)
	if err != nil {
		return nil, err
	}
	fn, err := d.deps.Executor.Compile(req.Runtime, req.Source, req.EntryPoint)
	if err != nil {
		return nil, err
	}
	return CompileResult{Runtime: string(fn.Runtime()), EntryPoint: fn.EntryPoint(), SourceHash: fn.SourceHash()}, nil
}

func (d *Dispatcher) execute(ctx context.Context, payload []byte) (any, error) {
	req, err := d.decodeFunction(payload)
	if err != nil {
		return nil, err
	}
	fn, err := d.deps.Executor.Compile(req.Runtime, req.Source, req.EntryPoint)
	if err != nil {
		return nil, err
	}
	return d.deps.Executor.Execute(ctx, fn, req.EntryPoint, req.Params, req.Context)
}

func (d *Dispatcher) executeForEvent(ctx context.Context, payload []byte) (any, error) {
	req, err := d.decodeFunction(payload)
	if err != nil {
		return nil, err
	}
	fn, err := d.deps.Executor.Compile(req.Runtime, req.Source, req.EntryPoint)
	if err != nil {
		return nil, err
	}
	return d.deps.Executor.ExecuteForEvent(ctx, fn, req.EntryPoint, req.Event, req.Context)
}

// =============================================================================
// 👤 account
// =============================================================================

type accountRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (d *Dispatcher) accountCreate(ctx context.Context, payload []byte) (any, error) {
	var req accountRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	return d.deps.Accounts.Create(ctx, req.ID, req.Name)
}

func (d *Dispatcher) accountGet(ctx context.Context, payload []byte) (any, error) {
	var req accountRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := required("id", req.ID); err != nil {
		return nil, err
	}
	return d.deps.Accounts.Get(ctx, req.ID)
}

func (d *Dispatcher) accountList(ctx context.Context, _ []byte) (any, error) {
	return d.deps.Accounts.List(ctx), nil
}

// requireAccount checks accountID against the registry when one is configured.
func (d *Dispatcher) requireAccount(ctx context.Context, accountID string) error {
	if err := required("accountId", accountID); err != nil {
		return err
	}
	if d.deps.Accounts == nil {
		return nil
	}
	_, err := d.deps.Accounts.Get(ctx, accountID)
	return err
}

// =============================================================================
// 👛 wallet
// =============================================================================

type walletRequest struct {
	AccountID string `json:"accountId"`
	WalletID  string `json:"walletId"`
	Label     string `json:"label"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func (d *Dispatcher) decodeWallet(ctx context.Context, payload []byte) (*walletRequest, error) {
	var req walletRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := d.requireAccount(ctx, req.AccountID); err != nil {
		return nil, err
	}
	return &req, nil
}

func (d *Dispatcher) walletCreate(ctx context.Context, payload []byte) (any, error) {
	req, err := d.decodeWallet(ctx, payload)
	if err != nil {
		return nil, err
	}
	return d.deps.Wallets.Create(ctx, req.AccountID, req.Label)
}

func (d *Dispatcher) walletGet(ctx context.Context, payload []byte) (any, error) {
	req, err := d.decodeWallet(ctx, payload)
	if err != nil {
		return nil, err
	}
	return d.deps.Wallets.Get(ctx, req.AccountID, req.WalletID)
}

func (d *Dispatcher) walletList(ctx context.Context, payload []byte) (any, error) {
	req, err := d.decodeWallet(ctx, payload)
	if err != nil {
		return nil, err
	}
	return d.deps.Wallets.ListWallets(ctx, req.AccountID)
}

func (d *Dispatcher) walletSign(ctx context.Context, payload []byte) (any, error) {
	req, err := d.decodeWallet(ctx, payload)
	if err != nil {
		return nil, err
	}
	sig, err := d.deps.Wallets.Sign(ctx, req.AccountID, req.WalletID, []byte(req.Message))
	if err != nil {
		return nil, err
	}
	return map[string]string{"signature": sig}, nil
}

func (d *Dispatcher) walletVerify(ctx context.Context, payload []byte) (any, error) {
	req, err := d.decodeWallet(ctx, payload)
	if err != nil {
		return nil, err
	}
	ok, err := d.deps.Wallets.Verify(ctx, req.AccountID, req.WalletID, []byte(req.Message), req.Signature)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"valid": ok}, nil
}

// =============================================================================
// 🔐 secrets
// =============================================================================

type secretRequest struct {
	AccountID  string `json:"accountId"`
	Name       string `json:"name"`
	Value      string `json:"value"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

func (d *Dispatcher) decodeSecret(ctx context.Context, payload []byte) (*secretRequest, error) {
	var req secretRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := d.requireAccount(ctx, req.AccountID); err != nil {
		return nil, err
	}
	return &req, nil
}

func (d *Dispatcher) secretSet(ctx context.Context, payload []byte) (any, error) {
	req, err := d.decodeSecret(ctx, payload)
	if err != nil {
		return nil, err
	}
	return d.deps.Secrets.Set(ctx, req.AccountID, req.Name, req.Value, time.Duration(req.TTLSeconds)*time.Second)
}

func (d *Dispatcher) secretDelete(ctx context.Context, payload []byte) (any, error) {
	req, err := d.decodeSecret(ctx, payload)
	if err != nil {
		return nil, err
	}
	if err := d.deps.Secrets.Delete(ctx, req.AccountID, req.Name); err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": true}, nil
}

func (d *Dispatcher) secretList(ctx context.Context, payload []byte) (any, error) {
	req, err := d.decodeSecret(ctx, payload)
	if err != nil {
		return nil, err
	}
	return d.deps.Secrets.List(ctx, req.AccountID), nil
}

// =============================================================================
// 📈 priceFeed
// =============================================================================

type priceRequest struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	UpdatedAt int64   `json:"updatedAt"`
}

func (d *Dispatcher) priceUpdate(ctx context.Context, payload []byte) (any, error) {
	var req priceRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	var at time.Time
	if req.UpdatedAt > 0 {
		at = time.UnixMilli(req.UpdatedAt)
	}
	return d.deps.Prices.Update(ctx, req.Symbol, req.Price, at)
}

func (d *Dispatcher) priceGet(ctx context.Context, payload []byte) (any, error) {
	var req priceRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := required("symbol", req.Symbol); err != nil {
		return nil, err
	}
	p, found, err := d.deps.Prices.Price(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.Errorf(types.KindExecution, "no price for %q", req.Symbol)
	}
	return p, nil
}

func (d *Dispatcher) priceList(ctx context.Context, _ []byte) (any, error) {
	return d.deps.Prices.List(ctx), nil
}
