package dispatcher_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/enclaveflow/capability"
	"github.com/BaSui01/enclaveflow/dispatcher"
	"github.com/BaSui01/enclaveflow/executor"
	"github.com/BaSui01/enclaveflow/governor"
	"github.com/BaSui01/enclaveflow/internal/metrics"
	"github.com/BaSui01/enclaveflow/runtime"
	"github.com/BaSui01/enclaveflow/runtime/javascript"
	"github.com/BaSui01/enclaveflow/runtime/lua"
	"github.com/BaSui01/enclaveflow/runtime/python"
	"github.com/BaSui01/enclaveflow/services"
	"github.com/BaSui01/enclaveflow/types"
)

type fixture struct {
	d        *dispatcher.Dispatcher
	counters *metrics.Counters
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	registry, err := runtime.NewRegistry(
		javascript.New(javascript.DefaultConfig(), logger),
		python.New(python.DefaultConfig(), logger),
		lua.New(lua.DefaultConfig(), logger),
	)
	require.NoError(t, err)

	wallets := services.NewWalletService(logger)
	secrets, err := services.NewSecretStore(nil, logger)
	require.NoError(t, err)
	prices := services.NewPriceFeed(logger)
	provider := capability.NewProvider(logger,
		capability.WithWallet(wallets),
		capability.WithSecrets(secrets),
		capability.WithPriceFeed(prices),
		capability.WithStorage(capability.NewMemoryStorage()),
	)
	collector := metrics.NewCollector("dispatch", prometheus.NewRegistry(), logger)
	gov := governor.New(governor.DefaultConfig(), logger, governor.WithCollector(collector))
	ex := executor.New(registry, gov, provider, logger, executor.WithCollector(collector))

	counters := metrics.NewCounters()
	d := dispatcher.New(dispatcher.Deps{
		Executor: ex,
		Accounts: services.NewAccountRegistry(logger),
		Wallets:  wallets,
		Secrets:  secrets,
		Prices:   prices,
		Counters: counters,
	}, logger, dispatcher.WithCollector(collector))
	return &fixture{d: d, counters: counters}
}

func frame(t require.TestingT, id string, service types.ServiceType, op string, payload any) []byte {
	req := types.Request{RequestID: id, ServiceType: service, Operation: op}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		req.Payload = raw
	}
	out, err := json.Marshal(req)
	require.NoError(t, err)
	return out
}

func (f *fixture) call(t *testing.T, id string, service types.ServiceType, op string, payload any) *types.Response {
	t.Helper()
	var resp types.Response
	require.NoError(t, json.Unmarshal(f.d.Dispatch(context.Background(), frame(t, id, service, op, payload)), &resp))
	return &resp
}

func (f *fixture) ok(t *testing.T, service types.ServiceType, op string, payload any, out any) {
	t.Helper()
	resp := f.call(t, "req", service, op, payload)
	require.True(t, resp.Success, "error: %s", resp.ErrorMessage)
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Payload, out))
	}
}

// --- Envelope ---

func TestDispatch_RequestIDEchoed(t *testing.T) {
	f := newFixture(t)
	rapid.Check(t, func(rt *rapid.T) {
		id := rapid.StringN(1, 40, -1).Draw(rt, "id")
		service := rapid.SampledFrom([]types.ServiceType{"ping", "metrics", "function", "bogus"}).Draw(rt, "service")
		op := rapid.SampledFrom([]string{"ping", "get", "execute", "nope"}).Draw(rt, "op")

		var resp types.Response
		require.NoError(rt, json.Unmarshal(f.d.Dispatch(context.Background(), frame(rt, id, service, op, nil)), &resp))
		if resp.RequestID != id {
			rt.Fatalf("request id %q echoed as %q", id, resp.RequestID)
		}
		if resp.Success == (resp.ErrorMessage != "") {
			rt.Fatalf("success=%v with error message %q", resp.Success, resp.ErrorMessage)
		}
	})
}

func TestDispatch_MalformedBytes(t *testing.T) {
	f := newFixture(t)
	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.SliceOf(rapid.Byte()).Draw(rt, "raw")
		if json.Valid(raw) {
			rt.Skip("valid JSON")
		}
		var resp types.Response
		require.NoError(rt, json.Unmarshal(f.d.Dispatch(context.Background(), raw), &resp))
		if resp.Success || resp.RequestID != types.UnknownRequestID {
			rt.Fatalf("unexpected response %+v", resp)
		}
		if !strings.HasPrefix(resp.ErrorMessage, string(types.KindProtocol)) {
			rt.Fatalf("message %q is not a protocol error", resp.ErrorMessage)
		}
	})
}

func TestDispatch_MissingRequestID(t *testing.T) {
	f := newFixture(t)
	resp := f.call(t, "", types.ServicePing, "ping", nil)
	assert.False(t, resp.Success)
	assert.Equal(t, types.UnknownRequestID, resp.RequestID)
	assert.Contains(t, resp.ErrorMessage, "ProtocolError")
}

func TestDispatch_UnknownRoutes(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, "r-1", "teleport", "go", nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "r-1", resp.RequestID)
	assert.Contains(t, resp.ErrorMessage, "DispatchError")
	assert.Nil(t, resp.Payload)

	resp = f.call(t, "r-2", types.ServiceFunction, "destroy", nil)
	assert.Equal(t, "r-2", resp.RequestID)
	assert.Contains(t, resp.ErrorMessage, `unknown operation "destroy"`)
}

func TestDispatch_InvalidPayloadIsDispatchError(t *testing.T) {
	f := newFixture(t)
	req := types.Request{RequestID: "r", ServiceType: types.ServiceFunction, Operation: "execute", Payload: []byte("not json")}
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var resp types.Response
	require.NoError(t, json.Unmarshal(f.d.Dispatch(context.Background(), raw), &resp))
	assert.False(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.ErrorMessage, "DispatchError"), resp.ErrorMessage)
}

func TestDispatch_PanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.d.Handle("debug", "explode", func(context.Context, []byte) (any, error) {
		panic("handler bug")
	})

	resp := f.call(t, "boom", "debug", "explode", nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "boom", resp.RequestID)
	assert.Equal(t, "InternalError: internal error", resp.ErrorMessage)

	// the next request is unaffected
	assert.True(t, f.call(t, "after", types.ServicePing, "ping", nil).Success)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	var resp types.Response
	require.NoError(t, json.Unmarshal(f.d.Reject(frame(t, "busy-1", types.ServicePing, "ping", nil), "server busy"), &resp))
	assert.Equal(t, "busy-1", resp.RequestID)
	assert.Equal(t, "DispatchError: server busy", resp.ErrorMessage)

	require.NoError(t, json.Unmarshal(f.d.Reject([]byte("garbage"), "server busy"), &resp))
	assert.Equal(t, types.UnknownRequestID, resp.RequestID)
	assert.Equal(t, int64(2), f.counters.RequestCount())
}

// --- ping / metrics ---

func TestPingAndMetrics(t *testing.T) {
	f := newFixture(t)

	var ping dispatcher.PingResult
	f.ok(t, types.ServicePing, "ping", nil, &ping)
	assert.Equal(t, "ok", ping.Status)
	assert.Equal(t, int64(1), ping.RequestCount)

	f.ok(t, types.ServicePing, "health", nil, nil)

	var m dispatcher.MetricsResult
	f.ok(t, types.ServiceMetrics, "get", nil, &m)
	assert.Equal(t, int64(3), m.RequestCount)
	assert.Positive(t, m.Goroutines)
	require.NotNil(t, m.Executions)
	assert.Equal(t, []string{"javascript", "lua", "python"}, m.Runtimes)
}

func TestMetrics_ReportsGatheredFamilies(t *testing.T) {
	f := newFixture(t)
	f.ok(t, types.ServicePing, "ping", nil, nil)
	f.ok(t, types.ServicePing, "ping", nil, nil)
	f.ok(t, types.ServiceFunction, "execute", dispatcher.FunctionRequest{
		Runtime:    "javascript",
		Source:     "function main(p) { return 1; }",
		EntryPoint: "main",
	}, nil)

	var m dispatcher.MetricsResult
	f.ok(t, types.ServiceMetrics, "get", nil, &m)

	dispatched, ok := metrics.FindFamily(m.Metrics, "dispatch_dispatch_requests_total")
	require.True(t, ok, "dispatch counter missing from metrics.get")
	pings := 0.0
	for _, s := range dispatched.Metrics {
		if s.Labels["service"] == "ping" && s.Labels["status"] == "success" {
			pings += s.Value
		}
	}
	assert.Equal(t, 2.0, pings)

	executions, ok := metrics.FindFamily(m.Metrics, "dispatch_function_executions_total")
	require.True(t, ok)
	require.Len(t, executions.Metrics, 1)
	assert.Equal(t, "javascript", executions.Metrics[0].Labels["runtime"])

	inFlight, ok := metrics.FindFamily(m.Metrics, "dispatch_governor_in_flight")
	require.True(t, ok)
	assert.Equal(t, 0.0, inFlight.Metrics[0].Value)
}

func TestUrgent(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.d.Urgent(frame(t, "a", types.ServicePing, "ping", nil)))
	assert.True(t, f.d.Urgent(frame(t, "b", types.ServiceMetrics, "get", nil)))
	assert.False(t, f.d.Urgent(frame(t, "c", types.ServiceFunction, "execute", nil)))
	assert.False(t, f.d.Urgent(frame(t, "d", types.ServiceWallet, "sign", nil)))
	assert.False(t, f.d.Urgent([]byte("not json")))
}

func TestRequestCountExactUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	const workers, each = 16, 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				f.d.Dispatch(context.Background(), frame(t, "c", types.ServicePing, "ping", nil))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*each), f.counters.RequestCount())
}

// --- function ---

func TestFunction_CompileAndExecute(t *testing.T) {
	f := newFixture(t)
	src := "function add(p){return p.a+p.b}"

	var compiled dispatcher.CompileResult
	f.ok(t, types.ServiceFunction, "compile", map[string]any{"runtime": "javascript", "source": src, "entryPoint": "add"}, &compiled)
	assert.Equal(t, "javascript", compiled.Runtime)
	assert.Len(t, compiled.SourceHash, 64)

	var res types.ExecutionResult
	f.ok(t, types.ServiceFunction, "execute", map[string]any{
		"runtime": "javascript", "source": src, "entryPoint": "add",
		"params": map[string]any{"a": 5, "b": 7},
	}, &res)
	assert.Equal(t, 12.0, res.Result)
	assert.Equal(t, []string{}, res.Logs)
}

func TestFunction_PythonKeepsIntegersOverTheWire(t *testing.T) {
	f := newFixture(t)
	resp := f.call(t, "py", types.ServiceFunction, "execute", map[string]any{
		"runtime": "python", "source": "def add(p):\n    return p[\"a\"] + p[\"b\"]\n", "entryPoint": "add",
		"params": map[string]any{"a": 5, "b": 7},
	})
	require.True(t, resp.Success, resp.ErrorMessage)
	assert.JSONEq(t, `{"result":12,"logs":[]}`, string(resp.Payload))
}

func TestFunction_ErrorKinds(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name    string
		payload map[string]any
		kind    types.ErrorKind
	}{
		{"missing entry", map[string]any{"runtime": "javascript", "source": "function add(){}", "entryPoint": "sub"}, types.KindCompilation},
		{"unknown runtime", map[string]any{"runtime": "cobol", "source": "x", "entryPoint": "main"}, types.KindUnsupportedRuntime},
		{"throws", map[string]any{"runtime": "javascript", "source": "function f(){ throw new Error('bad') }", "entryPoint": "f"}, types.KindExecution},
		{"no runtime", map[string]any{"source": "x", "entryPoint": "f"}, types.KindDispatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.call(t, "e", types.ServiceFunction, "execute", tc.payload)
			assert.False(t, resp.Success)
			assert.True(t, strings.HasPrefix(resp.ErrorMessage, string(tc.kind)+":"), resp.ErrorMessage)
		})
	}
}

func TestFunction_TimeoutDoesNotBlockPing(t *testing.T) {
	f := newFixture(t)

	done := make(chan *types.Response, 1)
	go func() {
		var resp types.Response
		raw := f.d.Dispatch(context.Background(), frame(t, "slow", types.ServiceFunction, "execute", map[string]any{
			"runtime": "javascript", "source": "function spin(){ for(;;){} }", "entryPoint": "spin",
			"context": map[string]any{"maxExecutionTime": 300},
		}))
		_ = json.Unmarshal(raw, &resp)
		done <- &resp
	}()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	ping := f.call(t, "fast", types.ServicePing, "ping", nil)
	assert.True(t, ping.Success)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	select {
	case resp := <-done:
		assert.False(t, resp.Success)
		assert.Equal(t, "slow", resp.RequestID)
		assert.True(t, strings.HasPrefix(resp.ErrorMessage, "TimeoutError"), resp.ErrorMessage)
	case <-time.After(3 * time.Second):
		t.Fatal("execution did not time out")
	}
}

func TestFunction_ExecuteForEvent(t *testing.T) {
	f := newFixture(t)
	var res types.ExecutionResult
	f.ok(t, types.ServiceFunction, "executeForEvent", map[string]any{
		"runtime": "lua", "entryPoint": "onEvent",
		"source": "function onEvent() return { kind = event.type, params = params == nil } end",
		"event":  map[string]any{"type": "block"},
	}, &res)
	assert.Equal(t, map[string]any{"kind": "block", "params": true}, res.Result)
}

// --- collaborator services ---

func TestWalletFlow(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, "w0", types.ServiceWallet, "create", map[string]any{"accountId": "acct"})
	assert.False(t, resp.Success, "unknown accounts are rejected")

	f.ok(t, types.ServiceAccount, "create", map[string]any{"id": "acct", "name": "Alice"}, nil)

	var w capability.WalletInfo
	f.ok(t, types.ServiceWallet, "create", map[string]any{"accountId": "acct", "label": "hot"}, &w)
	assert.True(t, strings.HasPrefix(w.Address, "0x"))

	var signed map[string]string
	f.ok(t, types.ServiceWallet, "sign", map[string]any{"accountId": "acct", "message": "hi"}, &signed)

	var verified map[string]bool
	f.ok(t, types.ServiceWallet, "verify", map[string]any{
		"accountId": "acct", "walletId": w.ID, "message": "hi", "signature": signed["signature"],
	}, &verified)
	assert.True(t, verified["valid"])

	// user code sees the same wallet
	var res types.ExecutionResult
	f.ok(t, types.ServiceFunction, "execute", map[string]any{
		"runtime": "javascript", "entryPoint": "addr",
		"source":  "function addr(){ return wallet.getAddress() }",
		"context": map[string]any{"accountId": "acct"},
	}, &res)
	assert.Equal(t, w.Address, res.Result)
}

func TestSecretsNeverLeaveTheEnclave(t *testing.T) {
	f := newFixture(t)
	f.ok(t, types.ServiceAccount, "create", map[string]any{"id": "acct"}, nil)
	f.ok(t, types.ServiceSecrets, "set", map[string]any{"accountId": "acct", "name": "TOKEN", "value": "s3cr3t"}, nil)

	resp := f.call(t, "l", types.ServiceSecrets, "list", map[string]any{"accountId": "acct"})
	require.True(t, resp.Success)
	assert.NotContains(t, string(resp.Payload), "s3cr3t")
	assert.Contains(t, string(resp.Payload), "TOKEN")

	var res types.ExecutionResult
	f.ok(t, types.ServiceFunction, "execute", map[string]any{
		"runtime": "python", "entryPoint": "main",
		"source":  "def main():\n    return len(secrets.get(\"TOKEN\"))\n",
		"context": map[string]any{"accountId": "acct"},
	}, &res)
	assert.Equal(t, 6.0, res.Result)

	f.ok(t, types.ServiceSecrets, "delete", map[string]any{"accountId": "acct", "name": "TOKEN"}, nil)
}

func TestPriceFeedFlow(t *testing.T) {
	f := newFixture(t)
	f.ok(t, types.ServicePriceFeed, "update", map[string]any{"symbol": "neo", "price": 11.5}, nil)

	var p capability.Price
	f.ok(t, types.ServicePriceFeed, "get", map[string]any{"symbol": "NEO"}, &p)
	assert.Equal(t, 11.5, p.Value)

	resp := f.call(t, "g", types.ServicePriceFeed, "get", map[string]any{"symbol": "GAS"})
	assert.False(t, resp.Success)

	var res types.ExecutionResult
	f.ok(t, types.ServiceFunction, "execute", map[string]any{
		"runtime": "lua", "entryPoint": "main",
		"source": "function main() return priceFeed.getPrice('NEO').price end",
	}, &res)
	assert.Equal(t, 11.5, res.Result)
}
