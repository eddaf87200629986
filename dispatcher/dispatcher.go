package dispatcher

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/executor"
	"github.com/BaSui01/enclaveflow/internal/ctxkeys"
	"github.com/BaSui01/enclaveflow/internal/metrics"
	"github.com/BaSui01/enclaveflow/services"
	"github.com/BaSui01/enclaveflow/types"
)

const tracerName = "github.com/BaSui01/enclaveflow/dispatcher"

// HandlerFunc serves one operation. The returned value is JSON-encoded into
// the response payload.
type HandlerFunc func(ctx context.Context, payload []byte) (any, error)

// Deps are the collaborators the built-in handlers route to. Nil services
// leave their ServiceType unregistered.
type Deps struct {
	Executor *executor.Executor
	Accounts *services.AccountRegistry
	Wallets  *services.WalletService
	Secrets  *services.SecretStore
	Prices   *services.PriceFeed
	Counters *metrics.Counters
}

// Dispatcher routes request envelopes. It is safe for concurrent use; the
// handler table must be complete before the first Dispatch.
type Dispatcher struct {
	handlers  map[types.ServiceType]map[string]HandlerFunc
	deps      Deps
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCollector records dispatch metrics.
func WithCollector(c *metrics.Collector) Option {
	return func(d *Dispatcher) { d.collector = c }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// New builds a dispatcher with the built-in handler table.
func New(deps Deps, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Counters == nil {
		deps.Counters = metrics.NewCounters()
	}
	d := &Dispatcher{
		handlers: make(map[types.ServiceType]map[string]HandlerFunc),
		deps:     deps,
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With(zap.String("component", "dispatcher")),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.registerBuiltins()
	return d
}

// Handle registers h for service/operation, replacing any previous handler.
func (d *Dispatcher) Handle(service types.ServiceType, operation string, h HandlerFunc) {
	ops, ok := d.handlers[service]
	if !ok {
		ops = make(map[string]HandlerFunc)
		d.handlers[service] = ops
	}
	ops[operation] = h
}

// Counters returns the process-wide counters.
func (d *Dispatcher) Counters() *metrics.Counters {
	return d.deps.Counters
}

// Dispatch decodes frame, runs the matching handler and returns the encoded
// response. It never panics and always returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, frame []byte) []byte {
	d.deps.Counters.IncRequests()
	return encode(d.handle(ctx, frame))
}

// Reject encodes a failed response for a frame that will not be dispatched,
// for example when the transport is saturated. It still counts the request.
func (d *Dispatcher) Reject(frame []byte, reason string) []byte {
	d.deps.Counters.IncRequests()
	var head struct {
		RequestID string `json:"requestId"`
	}
	_ = json.Unmarshal(frame, &head)
	return encode(types.Fail(head.RequestID, types.NewError(types.KindDispatch, reason)))
}

// Urgent reports whether frame is a ping or metrics request. Both are
// answered from memory, so the transport serves them outside its worker pool.
func (d *Dispatcher) Urgent(frame []byte) bool {
	var head struct {
		ServiceType types.ServiceType `json:"serviceType"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return false
	}
	return head.ServiceType == types.ServicePing || head.ServiceType == types.ServiceMetrics
}

func (d *Dispatcher) handle(ctx context.Context, frame []byte) (resp *types.Response) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "dispatcher.Dispatch")
	defer span.End()

	var req types.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		d.logger.Debug("undecodable request", zap.Int("bytes", len(frame)), zap.Error(err))
		span.SetStatus(codes.Error, "protocol error")
		return types.Fail(types.UnknownRequestID, types.Errorf(types.KindProtocol, "malformed request envelope: %v", err))
	}
	if req.RequestID == "" {
		span.SetStatus(codes.Error, "protocol error")
		return types.Fail(types.UnknownRequestID, types.NewError(types.KindProtocol, "request id is required"))
	}

	service, operation := string(req.ServiceType), req.Operation
	ctx = ctxkeys.WithRequestID(ctx, req.RequestID)
	ctx = ctxkeys.WithRoute(ctx, service, operation)
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("service", service),
		attribute.String("operation", operation),
	)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				append(ctxkeys.LogFields(ctx),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))...)
			resp = types.Fail(req.RequestID, types.NewError(types.KindInternal, "internal error"))
		}
		span.SetAttributes(attribute.Bool("success", resp.Success))
		if !resp.Success {
			span.SetStatus(codes.Error, resp.ErrorMessage)
		}
		d.collector.RecordDispatch(service, operation, resp.Success, time.Since(start))
	}()

	ops, ok := d.handlers[req.ServiceType]
	if !ok {
		return types.Fail(req.RequestID, types.Errorf(types.KindDispatch, "unknown service type %q", service))
	}
	h, ok := ops[operation]
	if !ok {
		return types.Fail(req.RequestID, types.Errorf(types.KindDispatch, "unknown operation %q for service %q", operation, service))
	}

	result, err := h(ctx, req.Payload)
	if err != nil {
		e := types.WrapError(err, types.KindExecution)
		fields := append(ctxkeys.LogFields(ctx), zap.String("kind", string(e.Kind)), zap.String("error", e.Message))
		if e.Detail != "" {
			fields = append(fields, zap.String("detail", e.Detail))
		}
		d.logger.Debug("request failed", fields...)
		return types.Fail(req.RequestID, e)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		d.logger.Error("response payload is not encodable", append(ctxkeys.LogFields(ctx), zap.Error(err))...)
		return types.Fail(req.RequestID, types.NewError(types.KindInternal, "internal error"))
	}
	return types.OK(req.RequestID, payload)
}

// fallbackResponse is used only if a Response itself cannot be encoded.
var fallbackResponse = []byte(`{"requestId":"unknown","success":false,"errorMessage":"InternalError: internal error"}`)

func encode(resp *types.Response) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		return fallbackResponse
	}
	return out
}

// decodePayload decodes an operation payload. Numbers become json.Number so
// integers survive until the runtime decides how to surface them. An empty
// payload decodes as an empty object.
func decodePayload(payload []byte, v any) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := types.UnmarshalTree(payload, v); err != nil {
		return types.Errorf(types.KindDispatch, "invalid payload: %v", err)
	}
	return nil
}

func required(field, value string) error {
	if value == "" {
		return types.Errorf(types.KindDispatch, "invalid payload: %s is required", field)
	}
	return nil
}
