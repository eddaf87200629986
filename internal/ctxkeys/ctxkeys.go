// Package ctxkeys carries request-scoped identifiers through context.Context.
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	serviceKey     contextKey = "service"
	operationKey   contextKey = "operation"
	functionIDKey  contextKey = "function_id"
	accountIDKey   contextKey = "account_id"
	executionIDKey contextKey = "execution_id"
)

// WithRequestID 设置 RequestID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 获取 RequestID
func RequestID(ctx context.Context) (string, bool) {
	return get(ctx, requestIDKey)
}

// WithRoute 设置服务类型与操作名
func WithRoute(ctx context.Context, service, operation string) context.Context {
	ctx = context.WithValue(ctx, serviceKey, service)
	return context.WithValue(ctx, operationKey, operation)
}

// Route 获取服务类型与操作名
func Route(ctx context.Context) (service, operation string) {
	service, _ = get(ctx, serviceKey)
	operation, _ = get(ctx, operationKey)
	return service, operation
}

// WithFunction 设置函数与账户 ID
func WithFunction(ctx context.Context, functionID, accountID string) context.Context {
	ctx = context.WithValue(ctx, functionIDKey, functionID)
	return context.WithValue(ctx, accountIDKey, accountID)
}

// WithExecutionID 设置单次执行 ID
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// ExecutionID 获取单次执行 ID
func ExecutionID(ctx context.Context) (string, bool) {
	return get(ctx, executionIDKey)
}

// LogFields returns zap fields for every identifier present in ctx.
func LogFields(ctx context.Context) []zap.Field {
	keys := []contextKey{requestIDKey, serviceKey, operationKey, functionIDKey, accountIDKey, executionIDKey}
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if v, ok := get(ctx, k); ok {
			fields = append(fields, zap.String(string(k), v))
		}
	}
	return fields
}

func get(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
