// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
Package dispatcher 是 enclave 的传输调度器：把入站字节信封解码为
types.Request，按 ServiceType 与 Operation 查固定的处理表，并把结果
编码为 types.Response 字节。

# 失败契约

  - 信封无法解码或缺少 RequestID：ProtocolError，RequestID 为 "unknown"。
  - 未知的 ServiceType 或 Operation：DispatchError，保留真实 RequestID。
  - 处理器内的任何 panic 都被恢复并降级为通用的 InternalError 响应，
    堆栈只写入 enclave 日志，进程永不退出。

# 可观测性

每次调度恰好使 Counters.RequestCount 加一（包括无法解码的帧），
在 OpenTelemetry span "dispatcher.Dispatch" 中运行，并通过
metrics.Collector 记录按 service/operation/status 的计数与耗时。
*/
package dispatcher
