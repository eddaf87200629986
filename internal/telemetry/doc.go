// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 enclave 提供 TracerProvider 与 MeterProvider。
// 禁用时保留全局 noop 实现，不连接任何外部服务；dispatcher 的
// span 通过全局 Tracer 自动接入。
package telemetry
