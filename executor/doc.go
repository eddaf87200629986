// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
Package executor 是函数执行器：按运行时标识查找适配器，编排 Compile、
Execute 与 ExecuteForEvent，并把所有运行时故障规范化为 types.Error。

# 概述

Executor 自身不做实质性工作：编译交给适配器，计时与取消交给
governor.Governor。每次调用都会获得新的执行 ID、日志缓冲区与能力集合，
CompiledFunction 只读且可在并发调用间复用，由调用方持有。

# 统计

Stats 记录总数、成功、失败与超时次数及累计耗时；配置了
metrics.Collector 时同时上报 Prometheus 指标。
*/
package executor
