// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
Package governor 为每一次运行时调用提供统一的超时、并发与内存治理。

# 概述

Governor 是核心中唯一的取消原语。每个执行单元在独立的 goroutine 中运行，
携带由 MaxExecutionTime 推导出的截止时间；到期后 Run 立即返回
TimeoutError 并取消单元的 context，适配器随之中断各自的虚拟机。
被放弃的单元只持有它自己的解释器状态，不会影响后续调用。

# 并发与内存

  - semaphore.Weighted 限制在途执行数，等待名额的时间计入截止时间。
  - MaxMemory 为建议值：通过 runtime/metrics 采样堆分配量，超出时记录警告。
  - 单元内的 panic 被恢复并转换为 ExecutionError。
*/
package governor
