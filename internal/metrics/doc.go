// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供进程级计数器与基于 Prometheus 的分维度指标。

# 概述

Counters 在 enclave 启动时创建一次，生命周期与进程相同：RequestCount
原子自增，Snapshot 汇总运行时长、CPU 时间（procfs）与内存。它们只通过
ping 与 metrics 两个服务对外只读暴露，进程重启后才会归零。

Collector 使用 promauto.With 注册到调用方给定的 Registerer，按
namespace 隔离，enclave 内不开放 HTTP 抓取端点，注册表内容经 metrics 服务读出。

# 核心类型

  - Counters：请求计数、启动时间与资源采样。
  - Snapshot：metrics 操作返回的只读快照。
  - Collector：调度、执行与治理器在途数的 Prometheus 指标。

# 主要能力

  - 调度指标：按 service/operation/status 计数，记录耗时直方图。
  - 执行指标：按 runtime/status 计数，记录耗时直方图。
  - 治理器指标：在途执行数 Gauge。
  - 池指标：ObservePool / ObserveBuffers 在采集时读取传输层请求池与帧缓冲池的统计。
  - 导出：Families 采集注册表，供 metrics 服务以 JSON 返回。
*/
package metrics
