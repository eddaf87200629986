// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
包 pool 提供传输层使用的工作协程池与对象池。

# 概述

GoroutinePool 按需扩容工作协程，直至 MaxWorkers；队列满时 Submit
立即返回 ErrPoolFull，由调用方决定如何拒绝请求。空闲超过 IdleTimeout
的协程会退出，但始终保留至少一个。任务中的 panic 被恢复并记录日志。

Pool[T] 是带统计信息的 sync.Pool 泛型包装，BufferPool 用于组装
长度前缀帧，避免每次写入都分配缓冲区。

# 核心类型

  - GoroutinePool：有界工作协程池，提供 Submit / Close / Stats。
  - GoroutinePoolStats：提交、完成、失败、拒绝计数。
  - Pool[T]：带 Get/Put 计数的对象池。
*/
package pool
