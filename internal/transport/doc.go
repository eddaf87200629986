// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
包 transport 提供宿主与 enclave 之间的长度前缀帧传输。

# 概述

每一帧由 4 字节大端长度与 JSON 信封组成，单帧上限可配置（默认 8 MiB）。
Server 在 vsock 或 TCP（可选 TLS）上监听，连接数由
netutil.LimitListener 限制。每个连接的读循环把帧交给 pool.GoroutinePool
并发处理，响应在连接级互斥锁下写回，因此一次长时间的执行不会阻塞同一连接
或其他连接上的 ping。工作池饱和时，请求立即以 DispatchError 拒绝。

Client 供宿主侧与命令行使用：按 requestId 匹配乱序到达的响应，空 requestId
自动填充 uuid。

# 核心类型

  - Server：监听、接入、关闭与信号处理。
  - Client：Dial / Call / Close。
  - ReadFrame / WriteFrame：帧编解码，超限返回 ErrFrameTooLarge。
*/
package transport
