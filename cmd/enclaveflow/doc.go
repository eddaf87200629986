// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 enclaveflow 的可执行入口。

# 概述

serve 子命令在 enclave 内启动函数执行引擎：加载配置、初始化日志与遥测、
组装运行时注册表、治理器、能力提供者、内置服务、执行器与调度器，并在
vsock 或 TCP 上提供帧传输。ping、metrics 与 exec 子命令在宿主侧通过
同一传输协议访问 enclave。

# 主要能力

  - 子命令：serve、ping、metrics、exec、version
  - 配置：YAML + ENCLAVEFLOW_* 环境变量覆盖，启动前校验
  - 优雅关闭：信号监听 → 排空在途请求 → 关闭存储 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
