// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
包 config 提供 enclaveflow 的配置加载与校验。

# 概述

配置优先级为：默认值 → YAML 文件 → 环境变量。环境变量名由前缀
ENCLAVEFLOW 与各级 env 标签拼接而成，例如
ENCLAVEFLOW_TRANSPORT_NETWORK、ENCLAVEFLOW_GOVERNOR_MAX_CONCURRENT。
切片字段使用逗号分隔，时长字段使用 time.ParseDuration 语法。

# 配置分区

  - transport：监听网络（vsock/tcp）、连接上限、帧大小、工作池。
  - governor：默认与最大超时、并发上限、日志行数上限。
  - runtimes：启用的运行时及各自的解释器参数。
  - storage：memory 或 redis 键值存储。
  - http：出站 HTTP 能力的主机白名单与限流。
  - secrets：密钥封存主密钥（hex）。
  - log / telemetry / metrics：可观测性设置。
*/
package config
