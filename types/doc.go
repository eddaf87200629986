// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 EnclaveFlow 全局共享的数据模型。

# 概述

types 是最底层的公共包，不依赖任何内部包。传输层、调度器、执行器与各
运行时适配器都通过这里定义的结构体交换数据，以避免循环依赖。

# 核心类型

  - Request / Response：线路信封（RequestID、ServiceType、Operation、Payload）
  - ServiceType：调度表的键（ping、metrics、function、wallet ...）
  - ExecutionContext：单次执行的上下文（函数、账户、超时、环境变量、事件）
  - ExecutionResult：执行结果值树 + 按调用顺序捕获的日志
  - Event：事件触发调用的结构
  - Error / ErrorKind：封闭的错误分类（Protocol、Dispatch、Compilation ...）

# 值树

所有跨越沙箱边界的值都会被 Normalize 成统一的值树：
nil、bool、float64、int64、string、[]any、map[string]any。
NumbersAsFloat 模式把所有数字统一为 float64。
*/
package types
