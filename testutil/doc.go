// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
包 testutil 提供 EnclaveFlow 测试的共享工具和辅助函数。

# 概述

testutil 为各包的单元测试提供统一的上下文、断言与数据辅助，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual / AssertErrorKind / AssertEventuallyTrue
  - 数据工具: MustJSON / MustParseJSON / WaitForChannel

# 子包

  - testutil/mocks: MockStorage，支持错误注入与调用计数的键值存储
  - testutil/fixtures: 三种运行时下语义一致的函数源码样例
*/
package testutil
