// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
Package capability 定义沙箱内用户代码唯一可见的能力集合。

# 概述

每次执行都会通过 Provider.Bind 得到一个新的 Set。Set 由若干命名对象
（wallet、secrets、priceFeed、storage、http、utils）与只读的 env 组成。
运行时适配器把这些对象翻译为各自语言的原生对象，方法调用统一为：

	obj.method(arg1, arg2, ...)

同步返回转换后的值，或抛出运行时错误（由执行器归类为 ExecutionError）。

# 协作方契约

  - Wallet：列出钱包、对消息签名
  - Secrets：按账户读取密文
  - PriceFeed：最新价格
  - Storage：按账户与函数隔离的键值存储（MemoryStorage / RedisStorage）
  - HTTPClient：主机白名单 + 限流 + 响应体上限的出站请求

除此之外，用户代码无法触及文件系统、进程或网络。
*/
package capability
