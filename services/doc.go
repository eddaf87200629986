// Copyright (c) EnclaveFlow Authors.
// Licensed under the MIT License.

/*
Package services 提供 enclave 内部的协作服务参考实现。

# 概述

用户代码通过 capability 包中的 wallet、secrets、priceFeed 对象访问这些
服务；宿主则通过调度器的 wallet、secrets、priceFeed、account 服务类型
管理它们。所有状态保存在 enclave 内存中，随进程退出而消失。

# 核心类型

  - AccountRegistry：enclave 已知的账户。
  - WalletService：每个账户的 ECDSA P-256 密钥，签名与验签。
  - SecretStore：按账户隔离、AES-GCM 加密保存的密钥值，值永不离开 enclave。
  - PriceFeed：最新价格表，由宿主推送更新。
*/
package services
