// Copyright (c) KnowledgeFlow Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库打开与连接池管理，支持健康检查、
统计信息采集与事务执行。

# 概述

Open 按驱动名（postgres / mysql / sqlite）构建方言并打开连接；
sqlite 使用 glebarez/sqlite 纯 Go 驱动。PoolManager 统一管理连接
生命周期、空闲回收与最大连接数限制，后台健康检查定时探活并上报
连接数指标。

# 核心类型

  - PoolManager：连接池管理器，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：连接池配置，Validate 校验空闲数不超过打开数。
  - TransactionFunc：事务回调函数类型。
*/
package database
