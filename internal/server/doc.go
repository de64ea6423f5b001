// Copyright (c) KnowledgeFlow Authors.
// Licensed under the MIT License.

/*
包 server 管理 HTTP 服务器生命周期：非阻塞启动、优雅关闭与信号监听。

knowledgeflow 进程持有两个 Manager：对外 API（聊天、SSE、WebSocket、
检索、会话）与独立端口上的 Prometheus /metrics。

  - Start/StartTLS：后台 goroutine 中运行服务，StartTLS 使用
    tlsutil 加固配置。
  - Wait：ctx 结束、SIGINT/SIGTERM 或服务异常时触发优雅关闭。
  - Shutdown：在 ShutdownTimeout 内排空连接，可重复调用。
  - Addr：返回实际监听地址，便于 ":0" 场景测试。
*/
package server
