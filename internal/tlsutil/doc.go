// Package tlsutil 为出站 HTTP 客户端（LLM 网关、Milvus REST）与 HTTPS 监听
// 提供统一的 TLS 加固配置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
