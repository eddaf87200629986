// Package tlsutil 提供集中式 TLS 配置，
// 为开发用 TCP 传输监听、宿主客户端以及 http 能力的出站请求提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
