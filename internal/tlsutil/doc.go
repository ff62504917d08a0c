// Package tlsutil 提供集中式 TLS 配置，
// 为审核 provider 与对象存储上传器的出站 HTTP 客户端提供安全加固的
// TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
