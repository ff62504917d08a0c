// 版权所有 2024 ContentGuard Authors
//
// Package config 提供 ContentGuard 的统一配置加载。
//
// 配置来源按优先级从低到高依次为默认值、YAML 文件、环境变量
// （前缀 CONTENTGUARD，嵌套字段用下划线连接，如
// CONTENTGUARD_SERVER_HTTP_PORT）。
package config
