// 版权所有 2024 ContentGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 handlers 实现 ContentGuard 的 HTTP 处理层，覆盖文本/图像审核、
审核历史、用户设置、外部 API 密钥管理与健康检查。

# 概述

所有响应统一为 Response 信封（success/data/error/timestamp），错误
经由 types.Error 的错误码映射到 HTTP 状态码。审核处理器编排完整的
审核管线：读取用户设置 → 调用上游适配器 → 判定 → 归档被标记图像 →
写审核日志。外部 API 处理器复用同一条管线，身份来自 x-api-key 网关，
并支持每次调用的设置覆盖（逐字段合并）。

# 降级语义

审核日志写入失败不会让审核调用失败：响应携带临时 ID 且 persisted
为 false。设置读取失败回退到文档化的默认值。
*/
package handlers
