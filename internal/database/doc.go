// 版权所有 2024 ContentGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接管理，支持 postgres 与
sqlite 两种驱动、连接池调优与健康检查。

# 核心类型

  - Open：按配置打开连接并应用 MaxIdleConns/MaxOpenConns/
    ConnMaxLifetime 等连接池参数。
  - PoolManager：连接池管理器，提供 DB()、Ping()、Stats()、
    Close() 等生命周期方法，供就绪检查与指标采集使用。
  - PoolStats：结构化的连接池运行指标。
*/
package database
