/*
Package main 提供 ragflow 服务端程序入口。

# 概述

cmd/ragflow 是 ragflow 查询服务的可执行入口，提供 HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、结构化日志
（zap + lumberjack 轮转）、Prometheus 指标采集和 OpenTelemetry 追踪。

# 核心类型

  - Server          — 主服务器，装配全部依赖并管理 HTTP、Metrics 双端口
  - Middleware      — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter  — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware（路径归一化防标签爆炸）、OTelTracing
  - 依赖装配：Redis（检查点/租约/会话）、元数据库（sqlite/postgres）、
    向量索引（memory/qdrant/pgvector）、重排回退链、图谱与网页检索
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 释放共享资源
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
