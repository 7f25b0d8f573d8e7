/*
Package types 提供 ragflow 的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包，为 rag、pipeline、orchestrator、
api 等上层模块提供统一的类型契约。所有跨包共享的结构体、枚举和错误码均
定义于此，以避免循环依赖。

# 核心类型

  - Passage           — 不可变检索片段（文档 / 图谱 / 网页三种来源）
  - QueryContext      — 单次请求的工作流状态，按阶段序列化为检查点
  - QueryAnalysis     — 意图分析结果（intent / entities / complexity）
  - Session / Turn    — 会话与对话轮次
  - Error / ErrorCode — 结构化错误体系，含 Retryable 标记
  - JSONSchema        — 结构化输出的 JSON Schema 约束
*/
package types
