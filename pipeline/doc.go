// Package pipeline 实现工作流的各个阶段：意图分析、策略路由、
// 结果评分、查询改写、答案验证与最终合成。
//
// 每个阶段是一个围绕外部判断/生成能力（llm.Provider）的小结构体，
// 阶段自身不做模型推断，只负责提示词、结构化输出与降级策略。
// 阶段之间不直接通信，状态流转由 orchestrator 驱动。
package pipeline
