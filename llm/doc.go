// Package llm 封装判断/生成能力的窄接口。
//
// 意图分析、结果评分、查询改写、声明验证与答案合成都通过同一个
// Provider 接口调用外部模型；结构化输出按 JSON Schema 约束解析，
// 畸形响应拒绝并重试一次后才视为失败。
package llm
