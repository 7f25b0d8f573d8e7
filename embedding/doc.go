// Package embedding 提供统一的嵌入能力接口和实现。
// 同一模型版本下，相同输入必须产生相同向量；查询嵌入可选 TTL 缓存。
package embedding
