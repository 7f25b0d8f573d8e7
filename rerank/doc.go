// Package rerank 提供交叉编码器重排能力。
//
// Chain 按配置顺序依次尝试多个提供者：主 reranker 失败或超时即回退到
// 下一个；全部失败时调用方保留融合排序，降级但不失败整个请求。
package rerank
