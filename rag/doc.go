// Package rag 实现检索引擎：Max-Min 语义分块、BM25 稀疏索引、
// 稠密向量索引、RRF 排名融合与交叉编码器重排组成的混合检索。
//
// 索引时：Chunker 将文档切成语义连贯的 Passage 并写入向量索引与稀疏索引。
// 查询时：HybridRetriever 并行执行稠密/稀疏两路检索，RRF 融合后经
// 重排链得到最终 top-k。重排失败时保留融合排序并标记降级。
package rag
