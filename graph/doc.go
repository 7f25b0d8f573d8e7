// Package graph 实现知识图谱检索策略。
//
// 图数据库是外部协作方：Client 以结构化遍历查询换取实体与关系路径，
// Retriever 把结果适配为 source=graph 的 Passage 供融合与重排使用。
package graph
