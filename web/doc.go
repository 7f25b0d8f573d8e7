// Package web 实现实时网页搜索策略。
//
// 搜索 API 是外部协作方：SearchFunc 把检索实现与具体提供者解耦，
// Retriever 将片段适配为 source=web 的 Passage。
package web
