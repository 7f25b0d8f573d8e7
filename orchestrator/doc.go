// Package orchestrator 实现查询处理的监督状态机。
//
// 阶段序列 analyzing → routing → retrieving → grading →
// (rewriting → retrieving)* → validating → synthesizing → done，
// 终态为 done / failed。每次状态迁移后把完整 QueryContext 写入
// redis 检查点，任意 worker 都能从最近一次已提交的步骤恢复；
// 会话级租约保证同一会话同一时刻只有一个 worker 在推进状态机。
package orchestrator
