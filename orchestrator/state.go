package orchestrator

import (
	"fmt"

	"github.com/BaSui01/ragflow/types"
)

// transitions 合法的状态迁移表。任何阶段都可迁移到 failed。
// analyzing → synthesizing 是寒暄短路：无需检索即可作答。
var transitions = map[types.Stage][]types.Stage{
	types.StageAnalyzing:    {types.StageRouting, types.StageSynthesizing},
	types.StageRouting:      {types.StageRetrieving},
	types.StageRetrieving:   {types.StageGrading},
	types.StageGrading:      {types.StageRewriting, types.StageValidating},
	types.StageRewriting:    {types.StageRetrieving},
	types.StageValidating:   {types.StageSynthesizing},
	types.StageSynthesizing: {types.StageDone},
}

// CanTransition 返回 from → to 是否为合法迁移。
func CanTransition(from, to types.Stage) bool {
	if to == types.StageFailed {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition 执行一次状态迁移：校验合法性、记录轨迹并递增步数。
// 调用方在迁移后写检查点。
func Transition(qc *types.QueryContext, to types.Stage) error {
	if !CanTransition(qc.Stage, to) {
		return types.NewError(types.ErrInternalError,
			fmt.Sprintf("illegal stage transition %s -> %s", qc.Stage, to))
	}
	qc.Touch(to)
	qc.Step++
	return nil
}
