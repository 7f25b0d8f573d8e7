package pipeline

import (
	"reflect"
	"testing"

	"github.com/BaSui01/ragflow/types"
)

func TestRouteDecisionTable(t *testing.T) {
	tests := []struct {
		name     string
		analysis types.QueryAnalysis
		want     []types.RetrievalStrategy
	}{
		{
			name: "multi-entity moderate goes graph first",
			analysis: types.QueryAnalysis{
				Entities:   []string{"kubernetes", "docker"},
				Complexity: types.ComplexityModerate,
			},
			want: []types.RetrievalStrategy{types.StrategyGraph, types.StrategyVector},
		},
		{
			name: "multi-entity multi-hop goes graph first",
			analysis: types.QueryAnalysis{
				Entities:   []string{"a", "b", "c"},
				Complexity: types.ComplexityMultiHop,
			},
			want: []types.RetrievalStrategy{types.StrategyGraph, types.StrategyVector},
		},
		{
			name: "multi-entity simple stays vector only",
			analysis: types.QueryAnalysis{
				Entities:   []string{"a", "b"},
				Complexity: types.ComplexitySimple,
			},
			want: []types.RetrievalStrategy{types.StrategyVector},
		},
		{
			name: "time sensitive adds live web",
			analysis: types.QueryAnalysis{
				TimeSensitive: true,
				Complexity:    types.ComplexitySimple,
			},
			want: []types.RetrievalStrategy{types.StrategyWeb, types.StrategyVector},
		},
		{
			name: "first match wins over later rows",
			analysis: types.QueryAnalysis{
				Entities:      []string{"a", "b"},
				Complexity:    types.ComplexityModerate,
				TimeSensitive: true,
				RequiresCode:  true,
			},
			want: []types.RetrievalStrategy{types.StrategyGraph, types.StrategyVector},
		},
		{
			name: "code queries stay on documents",
			analysis: types.QueryAnalysis{
				RequiresCode: true,
				Complexity:   types.ComplexityModerate,
			},
			want: []types.RetrievalStrategy{types.StrategyVector},
		},
		{
			name: "single-entity multi-hop adds graph",
			analysis: types.QueryAnalysis{
				Entities:   []string{"a"},
				Complexity: types.ComplexityMultiHop,
			},
			want: []types.RetrievalStrategy{types.StrategyVector, types.StrategyGraph},
		},
		{
			name:     "default is vector only",
			analysis: types.QueryAnalysis{Complexity: types.ComplexitySimple},
			want:     []types.RetrievalStrategy{types.StrategyVector},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Route(&tt.analysis)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Route() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRouteAlwaysIncludesVector(t *testing.T) {
	analyses := []types.QueryAnalysis{
		{},
		{TimeSensitive: true},
		{Entities: []string{"a", "b"}, Complexity: types.ComplexityMultiHop},
		{RequiresCode: true},
		{Complexity: types.ComplexityMultiHop},
	}
	for _, a := range analyses {
		found := false
		for _, s := range Route(&a) {
			if s == types.StrategyVector {
				found = true
			}
		}
		if !found {
			t.Errorf("Route(%+v) missing vector strategy", a)
		}
	}
}
