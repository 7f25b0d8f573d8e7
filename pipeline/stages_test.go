package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/types"
)

// scriptedProvider 按顺序返回预置响应，响应耗尽后返回错误。
type scriptedProvider struct {
	responses []string
	err       error
	calls     int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.calls >= len(s.responses) {
		return nil, errors.New("script exhausted")
	}
	resp := &llm.CompletionResponse{Text: s.responses[s.calls]}
	s.calls++
	return resp, nil
}

func TestAnalyzerParsesStructuredOutput(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"intent":"comparison","entities":["redis","memcached"],"complexity":"moderate","time_sensitive":false,"requires_code_examples":false,"ambiguity_score":0.2}`,
	}}
	a := NewAnalyzer(p, nil)

	analysis, err := a.Analyze(context.Background(), "redis vs memcached", nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis.Intent != types.IntentComparison {
		t.Errorf("intent = %s", analysis.Intent)
	}
	if len(analysis.Entities) != 2 || analysis.Complexity != types.ComplexityModerate {
		t.Errorf("unexpected analysis: %+v", analysis)
	}
}

func TestAnalyzerDegradesOnFailure(t *testing.T) {
	p := &scriptedProvider{err: errors.New("llm down")}
	a := NewAnalyzer(p, nil)

	analysis, err := a.Analyze(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("Analyze must not fail on capability error: %v", err)
	}
	if analysis.Intent != types.IntentFactualQA || analysis.Complexity != types.ComplexitySimple {
		t.Errorf("expected conservative default, got %+v", analysis)
	}
	if analysis.Entities == nil {
		t.Error("Normalize must leave entities non-nil")
	}
}

func passagesWithScores(scores ...float64) []types.Passage {
	out := make([]types.Passage, len(scores))
	for i, s := range scores {
		out[i] = types.Passage{ID: string(rune('a' + i)), Text: "passage text", Score: s}
	}
	return out
}

func TestGraderAggregatesJudgment(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{"relevant":[true,false,true],"reason":"second misses the entity"}`}}
	g := NewGrader(p, nil)

	report, err := g.Grade(context.Background(), "q", passagesWithScores(0.9, 0.8, 0.7))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	// 权重 1, 1/2, 1/3 → (1 + 1/3) / (1 + 1/2 + 1/3)
	want := (1.0 + 1.0/3.0) / (1.0 + 0.5 + 1.0/3.0)
	if diff := report.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score = %v, want %v", report.Score, want)
	}
	if report.Reason == "" || report.Fallback {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestGraderFallbackOnJudgmentFailure(t *testing.T) {
	p := &scriptedProvider{err: errors.New("judgment down")}
	g := NewGrader(p, nil)

	report, err := g.Grade(context.Background(), "q", passagesWithScores(0.6, 0.4))
	if err != nil {
		t.Fatalf("Grade must degrade, not fail: %v", err)
	}
	if !report.Fallback {
		t.Error("fallback flag must be set")
	}
	for _, r := range report.Relevant {
		if !r {
			t.Error("degraded grading treats all passages as relevant")
		}
	}
	if diff := report.Score - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("degraded score = mean retrieval score, got %v", report.Score)
	}
}

func TestGraderFlagCountMismatchDegrades(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{"relevant":[true]}`, `{"relevant":[true]}`}}
	g := NewGrader(p, nil)

	report, err := g.Grade(context.Background(), "q", passagesWithScores(0.5, 0.5, 0.5))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if !report.Fallback {
		t.Error("length mismatch must trigger fallback")
	}
}

func TestGraderEmptyCandidates(t *testing.T) {
	g := NewGrader(&scriptedProvider{}, nil)
	report, err := g.Grade(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if report.Score != 0 {
		t.Errorf("empty candidates score = %v, want 0", report.Score)
	}
}

func TestRewriterProducesNewQuery(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{"query":"golang goroutine scheduler internals"}`}}
	r := NewRewriter(p, nil)

	got, err := r.Rewrite(context.Background(), "how does go work", "how does go work", "missing entity: scheduler")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "golang goroutine scheduler internals" {
		t.Errorf("rewritten = %q", got)
	}
}

func TestRewriterKeepsQueryOnFailure(t *testing.T) {
	r := NewRewriter(&scriptedProvider{err: errors.New("down")}, nil)
	got, err := r.Rewrite(context.Background(), "orig", "current", "")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "current" {
		t.Errorf("got %q, want current query back", got)
	}

	r = NewRewriter(&scriptedProvider{responses: []string{`{"query":"  "}`}}, nil)
	if got, _ := r.Rewrite(context.Background(), "orig", "current", ""); got != "current" {
		t.Errorf("blank rewrite must keep current query, got %q", got)
	}
}

func TestValidatorReportsUnsupportedClaims(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{"supported":[true,false]}`}}
	v := NewValidator(p, nil)

	evidence := []types.Passage{{ID: "p1", Text: "RAG retrieves passages before generating."}}
	report, err := v.Validate(context.Background(), "RAG retrieves passages first. RAG was invented in 1950.", evidence)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.TotalClaims != 2 || report.SupportedCount != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", report.Confidence)
	}
	if len(report.UnsupportedClaims) != 1 || report.UnsupportedClaims[0] != "RAG was invented in 1950." {
		t.Errorf("unsupported = %v", report.UnsupportedClaims)
	}
}

func TestValidatorFailureMarksAllUnsupported(t *testing.T) {
	v := NewValidator(&scriptedProvider{err: errors.New("down")}, nil)
	report, err := v.Validate(context.Background(), "One claim. Another claim.", []types.Passage{{ID: "p1", Text: "t"}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.Fallback || report.Confidence != 0 || len(report.UnsupportedClaims) != 2 {
		t.Errorf("unexpected degraded report: %+v", report)
	}
}

func TestValidatorNoEvidence(t *testing.T) {
	v := NewValidator(&scriptedProvider{}, nil)
	report, err := v.Validate(context.Background(), "A claim.", nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Confidence != 0 || len(report.UnsupportedClaims) != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestSynthesizerBuildsCitationsFromEvidence(t *testing.T) {
	p := &scriptedProvider{responses: []string{"RAG retrieves supporting passages before generation."}}
	s := NewSynthesizer(p, nil)

	evidence := []types.Passage{
		{ID: "p1", DocumentID: "doc1", ChunkIndex: 2, Text: "RAG definition", Source: types.SourceDocument, Score: 0.95},
		{ID: "web:x", Text: "web snippet", Source: types.SourceWeb, Score: 0.5,
			Metadata: map[string]any{"url": "https://x.example", "title": "X"}},
	}
	answer, citations, err := s.Synthesize(context.Background(), "what is rag", evidence, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if answer == "" {
		t.Fatal("empty answer")
	}
	if len(citations) != 2 {
		t.Fatalf("got %d citations, want 2", len(citations))
	}
	if citations[0].PassageID != "p1" || citations[0].Locator != "doc1#2" {
		t.Errorf("citation[0] = %+v", citations[0])
	}
	if citations[1].Locator != "https://x.example" || citations[1].Title != "X" {
		t.Errorf("citation[1] = %+v", citations[1])
	}

	ids := map[string]bool{"p1": true, "web:x": true}
	for _, c := range citations {
		if !ids[c.PassageID] {
			t.Errorf("citation %s not in evidence set", c.PassageID)
		}
	}
}

func TestTrimUnsupported(t *testing.T) {
	answer := "Supported claim one. Bogus claim here. Supported claim two."
	report := &types.ValidationReport{UnsupportedClaims: []string{"Bogus claim here."}}

	trimmed := TrimUnsupported(answer, report)
	if trimmed != "Supported claim one. Supported claim two." {
		t.Errorf("trimmed = %q", trimmed)
	}

	if got := TrimUnsupported(answer, nil); got != answer {
		t.Errorf("nil report must keep answer, got %q", got)
	}
	if got := TrimUnsupported(answer, &types.ValidationReport{}); got != answer {
		t.Errorf("clean report must keep answer, got %q", got)
	}
}
