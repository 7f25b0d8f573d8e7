package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/pipeline"
	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/types"
)

// ---- 阶段能力桩 ----

type stubAnalyzer struct {
	analysis *types.QueryAnalysis
	history  []types.Turn
}

func (a *stubAnalyzer) Analyze(_ context.Context, _ string, history []types.Turn) (*types.QueryAnalysis, error) {
	a.history = history
	out := *a.analysis
	out.Normalize()
	return &out, nil
}

// scriptedGrader 按调用次数依次返回预设分数，超出后重复最后一个。
type scriptedGrader struct {
	scores []float64
	calls  int
}

func (g *scriptedGrader) Grade(_ context.Context, _ string, passages []types.Passage) (*types.GradingReport, error) {
	if len(passages) == 0 {
		g.calls++
		return &types.GradingReport{Score: 0, Relevant: []bool{}}, nil
	}
	idx := g.calls
	if idx >= len(g.scores) {
		idx = len(g.scores) - 1
	}
	g.calls++

	relevant := make([]bool, len(passages))
	for i := range relevant {
		relevant[i] = true
	}
	return &types.GradingReport{Score: g.scores[idx], Relevant: relevant, Reason: "insufficient coverage"}, nil
}

type stubRewriter struct {
	rewritten string
	calls     int
}

func (r *stubRewriter) Rewrite(_ context.Context, _, currentQuery, _ string) (string, error) {
	r.calls++
	if r.rewritten == "" {
		return currentQuery, nil
	}
	return r.rewritten, nil
}

// stubValidator 把 unsupported 列表里的句子标记为无支撑，其余全部支撑。
type stubValidator struct {
	unsupported []string
}

func (v *stubValidator) Validate(_ context.Context, draft string, _ []types.Passage) (*types.ValidationReport, error) {
	claims := rag.SplitSentences(draft)
	report := &types.ValidationReport{TotalClaims: len(claims)}
	bad := map[string]bool{}
	for _, c := range v.unsupported {
		bad[c] = true
	}
	for _, c := range claims {
		if bad[c] {
			report.UnsupportedClaims = append(report.UnsupportedClaims, c)
		} else {
			report.SupportedCount++
		}
	}
	if report.TotalClaims > 0 {
		report.Confidence = float64(report.SupportedCount) / float64(report.TotalClaims)
	}
	return report, nil
}

type stubSynthesizer struct {
	answer   string
	calls    int
	evidence []types.Passage
}

func (s *stubSynthesizer) Synthesize(_ context.Context, _ string, evidence []types.Passage, _ []types.Turn) (string, []types.Citation, error) {
	s.calls++
	s.evidence = evidence
	return s.answer, pipeline.BuildCitations(evidence), nil
}

// scriptedVector 记录每次检索的查询串，按脚本返回结果。
type scriptedVector struct {
	passages []types.Passage
	err      error
	queries  []string
}

func (v *scriptedVector) Search(_ context.Context, query string, _ int) (*rag.SearchResult, error) {
	v.queries = append(v.queries, query)
	if v.err != nil {
		return nil, v.err
	}
	return &rag.SearchResult{Passages: v.passages}, nil
}

type recordingSessions struct {
	history  []types.Turn
	appended []types.Turn
}

func (s *recordingSessions) History(_ context.Context, _ string) ([]types.Turn, error) {
	return s.history, nil
}

func (s *recordingSessions) Append(_ context.Context, _ string, turns ...types.Turn) error {
	s.appended = append(s.appended, turns...)
	return nil
}

// recordingCheckpoints 在真实存储之外留存每个已落盘状态的快照。
type recordingCheckpoints struct {
	inner CheckpointStore
	saved []types.QueryContext
}

func (r *recordingCheckpoints) Save(ctx context.Context, qc *types.QueryContext) error {
	r.saved = append(r.saved, *qc)
	return r.inner.Save(ctx, qc)
}

func (r *recordingCheckpoints) LoadLatest(ctx context.Context, sessionID string) (*types.QueryContext, error) {
	return r.inner.LoadLatest(ctx, sessionID)
}

func (r *recordingCheckpoints) LoadStep(ctx context.Context, sessionID string, step int) (*types.QueryContext, error) {
	return r.inner.LoadStep(ctx, sessionID, step)
}

func (r *recordingCheckpoints) Clear(ctx context.Context, sessionID string) error {
	return r.inner.Clear(ctx, sessionID)
}

// ---- 测试装置 ----

type fixture struct {
	analyzer    *stubAnalyzer
	grader      *scriptedGrader
	rewriter    *stubRewriter
	validator   *stubValidator
	synthesizer *stubSynthesizer
	vector      *scriptedVector
	sessions    *recordingSessions
	checkpoints *recordingCheckpoints
	lease       *Lease
	cfg         config.OrchestratorConfig
}

func docPassage(id, docID, text string) types.Passage {
	return types.Passage{ID: id, DocumentID: docID, Text: text, Source: types.SourceDocument, Score: 0.9}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr := newTestCache(t)
	return &fixture{
		analyzer: &stubAnalyzer{analysis: &types.QueryAnalysis{
			Intent:     types.IntentFactualQA,
			Complexity: types.ComplexitySimple,
		}},
		grader:      &scriptedGrader{scores: []float64{0.9}},
		rewriter:    &stubRewriter{rewritten: "rewritten query"},
		validator:   &stubValidator{},
		synthesizer: &stubSynthesizer{answer: "Raft elects a single leader per term."},
		vector:      &scriptedVector{passages: []types.Passage{docPassage("p1", "doc-1", "Raft elects a leader")}},
		sessions:    &recordingSessions{},
		checkpoints: &recordingCheckpoints{inner: NewRedisCheckpointStore(mgr, time.Hour, nil)},
		lease:       NewLease(mgr, time.Minute, nil),
		cfg: config.OrchestratorConfig{
			RewriteThreshold:  0.7,
			MaxRewrites:       2,
			StrategyTimeout:   time.Second,
			CandidatePoolSize: 20,
		},
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	retriever := NewRetriever(f.vector, nil, nil, f.cfg.StrategyTimeout, 10, nil)
	return New(Deps{
		Analyzer:    f.analyzer,
		Grader:      f.grader,
		Rewriter:    f.rewriter,
		Validator:   f.validator,
		Synthesizer: f.synthesizer,
		Retriever:   retriever,
		Checkpoints: f.checkpoints,
		Lease:       f.lease,
		Sessions:    f.sessions,
	}, f.cfg, nil)
}

// ---- 端到端场景 ----

func TestProcessAnswersWithHighQualityEvidence(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	resp, err := o.Process(context.Background(), &Request{Query: "how does raft elect a leader", SessionID: "sess-a"})
	require.NoError(t, err)

	assert.Equal(t, "Raft elects a single leader per term.", resp.Answer)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "p1", resp.Citations[0].PassageID)
	assert.Equal(t, "doc-1#0", resp.Citations[0].Locator)

	assert.Equal(t, 0, resp.Metadata.RewriteCount)
	assert.Empty(t, resp.Metadata.Degraded)
	assert.Equal(t, types.IntentFactualQA, resp.Metadata.Intent)
	assert.Equal(t, []types.RetrievalStrategy{types.StrategyVector}, resp.Metadata.Strategies)
	assert.InDelta(t, 1.0, resp.Metadata.Confidence, 1e-9)
	assert.Equal(t, []string{
		"analyzing", "routing", "retrieving", "grading", "validating", "synthesizing", "done",
	}, resp.Metadata.Trace)
}

func TestProcessFailsWhenAllStrategiesError(t *testing.T) {
	f := newFixture(t)
	f.vector.err = types.NewError(types.ErrExternalTimeout, "qdrant down").WithRetryable(true)
	o := f.orchestrator()

	_, err := o.Process(context.Background(), &Request{Query: "anything", SessionID: "sess-b"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrNoRetrievalResults))

	// 失败也要落终态检查点
	latest, lerr := f.checkpoints.LoadLatest(context.Background(), "sess-b")
	require.NoError(t, lerr)
	require.NotNil(t, latest)
	assert.Equal(t, types.StageFailed, latest.Stage)
}

func TestProcessRewritesOnceThenSucceeds(t *testing.T) {
	f := newFixture(t)
	f.grader.scores = []float64{0.3, 0.9}
	o := f.orchestrator()

	resp, err := o.Process(context.Background(), &Request{Query: "vague question", SessionID: "sess-c"})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Metadata.RewriteCount)
	assert.Equal(t, 1, f.rewriter.calls)
	require.Len(t, f.vector.queries, 2)
	assert.Equal(t, "vague question", f.vector.queries[0])
	assert.Equal(t, "rewritten query", f.vector.queries[1])
	assert.NotContains(t, resp.Metadata.Degraded, DegradedRewriteExhausted)
	assert.Equal(t, []string{
		"analyzing", "routing", "retrieving", "grading",
		"rewriting", "retrieving", "grading",
		"validating", "synthesizing", "done",
	}, resp.Metadata.Trace)
}

func TestProcessRewriteBudgetExhaustedStillAnswers(t *testing.T) {
	f := newFixture(t)
	f.grader.scores = []float64{0.2}
	f.cfg.MaxRewrites = 1
	o := f.orchestrator()

	resp, err := o.Process(context.Background(), &Request{Query: "hard question", SessionID: "sess-d"})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Metadata.RewriteCount)
	assert.Contains(t, resp.Metadata.Degraded, DegradedRewriteExhausted)
	assert.NotEmpty(t, resp.Answer)
}

func TestProcessEmptyPoolAfterBudgetFailsTyped(t *testing.T) {
	f := newFixture(t)
	f.vector.passages = nil // 检索成功但命中为空
	f.cfg.MaxRewrites = 2
	o := f.orchestrator()

	_, err := o.Process(context.Background(), &Request{Query: "nothing indexed", SessionID: "sess-e"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrNoRetrievalResults))
	// 预算内的改写全部用掉
	assert.Equal(t, 2, f.rewriter.calls)
}

func TestProcessRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	_, err := o.Process(context.Background(), &Request{Query: "   "})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestProcessGreetingSkipsRetrieval(t *testing.T) {
	f := newFixture(t)
	f.analyzer.analysis.Intent = types.IntentGreeting
	f.synthesizer.answer = "你好！有什么可以帮你？"
	o := f.orchestrator()

	resp, err := o.Process(context.Background(), &Request{Query: "你好", SessionID: "sess-f"})
	require.NoError(t, err)

	assert.Empty(t, f.vector.queries)
	assert.Equal(t, 0, f.grader.calls)
	assert.Empty(t, resp.Citations)
	assert.Equal(t, "你好！有什么可以帮你？", resp.Answer)
	assert.Equal(t, []string{"analyzing", "synthesizing", "done"}, resp.Metadata.Trace)
}

func TestProcessSessionLockConflict(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	_, err := f.lease.Acquire(context.Background(), "sess-busy")
	require.NoError(t, err)

	_, err = o.Process(context.Background(), &Request{Query: "q", SessionID: "sess-busy"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrSessionLockConflict))
}

func TestProcessValidationFailureWhenNothingSupported(t *testing.T) {
	f := newFixture(t)
	f.synthesizer.answer = "Raft uses two leaders."
	f.validator.unsupported = []string{"Raft uses two leaders."}
	o := f.orchestrator()

	_, err := o.Process(context.Background(), &Request{Query: "raft leaders", SessionID: "sess-g"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrValidationFailed))
}

func TestProcessPersistsSessionTurns(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	_, err := o.Process(context.Background(), &Request{Query: "how does raft elect a leader", SessionID: "sess-h"})
	require.NoError(t, err)

	require.Len(t, f.sessions.appended, 2)
	assert.Equal(t, types.Turn{Role: "user", Content: "how does raft elect a leader"}, f.sessions.appended[0])
	assert.Equal(t, "assistant", f.sessions.appended[1].Role)
	assert.NotEmpty(t, f.sessions.appended[1].Content)
}

func TestProcessLoadsHistoryFromSessionStore(t *testing.T) {
	f := newFixture(t)
	f.sessions.history = []types.Turn{
		{Role: "user", Content: "what is raft"},
		{Role: "assistant", Content: "a consensus protocol"},
	}
	o := f.orchestrator()

	_, err := o.Process(context.Background(), &Request{Query: "who elects the leader", SessionID: "sess-i"})
	require.NoError(t, err)
	assert.Equal(t, f.sessions.history, f.analyzer.history)
}

// ---- 恢复 ----

func TestResumeContinuesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	ctx := context.Background()

	// 构造一个在 grading 之前崩溃的请求
	qc := types.NewQueryContext("req-x", "sess-resume", "how does raft elect a leader", nil)
	qc.Trace = append(qc.Trace, string(types.StageAnalyzing))
	qc.Analysis = f.analyzer.analysis
	require.NoError(t, Transition(qc, types.StageRouting))
	qc.Strategies = []types.RetrievalStrategy{types.StrategyVector}
	require.NoError(t, Transition(qc, types.StageRetrieving))
	qc.Candidates = []types.Passage{docPassage("p1", "doc-1", "Raft elects a leader")}
	require.NoError(t, Transition(qc, types.StageGrading))
	require.NoError(t, f.checkpoints.Save(ctx, qc))

	resp, err := o.Resume(ctx, "sess-resume")
	require.NoError(t, err)
	assert.Equal(t, "Raft elects a single leader per term.", resp.Answer)
	assert.Equal(t, "req-x", resp.Metadata.RequestID)
	// 轨迹保留崩溃前的前缀
	assert.Equal(t, []string{
		"analyzing", "routing", "retrieving", "grading", "validating", "synthesizing", "done",
	}, resp.Metadata.Trace)
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	_, err := o.Resume(context.Background(), "sess-unknown")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestResumeCompletedSessionRejected(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	ctx := context.Background()

	_, err := o.Process(ctx, &Request{Query: "q", SessionID: "sess-done"})
	require.NoError(t, err)

	_, err = o.Resume(ctx, "sess-done")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

// ---- 不变量 ----

// 每个已落盘检查点都满足 0 <= rewrite_count <= max，且随步骤单调不减。
func TestRewriteCountBoundedAtEveryCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.grader.scores = []float64{0.1}
	f.cfg.MaxRewrites = 2
	o := f.orchestrator()

	_, err := o.Process(context.Background(), &Request{Query: "q", SessionID: "sess-inv"})
	require.NoError(t, err) // 候选非空，预算耗尽后仍完成

	require.NotEmpty(t, f.checkpoints.saved)
	prev := 0
	for _, snap := range f.checkpoints.saved {
		assert.GreaterOrEqual(t, snap.RewriteCount, 0)
		assert.LessOrEqual(t, snap.RewriteCount, f.cfg.MaxRewrites)
		assert.GreaterOrEqual(t, snap.RewriteCount, prev)
		prev = snap.RewriteCount
	}
	assert.Equal(t, f.cfg.MaxRewrites, prev)
}
