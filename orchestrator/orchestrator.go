package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/pipeline"
	"github.com/BaSui01/ragflow/types"
)

// 评分与验证能力降级时打在响应上的事件标记。
const (
	DegradedGradingFallback    = "grading_fallback"
	DegradedValidationFallback = "validation_fallback"
	DegradedRewriteExhausted   = "rewrite_budget_exhausted"
)

// Analyzer 意图分析阶段能力。
type Analyzer interface {
	Analyze(ctx context.Context, query string, history []types.Turn) (*types.QueryAnalysis, error)
}

// Grader 检索质量评分阶段能力。
type Grader interface {
	Grade(ctx context.Context, query string, passages []types.Passage) (*types.GradingReport, error)
}

// Rewriter 查询改写阶段能力。
type Rewriter interface {
	Rewrite(ctx context.Context, originalQuery, currentQuery, reason string) (string, error)
}

// Validator 答案验证阶段能力。
type Validator interface {
	Validate(ctx context.Context, draft string, evidence []types.Passage) (*types.ValidationReport, error)
}

// Synthesizer 答案生成阶段能力。
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, evidence []types.Passage, history []types.Turn) (string, []types.Citation, error)
}

// SessionStore 会话记忆。History 读取最近轮次，Append 追加新轮次。
type SessionStore interface {
	History(ctx context.Context, sessionID string) ([]types.Turn, error)
	Append(ctx context.Context, sessionID string, turns ...types.Turn) error
}

// Request 一次查询请求。
type Request struct {
	Query     string       `json:"query"`
	SessionID string       `json:"session_id,omitempty"`
	History   []types.Turn `json:"history,omitempty"` // 显式历史优先于会话记忆
}

// Response 查询结果与执行元数据。
type Response struct {
	Answer    string           `json:"answer"`
	Citations []types.Citation `json:"citations,omitempty"`
	Metadata  Metadata         `json:"metadata"`
}

// Metadata 工作流执行轨迹，供调用方观测与排障。
type Metadata struct {
	RequestID    string                    `json:"request_id"`
	SessionID    string                    `json:"session_id"`
	Intent       types.QueryIntent         `json:"intent"`
	Strategies   []types.RetrievalStrategy `json:"strategies,omitempty"`
	Confidence   float64                   `json:"confidence"`
	RewriteCount int                       `json:"rewrite_count"`
	Trace        []string                  `json:"trace"`
	Degraded     []string                  `json:"degraded,omitempty"`
}

// Orchestrator 驱动完整查询工作流的状态机。
//
// 每次合法迁移后写一个检查点，崩溃的请求可由任意 worker 从最近
// 检查点恢复；同一会话同一时刻只允许一个持有租约的 worker 执行。
type Orchestrator struct {
	analyzer    Analyzer
	grader      Grader
	rewriter    Rewriter
	validator   Validator
	synthesizer Synthesizer

	retriever   *Retriever
	checkpoints CheckpointStore
	lease       *Lease
	sessions    SessionStore
	metrics     *metrics.Collector

	cfg    config.OrchestratorConfig
	logger *zap.Logger
}

// Deps 编排器依赖集合，全部必填（sessions 可为 nil 表示无会话记忆）。
type Deps struct {
	Analyzer    Analyzer
	Grader      Grader
	Rewriter    Rewriter
	Validator   Validator
	Synthesizer Synthesizer
	Retriever   *Retriever
	Checkpoints CheckpointStore
	Lease       *Lease
	Sessions    SessionStore
	Metrics     *metrics.Collector // 可为 nil
}

// New 创建编排器。
func New(deps Deps, cfg config.OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RewriteThreshold <= 0 {
		cfg.RewriteThreshold = 0.5
	}
	if cfg.MaxRewrites < 0 {
		cfg.MaxRewrites = 0
	}
	return &Orchestrator{
		analyzer:    deps.Analyzer,
		grader:      deps.Grader,
		rewriter:    deps.Rewriter,
		validator:   deps.Validator,
		synthesizer: deps.Synthesizer,
		retriever:   deps.Retriever,
		checkpoints: deps.Checkpoints,
		lease:       deps.Lease,
		sessions:    deps.Sessions,
		metrics:     deps.Metrics,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "orchestrator")),
	}
}

// Process 执行一次完整查询。同会话并发请求返回 SESSION_LOCK_CONFLICT。
func (o *Orchestrator) Process(ctx context.Context, req *Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "query must not be empty")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	token, err := o.lease.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		// 即使请求上下文已取消也要释放租约
		_ = o.lease.Release(context.WithoutCancel(ctx), sessionID, token)
	}()

	history := req.History
	if len(history) == 0 && o.sessions != nil {
		history, err = o.sessions.History(ctx, sessionID)
		if err != nil {
			o.logger.Warn("session history unavailable", zap.String("session_id", sessionID), zap.Error(err))
			history = nil
		}
	}

	qc := types.NewQueryContext(uuid.NewString(), sessionID, query, history)
	qc.Trace = append(qc.Trace, string(types.StageAnalyzing))
	return o.run(ctx, qc)
}

// Resume 从最近一次检查点恢复中断的请求。会话没有检查点、或检查点
// 已处于终态时返回 INVALID_REQUEST。
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (*Response, error) {
	if sessionID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "session id must not be empty")
	}

	token, err := o.lease.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = o.lease.Release(context.WithoutCancel(ctx), sessionID, token)
	}()

	qc, err := o.checkpoints.LoadLatest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if qc == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "no checkpoint for session "+sessionID)
	}
	if qc.Stage.Terminal() {
		return nil, types.NewError(types.ErrInvalidRequest, "session already completed at stage "+string(qc.Stage))
	}

	o.logger.Info("resuming from checkpoint",
		zap.String("session_id", sessionID),
		zap.String("stage", string(qc.Stage)),
		zap.Int("step", qc.Step))
	return o.run(ctx, qc)
}

func (o *Orchestrator) run(ctx context.Context, qc *types.QueryContext) (*Response, error) {
	for !qc.Stage.Terminal() {
		if err := ctx.Err(); err != nil {
			ferr := types.NewError(types.ErrExternalTimeout, "request cancelled").WithCause(err).WithRetryable(true)
			o.fail(ctx, qc, ferr)
			o.recordOutcome(qc, "failed")
			return nil, ferr
		}

		started := time.Now()
		stage := qc.Stage

		stageCtx, span := otel.Tracer("ragflow/orchestrator").Start(ctx, "stage."+string(stage),
			trace.WithAttributes(
				attribute.String("session_id", qc.SessionID),
				attribute.Int("step", qc.Step),
			),
		)

		var err error
		switch stage {
		case types.StageAnalyzing:
			err = o.stepAnalyze(stageCtx, qc)
		case types.StageRouting:
			err = o.stepRoute(stageCtx, qc)
		case types.StageRetrieving:
			err = o.stepRetrieve(stageCtx, qc)
		case types.StageGrading:
			err = o.stepGrade(stageCtx, qc)
		case types.StageRewriting:
			err = o.stepRewrite(stageCtx, qc)
		case types.StageValidating:
			err = o.stepValidate(stageCtx, qc)
		case types.StageSynthesizing:
			err = o.stepSynthesize(stageCtx, qc)
		default:
			err = types.NewError(types.ErrInternalError, "unknown stage "+string(stage))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if o.metrics != nil {
			o.metrics.RecordStage(string(stage), time.Since(started))
		}
		if err != nil {
			o.fail(ctx, qc, err)
			o.recordOutcome(qc, "failed")
			return nil, err
		}
	}

	o.recordOutcome(qc, "completed")
	o.persistTurns(ctx, qc)
	return buildResponse(qc), nil
}

func (o *Orchestrator) recordOutcome(qc *types.QueryContext, status string) {
	if o.metrics == nil {
		return
	}
	intent := "unknown"
	if qc.Analysis != nil {
		intent = string(qc.Analysis.Intent)
	}
	o.metrics.RecordQuery(status, intent)
	for _, event := range qc.Degraded {
		o.metrics.RecordDegraded(event)
	}
}

// stepAnalyze 意图分析。寒暄类查询跳过整个检索管线直接生成。
func (o *Orchestrator) stepAnalyze(ctx context.Context, qc *types.QueryContext) error {
	analysis, err := o.analyzer.Analyze(ctx, qc.CurrentQuery, qc.History)
	if err != nil {
		return err
	}
	qc.Analysis = analysis

	if analysis.Intent == types.IntentGreeting {
		o.logger.Debug("greeting short-circuit", zap.String("request_id", qc.RequestID))
		return o.advance(ctx, qc, types.StageSynthesizing)
	}
	return o.advance(ctx, qc, types.StageRouting)
}

func (o *Orchestrator) stepRoute(ctx context.Context, qc *types.QueryContext) error {
	qc.Strategies = pipeline.Route(qc.Analysis)
	o.logger.Debug("strategies selected",
		zap.String("request_id", qc.RequestID),
		zap.Any("strategies", qc.Strategies))
	return o.advance(ctx, qc, types.StageRetrieving)
}

func (o *Orchestrator) stepRetrieve(ctx context.Context, qc *types.QueryContext) error {
	results, degraded, err := o.retriever.Retrieve(ctx, qc)
	if err != nil {
		return err
	}
	qc.StrategyResults = results
	for _, event := range degraded {
		qc.MarkDegraded(event)
	}
	qc.Candidates = MergeCandidates(results, o.cfg.CandidatePoolSize)
	return o.advance(ctx, qc, types.StageGrading)
}

// stepGrade 评分并决定走改写分支还是验证分支。改写预算耗尽后无论
// 分数高低都继续向下，但空候选池此时已无法补救，按检索失败终止。
func (o *Orchestrator) stepGrade(ctx context.Context, qc *types.QueryContext) error {
	report, err := o.grader.Grade(ctx, qc.CurrentQuery, qc.Candidates)
	if err != nil {
		return err
	}
	report.Threshold = o.cfg.RewriteThreshold
	qc.Grading = report
	if report.Fallback {
		qc.MarkDegraded(DegradedGradingFallback)
	}

	if report.Score < o.cfg.RewriteThreshold {
		if qc.RewriteCount < o.cfg.MaxRewrites {
			return o.advance(ctx, qc, types.StageRewriting)
		}
		if len(qc.Candidates) == 0 {
			return types.NewError(types.ErrNoRetrievalResults,
				"no passages retrieved after exhausting rewrite budget")
		}
		qc.MarkDegraded(DegradedRewriteExhausted)
		o.logger.Warn("rewrite budget exhausted, proceeding with low-score candidates",
			zap.String("request_id", qc.RequestID),
			zap.Float64("score", report.Score),
			zap.Int("rewrites", qc.RewriteCount))
	}
	return o.advance(ctx, qc, types.StageValidating)
}

func (o *Orchestrator) stepRewrite(ctx context.Context, qc *types.QueryContext) error {
	reason := ""
	if qc.Grading != nil {
		reason = qc.Grading.Reason
	}
	rewritten, err := o.rewriter.Rewrite(ctx, qc.OriginalQuery, qc.CurrentQuery, reason)
	if err != nil {
		return err
	}
	qc.CurrentQuery = rewritten
	qc.RewriteCount++
	if o.metrics != nil {
		o.metrics.RecordRewrite()
	}
	o.logger.Info("query rewritten",
		zap.String("request_id", qc.RequestID),
		zap.Int("rewrite_count", qc.RewriteCount))
	return o.advance(ctx, qc, types.StageRetrieving)
}

// stepValidate 先生成草稿答案，再逐句核对证据支撑。草稿与引用暂存在
// 上下文里，最终裁剪在 synthesizing 阶段完成。
func (o *Orchestrator) stepValidate(ctx context.Context, qc *types.QueryContext) error {
	evidence := relevantEvidence(qc)
	draft, citations, err := o.synthesizer.Synthesize(ctx, qc.CurrentQuery, evidence, qc.History)
	if err != nil {
		return err
	}
	qc.Answer = draft
	qc.Citations = citations

	report, err := o.validator.Validate(ctx, draft, evidence)
	if err != nil {
		return err
	}
	qc.Validation = report
	if report.Fallback {
		qc.MarkDegraded(DegradedValidationFallback)
	}
	return o.advance(ctx, qc, types.StageSynthesizing)
}

// stepSynthesize 产出最终答案。寒暄路径直接生成；正常路径裁掉无证据
// 支撑的句子，裁空即验证失败。
func (o *Orchestrator) stepSynthesize(ctx context.Context, qc *types.QueryContext) error {
	if qc.Validation == nil {
		answer, _, err := o.synthesizer.Synthesize(ctx, qc.OriginalQuery, nil, qc.History)
		if err != nil {
			return err
		}
		qc.Answer = answer
		return o.advance(ctx, qc, types.StageDone)
	}

	trimmed := pipeline.TrimUnsupported(qc.Answer, qc.Validation)
	if strings.TrimSpace(trimmed) == "" {
		return types.NewError(types.ErrValidationFailed,
			"no claims in the draft are supported by retrieved evidence")
	}
	qc.Answer = trimmed
	return o.advance(ctx, qc, types.StageDone)
}

// advance 执行一次合法迁移并落检查点。检查点写失败只记录不终止：
// 丢掉的是可恢复性，不是本次请求的正确性。
func (o *Orchestrator) advance(ctx context.Context, qc *types.QueryContext, to types.Stage) error {
	if err := Transition(qc, to); err != nil {
		return err
	}
	if err := o.checkpoints.Save(ctx, qc); err != nil {
		o.logger.Warn("checkpoint save failed",
			zap.String("session_id", qc.SessionID),
			zap.Int("step", qc.Step),
			zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, qc *types.QueryContext, cause error) {
	o.logger.Error("workflow failed",
		zap.String("request_id", qc.RequestID),
		zap.String("stage", string(qc.Stage)),
		zap.Error(cause))
	if qc.Stage.Terminal() {
		return
	}
	if err := Transition(qc, types.StageFailed); err != nil {
		return
	}
	if err := o.checkpoints.Save(context.WithoutCancel(ctx), qc); err != nil {
		o.logger.Warn("failed-state checkpoint save failed", zap.Error(err))
	}
}

func (o *Orchestrator) persistTurns(ctx context.Context, qc *types.QueryContext) {
	if o.sessions == nil || qc.Stage != types.StageDone {
		return
	}
	err := o.sessions.Append(ctx, qc.SessionID,
		types.Turn{Role: "user", Content: qc.OriginalQuery},
		types.Turn{Role: "assistant", Content: qc.Answer},
	)
	if err != nil {
		o.logger.Warn("session append failed", zap.String("session_id", qc.SessionID), zap.Error(err))
	}
}

// relevantEvidence 按评分标记过滤候选池，证据只保留判定相关的段落。
// 评分缺失或标记长度不符时原样使用候选池。
func relevantEvidence(qc *types.QueryContext) []types.Passage {
	if qc.Grading == nil || len(qc.Grading.Relevant) != len(qc.Candidates) {
		return qc.Candidates
	}
	var evidence []types.Passage
	for i, p := range qc.Candidates {
		if qc.Grading.Relevant[i] {
			evidence = append(evidence, p)
		}
	}
	if len(evidence) == 0 {
		return qc.Candidates
	}
	return evidence
}

func buildResponse(qc *types.QueryContext) *Response {
	meta := Metadata{
		RequestID:    qc.RequestID,
		SessionID:    qc.SessionID,
		Strategies:   qc.Strategies,
		RewriteCount: qc.RewriteCount,
		Trace:        qc.Trace,
		Degraded:     qc.Degraded,
	}
	if qc.Analysis != nil {
		meta.Intent = qc.Analysis.Intent
	}
	if qc.Validation != nil {
		meta.Confidence = qc.Validation.Confidence
	}
	return &Response{
		Answer:    qc.Answer,
		Citations: qc.Citations,
		Metadata:  meta,
	}
}
