package rag

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/ragflow/types"
)

// passageRow pgvector 后端的持久化行。向量列维度在建表时固定。
type passageRow struct {
	ID         string          `gorm:"primaryKey;type:text"`
	DocumentID string          `gorm:"type:text;index"`
	ChunkIndex int             `gorm:"default:0"`
	Text       string          `gorm:"type:text"`
	Embedding  pgvector.Vector `gorm:"type:vector(1536)"`
	Source     string          `gorm:"type:text;index"`
	Cohesion   float64
}

func (passageRow) TableName() string { return "passages" }

// scoredPassageRow 携带查询时计算的相似度。
type scoredPassageRow struct {
	passageRow
	Similarity float64
}

// PgVectorStore 基于 Postgres pgvector 扩展的 VectorStore 实现。
type PgVectorStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPgVectorStore 创建 pgvector 向量索引并自动迁移表结构。
// 调用方需保证数据库已启用 vector 扩展。
func NewPgVectorStore(db *gorm.DB, logger *zap.Logger) (*PgVectorStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&passageRow{}); err != nil {
		return nil, types.NewError(types.ErrInternalError, "pgvector: migrate passages table").WithCause(err)
	}
	return &PgVectorStore{
		db:     db,
		logger: logger.With(zap.String("component", "pgvector_store")),
	}, nil
}

func (s *PgVectorStore) Upsert(ctx context.Context, passages []types.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	rows := make([]passageRow, 0, len(passages))
	for i, p := range passages {
		if p.ID == "" {
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("passage[%d] has empty id", i))
		}
		rows = append(rows, passageRow{
			ID:         p.ID,
			DocumentID: p.DocumentID,
			ChunkIndex: p.ChunkIndex,
			Text:       p.Text,
			Embedding:  pgvector.NewVector(toFloat32(p.Embedding)),
			Source:     string(p.Source),
			Cohesion:   p.Cohesion,
		})
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rows).Error
	if err != nil {
		return types.NewError(types.ErrExternalError, "pgvector: upsert passages").WithCause(err).WithRetryable(true)
	}
	s.logger.Debug("pgvector upsert completed", zap.Int("count", len(rows)))
	return nil
}

func (s *PgVectorStore) Query(ctx context.Context, q VectorQuery) ([]types.Passage, error) {
	if q.TopK <= 0 {
		return nil, nil
	}
	if len(q.Embedding) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "pgvector: query embedding is required")
	}

	queryVec := pgvector.NewVector(toFloat32(q.Embedding))

	// pgvector 的 <=> 是余弦距离，相似度 = 1 - 距离
	tx := s.db.WithContext(ctx).
		Model(&passageRow{}).
		Select("passages.*, 1 - (embedding <=> ?) as similarity", queryVec)
	if q.Source != "" {
		tx = tx.Where("source = ?", string(q.Source))
	}
	if q.DocumentID != "" {
		tx = tx.Where("document_id = ?", q.DocumentID)
	}

	var rows []scoredPassageRow
	err := tx.Order(gorm.Expr("embedding <=> ?", queryVec)).
		Limit(q.TopK).
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrExternalError, "pgvector: similarity query").WithCause(err).WithRetryable(true)
	}

	out := make([]types.Passage, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.Passage{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
			Text:       r.Text,
			Embedding:  toFloat64(r.Embedding.Slice()),
			Source:     types.SourceType(r.Source),
			Score:      r.Similarity,
			Cohesion:   r.Cohesion,
		})
	}
	return out, nil
}

func (s *PgVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&passageRow{}).Error
	if err != nil {
		return types.NewError(types.ErrExternalError, "pgvector: delete by document").WithCause(err).WithRetryable(true)
	}
	return nil
}

func (s *PgVectorStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&passageRow{}).Count(&n).Error; err != nil {
		return 0, types.NewError(types.ErrExternalError, "pgvector: count passages").WithCause(err).WithRetryable(true)
	}
	return int(n), nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
