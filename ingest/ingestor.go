// Package ingest 实现文档摄取管线：语义分块、嵌入、向量索引写入
// 与稀疏索引重建。文档元数据落在关系库里，正文只存在索引中。
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/types"
)

// Document 摄取请求。ID 为空时自动生成；重复 ID 视为重新摄取，
// 旧分块被整体替换。
type Document struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"` // 原始出处（路径、URL 等）
	Text   string `json:"text"`
}

// Result 摄取结果。
type Result struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

// DocumentRecord 文档目录条目。
type DocumentRecord struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Title     string    `json:"title" gorm:"size:512"`
	Source    string    `json:"source" gorm:"size:1024"`
	Chunks    int       `json:"chunks"`
	Chars     int       `json:"chars"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName gorm 表名。
func (DocumentRecord) TableName() string { return "documents" }

// PassageLister 能枚举全部段落的向量索引后端。稀疏索引重建依赖它。
type PassageLister interface {
	All(ctx context.Context) ([]types.Passage, error)
}

// Ingestor 文档摄取器。
type Ingestor struct {
	chunker *rag.Chunker
	store   rag.VectorStore
	sparse  *rag.SparseIndex
	db      *gorm.DB
	logger  *zap.Logger
}

// NewIngestor 创建摄取器并迁移文档目录表。sparse 可为 nil（纯稠密部署）。
func NewIngestor(chunker *rag.Chunker, store rag.VectorStore, sparse *rag.SparseIndex, db *gorm.DB, logger *zap.Logger) (*Ingestor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if db != nil {
		if err := db.AutoMigrate(&DocumentRecord{}); err != nil {
			return nil, fmt.Errorf("migrate documents table: %w", err)
		}
	}
	return &Ingestor{
		chunker: chunker,
		store:   store,
		sparse:  sparse,
		db:      db,
		logger:  logger.With(zap.String("component", "ingestor")),
	}, nil
}

// IngestDocument 执行完整摄取：分块 → 嵌入 → 替换旧分块 → 登记目录
// → 重建稀疏索引。
func (in *Ingestor) IngestDocument(ctx context.Context, doc Document) (*Result, error) {
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "document text must not be empty")
	}
	docID := doc.ID
	if docID == "" {
		docID = uuid.NewString()
	}

	passages, err := in.chunker.ChunkDocument(ctx, docID, text)
	if err != nil {
		return nil, err
	}
	for i := range passages {
		if passages[i].Metadata == nil {
			passages[i].Metadata = map[string]any{}
		}
		if doc.Title != "" {
			passages[i].Metadata["title"] = doc.Title
		}
		if doc.Source != "" {
			passages[i].Metadata["origin"] = doc.Source
		}
	}

	// 重新摄取时先清掉旧分块，避免新旧混排
	if err := in.store.DeleteByDocument(ctx, docID); err != nil {
		return nil, err
	}
	if err := in.store.Upsert(ctx, passages); err != nil {
		return nil, err
	}

	if in.db != nil {
		record := DocumentRecord{
			ID:     docID,
			Title:  doc.Title,
			Source: doc.Source,
			Chunks: len(passages),
			Chars:  len(text),
		}
		err := in.db.WithContext(ctx).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&record).Error
		if err != nil {
			return nil, fmt.Errorf("record document %s: %w", docID, err)
		}
	}

	if err := in.refreshSparse(ctx); err != nil {
		return nil, err
	}

	in.logger.Info("document ingested",
		zap.String("document_id", docID),
		zap.Int("chunks", len(passages)),
		zap.Int("chars", len(text)))
	return &Result{DocumentID: docID, Chunks: len(passages)}, nil
}

// DeleteDocument 删除文档的全部分块与目录条目。
func (in *Ingestor) DeleteDocument(ctx context.Context, docID string) error {
	if docID == "" {
		return types.NewError(types.ErrInvalidRequest, "document id must not be empty")
	}
	if err := in.store.DeleteByDocument(ctx, docID); err != nil {
		return err
	}
	if in.db != nil {
		err := in.db.WithContext(ctx).Delete(&DocumentRecord{}, "id = ?", docID).Error
		if err != nil {
			return fmt.Errorf("delete document record %s: %w", docID, err)
		}
	}
	return in.refreshSparse(ctx)
}

// ListDocuments 按更新时间倒序列出文档目录。
func (in *Ingestor) ListDocuments(ctx context.Context) ([]DocumentRecord, error) {
	if in.db == nil {
		return nil, nil
	}
	var records []DocumentRecord
	err := in.db.WithContext(ctx).Order("updated_at desc").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return records, nil
}

// refreshSparse 从向量索引全量重建 BM25 快照。后端不支持枚举时跳过，
// 此时混合检索退化为纯稠密召回。
func (in *Ingestor) refreshSparse(ctx context.Context) error {
	if in.sparse == nil {
		return nil
	}
	lister, ok := in.store.(PassageLister)
	if !ok {
		in.logger.Debug("vector store does not support listing, sparse index not rebuilt")
		return nil
	}
	all, err := lister.All(ctx)
	if err != nil {
		return err
	}
	in.sparse.Rebuild(all)
	return nil
}
