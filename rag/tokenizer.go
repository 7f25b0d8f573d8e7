package rag

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer 计数文本 token，用于分块的 token 预算。
type Tokenizer interface {
	CountTokens(text string) int
}

// TiktokenCounter 基于 tiktoken 编码的 token 计数器。
// 编码数据在首次使用时惰性加载，加载失败回退到字符估算。
type TiktokenCounter struct {
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenCounter 创建 tiktoken 计数器，encoding 为空时使用 cl100k_base。
func NewTiktokenCounter(encoding string, logger *zap.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenCounter{encoding: encoding, logger: logger}
}

func (t *TiktokenCounter) init() {
	enc, err := tiktoken.GetEncoding(t.encoding)
	if err != nil {
		t.initErr = err
		t.logger.Warn("tiktoken encoding unavailable, falling back to estimate",
			zap.String("encoding", t.encoding),
			zap.Error(err))
		return
	}
	t.enc = enc
}

// CountTokens 返回文本的 token 数，编码不可用时按 len/4 估算。
func (t *TiktokenCounter) CountTokens(text string) int {
	t.once.Do(t.init)
	if t.initErr != nil {
		return len(text) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimateCounter 纯估算计数器，不依赖编码数据下载。
type EstimateCounter struct{}

func (EstimateCounter) CountTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}
