package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/BaSui01/ragflow/types"
)

// CompleteStructured 请求符合 schema 的 JSON 输出并解码到 out。
//
// 响应不满足约束时拒绝并重试一次（附带错误提示），第二次仍失败才
// 返回 EXTERNAL_ERROR。模型被提示只返回 JSON，但仍会剥离代码围栏。
func CompleteStructured(ctx context.Context, p Provider, req *CompletionRequest, schema *types.JSONSchema, out any) error {
	prompt := req.Prompt + "\n\nReturn ONLY valid JSON matching this schema, no other text:\n" + schema.String()

	attempt := *req
	attempt.Prompt = prompt

	var lastErr error
	for try := 0; try < 2; try++ {
		resp, err := p.Complete(ctx, &attempt)
		if err != nil {
			return err
		}

		raw := ExtractJSON(resp.Text)
		if verr := schema.ValidateJSON([]byte(raw)); verr != nil {
			lastErr = verr
			// 重试时把校验失败原因回喂给模型
			attempt.Prompt = prompt + "\n\nYour previous response was invalid: " + verr.Error() +
				"\nReturn ONLY valid JSON."
			continue
		}
		if uerr := json.Unmarshal([]byte(raw), out); uerr != nil {
			lastErr = uerr
			attempt.Prompt = prompt + "\n\nYour previous response was not parseable JSON. Return ONLY valid JSON."
			continue
		}
		return nil
	}

	return types.NewError(types.ErrExternalError, "structured output did not conform to schema after retry").WithCause(lastErr)
}

// ExtractJSON 从模型输出中提取 JSON 文本，剥离 Markdown 代码围栏与前后杂讯。
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)

	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	// 截取首个 { 或 [ 到末个 } 或 ] 之间的内容
	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}
