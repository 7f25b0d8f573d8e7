package types

import "encoding/json"

// SchemaType JSON Schema 基础类型。
type SchemaType string

const (
	SchemaTypeString  SchemaType = "string"
	SchemaTypeNumber  SchemaType = "number"
	SchemaTypeBoolean SchemaType = "boolean"
	SchemaTypeObject  SchemaType = "object"
	SchemaTypeArray   SchemaType = "array"
)

// JSONSchema 结构化输出的 Schema 约束。
// 判断/生成能力按此约束返回 JSON；不符合约束的响应会被拒绝并重试一次。
type JSONSchema struct {
	Type        SchemaType             `json:"type,omitempty"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []any                  `json:"enum,omitempty"`
}

// NewObjectSchema 创建 object 类型的 Schema。
func NewObjectSchema(properties map[string]*JSONSchema, required ...string) *JSONSchema {
	return &JSONSchema{Type: SchemaTypeObject, Properties: properties, Required: required}
}

// String 返回 Schema 的 JSON 文本，用于提示词拼装。
func (s *JSONSchema) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ValidateJSON 校验 data 是否满足 Schema 的类型与必填约束。
// 只做轻量结构校验，不实现完整的 JSON Schema 规范。
func (s *JSONSchema) ValidateJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return s.validate(v)
}

func (s *JSONSchema) validate(v any) error {
	switch s.Type {
	case SchemaTypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return &Error{Code: ErrExternalError, Message: "expected object"}
		}
		for _, req := range s.Required {
			if _, ok := obj[req]; !ok {
				return &Error{Code: ErrExternalError, Message: "missing required field " + req}
			}
		}
		for name, prop := range s.Properties {
			if val, ok := obj[name]; ok && val != nil {
				if err := prop.validate(val); err != nil {
					return err
				}
			}
		}
	case SchemaTypeArray:
		arr, ok := v.([]any)
		if !ok {
			return &Error{Code: ErrExternalError, Message: "expected array"}
		}
		if s.Items != nil {
			for _, item := range arr {
				if err := s.Items.validate(item); err != nil {
					return err
				}
			}
		}
	case SchemaTypeString:
		if _, ok := v.(string); !ok {
			return &Error{Code: ErrExternalError, Message: "expected string"}
		}
	case SchemaTypeNumber:
		if _, ok := v.(float64); !ok {
			return &Error{Code: ErrExternalError, Message: "expected number"}
		}
	case SchemaTypeBoolean:
		if _, ok := v.(bool); !ok {
			return &Error{Code: ErrExternalError, Message: "expected boolean"}
		}
	}
	return nil
}
