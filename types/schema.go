package types

import (
	"encoding/json"
	"fmt"
)

// SchemaType JSON Schema 的类型关键字
type SchemaType string

const (
	SchemaTypeString  SchemaType = "string"
	SchemaTypeInteger SchemaType = "integer"
	SchemaTypeNumber  SchemaType = "number"
	SchemaTypeBoolean SchemaType = "boolean"
	SchemaTypeObject  SchemaType = "object"
	SchemaTypeArray   SchemaType = "array"
)

// JSONSchema 工具参数用到的 JSON Schema 子集。
// 只描述给模型看，参数校验由各工具自己完成。
type JSONSchema struct {
	Type        SchemaType             `json:"type,omitempty"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
	Default     any                    `json:"default,omitempty"`
}

// NewObjectSchema 无属性的对象
func NewObjectSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeObject, Properties: map[string]*JSONSchema{}}
}

func NewStringSchema() *JSONSchema  { return &JSONSchema{Type: SchemaTypeString} }
func NewIntegerSchema() *JSONSchema { return &JSONSchema{Type: SchemaTypeInteger} }

// NewArraySchema 元素类型为 items 的数组
func NewArraySchema(items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: SchemaTypeArray, Items: items}
}

// NewEnumSchema 取值限定在 values 内的字符串
func NewEnumSchema(values ...string) *JSONSchema {
	return &JSONSchema{Type: SchemaTypeString, Enum: append([]string(nil), values...)}
}

func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = map[string]*JSONSchema{}
	}
	s.Properties[name] = prop
	return s
}

func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	s.Required = append(s.Required, names...)
	return s
}

func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

func (s *JSONSchema) WithDefault(v any) *JSONSchema {
	s.Default = v
	return s
}

// WithRange 数值上下界（含）
func (s *JSONSchema) WithRange(lo, hi float64) *JSONSchema {
	s.Minimum, s.Maximum = &lo, &hi
	return s
}

// Raw 序列化为 ToolSchema.Parameters。Schema 都由字面量构建，失败即编程错误。
func (s *JSONSchema) Raw() json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tool schema: %v", err))
	}
	return b
}

// ParseSchema 解析 ToolSchema.Parameters
func ParseSchema(data []byte) (*JSONSchema, error) {
	var s JSONSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse JSON schema: %w", err)
	}
	return &s, nil
}
