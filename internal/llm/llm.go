package llm

import (
	"context"
	"errors"
)

// Role 表示消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Tool 描述模型可以调用的一个函数，Parameters 为 JSON Schema。
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall 是模型发起的一次函数调用，Arguments 为原始 JSON。
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message 是对话中的一条消息。工具结果需要同时带上 ToolCallID 与 Name，
// 不同厂商分别依赖其中之一关联调用。
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ResponseSchema 要求模型按给定 JSON Schema 输出。
type ResponseSchema struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatRequest 是一次对话请求。
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	Temperature float64
	Schema      *ResponseSchema
}

// Usage 记录 token 用量。
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse 是模型的一轮回复。
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ErrEmptyResponse 表示模型没有返回任何内容或工具调用。
var ErrEmptyResponse = errors.New("模型响应为空")

// SystemMessage 等辅助函数用于构造消息。
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

func AssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func ToolResultMessage(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}
