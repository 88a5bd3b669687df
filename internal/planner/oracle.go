package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"OnChainAgents/internal/capability"
	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/knowledge"
	"OnChainAgents/internal/llm"
)

const oracleDescription = "You are a highly skilled web3 developer with expertise in transitioning web2 applications to web3. " +
	"Critically assess the request and recommend web3 functionality only where it is truly needed."

// planSchema 约束模型输出 {"functions":[{"task","flow","function":[...]}]}。
var planSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"functions": map[string]any{
			"type":        "array",
			"description": "Independent tasks, most important first.",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task":     map[string]any{"type": "string", "description": "The task that needs to be done."},
					"flow":     map[string]any{"type": "string", "description": "How the functions will be used to accomplish the task."},
					"function": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "The functions needed to accomplish the task."},
				},
				"required":             []string{"task", "flow", "function"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"functions"},
	"additionalProperties": false,
}

type planDoc struct {
	Functions *[]planItem `json:"functions"`
}

type planItem struct {
	Task     *string   `json:"task"`
	Flow     *string   `json:"flow"`
	Function *[]string `json:"function"`
}

// LLMOracle 通过 llm.Client 请求受 JSON Schema 约束的拆分结果，解析严格，
// 任何不符合结构的输出都视为规划不可用。
type LLMOracle struct {
	client      llm.Client
	model       string
	temperature float64
	guides      *knowledge.Guides
}

// NewLLMOracle 创建基于大模型的 Oracle。guides 可以为 nil。
func NewLLMOracle(client llm.Client, model string, temperature float64, guides *knowledge.Guides) *LLMOracle {
	return &LLMOracle{client: client, model: model, temperature: temperature, guides: guides}
}

// Decompose 实现 Oracle。
func (o *LLMOracle) Decompose(ctx context.Context, description string, catalog []capability.Descriptor) ([]SubTask, error) {
	resp, err := o.client.Chat(ctx, llm.ChatRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages: []llm.Message{
			llm.SystemMessage(o.instructions(catalog)),
			llm.UserMessage(description),
		},
		Schema: &llm.ResponseSchema{
			Name:        "capability_plan",
			Description: "Tasks and the functions each one needs.",
			Schema:      planSchema,
		},
	})
	if err != nil {
		return nil, err
	}
	subtasks, err := DecodePlan([]byte(resp.Content))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlanningUnavailable, err, "规划结果不符合约定结构")
	}
	return subtasks, nil
}

func (o *LLMOracle) instructions(catalog []capability.Descriptor) string {
	var b strings.Builder
	b.WriteString(oracleDescription)
	b.WriteString("\n\nYou will receive a description of an application or a task.\n")
	b.WriteString("The functions you can provide are:\n")
	for _, d := range catalog {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		if hint := o.guides.Hint(d.Name); hint != "" {
			fmt.Fprintf(&b, "  note: %s\n", hint)
		}
	}
	b.WriteString("\nSplit the request into independent tasks that can be implemented with these functions. ")
	b.WriteString("For each task list every function it needs and only those. ")
	b.WriteString("Explain in flow how the functions are used together. ")
	b.WriteString("If nothing applies, return an empty functions list.")
	return b.String()
}

// DecodePlan 严格解析模型输出：未知字段、缺失字段与多余内容都会报错。
func DecodePlan(content []byte) ([]SubTask, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return nil, errors.New("规划结果为空")
	}
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()

	var doc planDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("解析规划结果失败: %w", err)
	}
	if dec.More() {
		return nil, errors.New("规划结果包含多余内容")
	}
	if doc.Functions == nil {
		return nil, errors.New("规划结果缺少 functions 字段")
	}

	out := make([]SubTask, 0, len(*doc.Functions))
	for i, item := range *doc.Functions {
		if item.Task == nil || item.Flow == nil || item.Function == nil {
			return nil, fmt.Errorf("第 %d 个子任务缺少必需字段", i)
		}
		out = append(out, SubTask{
			Task:         *item.Task,
			Flow:         *item.Flow,
			Capabilities: append([]string(nil), (*item.Function)...),
		})
	}
	return out, nil
}
