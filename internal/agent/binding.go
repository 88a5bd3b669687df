package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"OnChainAgents/internal/capability"
	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/knowledge"
	"OnChainAgents/internal/llm"
	"OnChainAgents/internal/observability/metrics"
	"OnChainAgents/pkg/logger"
)

const defaultMaxSteps = 6

// Binding 是代理与推理引擎之间的会话绑定，只暴露代理被授予的能力。
type Binding struct {
	client       llm.Client
	model        string
	temperature  float64
	maxSteps     int
	set          capability.Set
	identityID   string
	tools        []llm.Tool
	env          capability.Env
	instructions string
	metrics      *metrics.Metrics
	log          *slog.Logger
}

// BindingConfig 汇总创建 Binding 所需的共享依赖。
type BindingConfig struct {
	Client      llm.Client
	Model       string
	Temperature float64
	MaxSteps    int
	Guides      *knowledge.Guides
	Env         capability.Env
	Metrics     *metrics.Metrics
}

func newBinding(cfg BindingConfig, a *Agent) *Binding {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	env := cfg.Env
	env.Wallet = a.Wallet

	descriptors := a.Capabilities.Descriptors()
	tools := make([]llm.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, llm.Tool{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}

	return &Binding{
		client:       cfg.Client,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxSteps:     maxSteps,
		set:          a.Capabilities,
		identityID:   a.Wallet.ID(),
		tools:        tools,
		env:          env,
		instructions: instructions(a, cfg.Guides),
		metrics:      cfg.Metrics,
		log:          logger.Named("agent").With(slog.String("agent", a.Name), slog.String("identity_id", a.Wallet.ID())),
	}
}

func instructions(a *Agent, guides *knowledge.Guides) string {
	network := a.Wallet.Network()
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an on-chain agent operating wallet %s on network %s (%s).\n",
		a.Name, a.Wallet.Address().Hex(), network.Name, network.Kind)
	if a.Task != "" {
		fmt.Fprintf(&b, "Your assignment: %s\n", a.Task)
	}
	if a.Flow != "" {
		fmt.Fprintf(&b, "Planned approach: %s\n", a.Flow)
	}
	fmt.Fprintf(&b, "You may only use these tools: %s. ", strings.Join(a.Capabilities.Names(), ", "))
	b.WriteString("If a tool reports an error, explain it to the user or retry with corrected parameters. Be concise.")
	for _, s := range guides.Query(a.Task, a.Capabilities.Names()) {
		fmt.Fprintf(&b, "\n\n%s:\n%s", s.Title, s.Content)
	}
	return b.String()
}

// Run 执行一轮对话：模型可以多次调用能力，直到给出文本回复或达到步数上限。
func (b *Binding) Run(ctx context.Context, prompt string) (string, error) {
	if b.client == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	messages := []llm.Message{llm.SystemMessage(b.instructions), llm.UserMessage(prompt)}

	for step := 0; step < b.maxSteps; step++ {
		resp, err := b.client.Chat(ctx, llm.ChatRequest{
			Model:       b.model,
			Messages:    messages,
			Tools:       b.tools,
			Temperature: b.temperature,
		})
		if err != nil {
			if stdErrors.Is(err, context.DeadlineExceeded) {
				return "", xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
			}
			return "", xerrors.Wrap(xerrors.CodePlanningUnavailable, err, "大模型推理失败")
		}
		b.metrics.ObserveTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

		if len(resp.ToolCalls) == 0 {
			if strings.TrimSpace(resp.Content) == "" {
				return "", xerrors.Wrap(xerrors.CodePlanningUnavailable, llm.ErrEmptyResponse, "大模型未返回结果")
			}
			return resp.Content, nil
		}

		messages = append(messages, llm.AssistantMessage(resp.Content, resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			result, err := b.execute(ctx, call)
			if err != nil {
				return "", err
			}
			messages = append(messages, llm.ToolResultMessage(call, result))
		}
	}
	return "", xerrors.Newf(xerrors.CodeTimeout, "超过最大推理步数 %d", b.maxSteps)
}

// execute 执行一次工具调用。可恢复的错误转为文本交还给模型，其余错误中断会话。
func (b *Binding) execute(ctx context.Context, call llm.ToolCall) (string, error) {
	kind, ok := capability.ParseKind(call.Name)
	if !ok || !b.set.Has(kind) {
		logger.Audit().Warn("capability refused",
			slog.String("identity_id", b.identityID),
			slog.String("capability", call.Name))
		b.metrics.ObserveCapability(call.Name, "denied", 0)
		return fmt.Sprintf("Error: tool %q is not available to this agent.", call.Name), nil
	}

	req, err := capability.Decode(kind, json.RawMessage(call.Arguments))
	if err != nil {
		b.metrics.ObserveCapability(call.Name, "invalid", 0)
		return "Error: " + describe(err), nil
	}

	start := time.Now()
	result, err := capability.Invoke(ctx, b.env, req)
	elapsed := time.Since(start)
	if err != nil {
		b.metrics.ObserveCapability(call.Name, string(xerrors.CodeOf(err)), elapsed)
		b.log.Warn("capability failed", slog.String("capability", call.Name), slog.Any("error", err))
		if xerrors.Recoverable(err) {
			return "Error: " + describe(err), nil
		}
		return "", err
	}
	b.metrics.ObserveCapability(call.Name, "ok", elapsed)
	logger.Audit().Info("capability invoked",
		slog.String("identity_id", b.identityID),
		slog.String("capability", call.Name))
	return result, nil
}

func describe(err error) string {
	if e, ok := xerrors.From(err); ok {
		if cause := stdErrors.Unwrap(e); cause != nil {
			return fmt.Sprintf("%s (%s): %v", e.Message(), e.Code(), cause)
		}
		return fmt.Sprintf("%s (%s)", e.Message(), e.Code())
	}
	return err.Error()
}
