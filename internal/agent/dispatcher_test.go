package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/events"
	"OnChainAgents/internal/knowledge"
	"OnChainAgents/internal/llm"
)

func setupDispatcher(t *testing.T, client llm.Client, task string) (*Pool, *Dispatcher, *events.MemoryPublisher) {
	t.Helper()
	pub := events.NewMemoryPublisher(32)
	guides := knowledge.NewGuides([]knowledge.Snippet{{Title: "Voting", Content: "Proposal ids are integers.", Tags: []string{"cast_vote"}}}, 2)
	pool := NewPool(newTestPlanner(nil), newStubIdentities(t), BindingConfig{Client: client, Guides: guides}, WithEvents(pub))
	if _, err := pool.CreateAgents(context.Background(), task); err != nil {
		t.Fatalf("create agents: %v", err)
	}
	return pool, NewDispatcher(pool), pub
}

func TestRunOutOfRange(t *testing.T) {
	_, d, _ := setupDispatcher(t, &scriptedLLM{}, "balance and vote")
	_, err := d.Run(context.Background(), 5, "hi", RunOptions{})
	if !xerrors.HasCode(err, xerrors.CodeIndexOutOfRange) {
		t.Fatalf("expected INDEX_OUT_OF_RANGE, got %v", err)
	}
}

func TestRunExecutesGrantedCapability(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolCall("c1", "get_balance", `{"asset_id":"eth"}`),
		{Content: "You hold 1.5 ETH."},
	}}
	pool, d, pub := setupDispatcher(t, client, "check balance")

	out, err := d.Run(context.Background(), 0, "how much do I have?", RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "You hold 1.5 ETH." {
		t.Fatalf("unexpected result %q", out)
	}
	w := pool.Agents()[0].Wallet.(*stubWallet)
	if ops := w.ops(); len(ops) != 1 || ops[0] != "balance" {
		t.Fatalf("unexpected wallet calls %v", ops)
	}

	if len(client.requests) != 2 {
		t.Fatalf("expected 2 model turns, got %d", len(client.requests))
	}
	first := client.requests[0]
	if len(first.Tools) != 1 || first.Tools[0].Name != "get_balance" {
		t.Fatalf("agent must only expose its own tools: %+v", first.Tools)
	}
	second := client.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "c1" || !strings.Contains(last.Content, "1.5") {
		t.Fatalf("unexpected tool result %+v", last)
	}

	var runs int
	for _, e := range pub.Events() {
		if e.Type == events.TypeAgentRun {
			runs++
			if e.AgentIndex == nil || *e.AgentIndex != 0 || e.Attributes["outcome"] != "ok" {
				t.Fatalf("unexpected run event %+v", e)
			}
		}
	}
	if runs != 1 {
		t.Fatalf("expected one agent.run event")
	}
}

func TestRunRefusesCapabilityOutsideSet(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolCall("c1", "transfer_asset", `{"amount":"1","asset_id":"eth","destination_address":"0x0000000000000000000000000000000000000001"}`),
		{Content: "I cannot transfer."},
	}}
	pool, d, _ := setupDispatcher(t, client, "check balance")

	out, err := d.Run(context.Background(), 0, "send 1 eth", RunOptions{})
	if err != nil || out != "I cannot transfer." {
		t.Fatalf("unexpected result %q %v", out, err)
	}
	if ops := pool.Agents()[0].Wallet.(*stubWallet).ops(); len(ops) != 0 {
		t.Fatalf("refused capability must not touch the wallet: %v", ops)
	}
	msgs := client.requests[1].Messages
	if !strings.Contains(msgs[len(msgs)-1].Content, "not available") {
		t.Fatalf("expected refusal text, got %q", msgs[len(msgs)-1].Content)
	}
}

func TestRunReturnsRecoverableErrorsToModel(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolCall("c1", "get_balance", `{"asset_id":"doge"}`),
		{Content: "That asset is not supported."},
	}}
	pool, d, _ := setupDispatcher(t, client, "check balance")
	w := pool.Agents()[0].Wallet.(*stubWallet)
	w.err = xerrors.New(xerrors.CodeUnsupportedAsset, "")

	out, err := d.Run(context.Background(), 0, "doge balance?", RunOptions{})
	if err != nil || out != "That asset is not supported." {
		t.Fatalf("unexpected result %q %v", out, err)
	}
	msgs := client.requests[1].Messages
	if !strings.Contains(msgs[len(msgs)-1].Content, string(xerrors.CodeUnsupportedAsset)) {
		t.Fatalf("tool result should carry the error code: %q", msgs[len(msgs)-1].Content)
	}
}

func TestRunBindingFailureBecomesText(t *testing.T) {
	_, d, pub := setupDispatcher(t, &scriptedLLM{err: errors.New("connection refused")}, "check balance")

	out, err := d.Run(context.Background(), 0, "hi", RunOptions{})
	if err != nil {
		t.Fatalf("binding failures must not surface as errors: %v", err)
	}
	if !strings.Contains(out, "agent1 could not complete the request") {
		t.Fatalf("unexpected text %q", out)
	}
	got := pub.Events()
	if got[len(got)-1].Attributes["outcome"] != string(xerrors.CodePlanningUnavailable) {
		t.Fatalf("unexpected outcome %+v", got[len(got)-1])
	}
}

func TestRunStepLimit(t *testing.T) {
	var responses []*llm.ChatResponse
	for i := 0; i < defaultMaxSteps+1; i++ {
		responses = append(responses, toolCall("c", "get_balance", `{"asset_id":"eth"}`))
	}
	_, d, _ := setupDispatcher(t, &scriptedLLM{responses: responses}, "check balance")

	out, err := d.Run(context.Background(), 0, "loop", RunOptions{})
	if err != nil || !strings.Contains(out, "could not complete") {
		t.Fatalf("expected step-limit text, got %q %v", out, err)
	}
}

func TestRunIdentityAssertion(t *testing.T) {
	pool, d, _ := setupDispatcher(t, &scriptedLLM{}, "check balance")
	id := pool.Agents()[0].Wallet.ID()

	if _, err := d.Run(context.Background(), 0, "hi", RunOptions{IdentityID: "other"}); !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if _, err := d.Run(context.Background(), 0, "hi", RunOptions{IdentityID: id}); err != nil {
		t.Fatalf("matching identity: %v", err)
	}
	if _, err := d.Run(context.Background(), 0, "  ", RunOptions{}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT for empty prompt, got %v", err)
	}
}

func TestInstructionsIncludeGuides(t *testing.T) {
	client := &scriptedLLM{}
	_, d, _ := setupDispatcher(t, client, "vote on proposal 4")
	if _, err := d.Run(context.Background(), 0, "vote yes", RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	system := client.requests[0].Messages[0]
	if system.Role != llm.RoleSystem || !strings.Contains(system.Content, "Proposal ids are integers.") {
		t.Fatalf("guides missing from instructions: %q", system.Content)
	}
	if !strings.Contains(system.Content, "cast_vote") {
		t.Fatalf("tool names missing from instructions")
	}
}

func TestRunRateLimitDeadlineIsTimeout(t *testing.T) {
	client := llm.NewRateLimited(&scriptedLLM{}, 1, 1, 0)
	_, d, pub := setupDispatcher(t, client, "check balance")

	if _, err := d.Run(context.Background(), 0, "first", RunOptions{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := d.Run(ctx, 0, "second", RunOptions{})
	if err != nil || !strings.Contains(out, "could not complete") {
		t.Fatalf("expected failure text, got %q %v", out, err)
	}
	got := pub.Events()
	if outcome := got[len(got)-1].Attributes["outcome"]; outcome != string(xerrors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT outcome, got %s", outcome)
	}
}

// replacingLLM 在第一次推理时重建代理池。
type replacingLLM struct {
	pool *Pool
	once sync.Once
}

func (r *replacingLLM) Chat(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	var err error
	r.once.Do(func() { _, err = r.pool.CreateAgents(ctx, "check balance") })
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{Content: "done"}, nil
}

func TestRunEventKeepsAgentVersion(t *testing.T) {
	client := &replacingLLM{}
	pool, d, pub := setupDispatcher(t, client, "check balance")
	client.pool = pool

	if _, err := d.Run(context.Background(), 0, "hi", RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if pool.Generation().Version != 2 {
		t.Fatalf("pool should have been replaced during the run")
	}
	got := pub.Events()
	last := got[len(got)-1]
	if last.Type != events.TypeAgentRun || last.Version != 1 {
		t.Fatalf("run event should carry version 1, got %+v", last)
	}
}
