package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"OnChainAgents/internal/capability"
	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/events"
	"OnChainAgents/internal/planner"
)

func TestCreateAgentsSingleStep(t *testing.T) {
	pub := events.NewMemoryPublisher(10)
	pool := NewPool(newTestPlanner(nil), newStubIdentities(t), BindingConfig{Client: &scriptedLLM{}}, WithEvents(pub))

	agents, err := pool.CreateAgents(context.Background(), "check my balance")
	if err != nil {
		t.Fatalf("create agents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}
	a, err := pool.AgentAt(0)
	if err != nil {
		t.Fatalf("agent at: %v", err)
	}
	if !a.Capabilities.Equal(capability.SetOf(capability.KindGetBalance)) {
		t.Fatalf("unexpected capabilities %v", a.Capabilities.Names())
	}
	if a.Name != "agent1" || a.Task != "check balance" {
		t.Fatalf("unexpected agent %+v", a.View())
	}
	if pool.Generation().Version != 1 {
		t.Fatalf("expected version 1, got %d", pool.Generation().Version)
	}

	var replaced int
	for _, e := range pub.Events() {
		if e.Type == events.TypePoolReplaced {
			replaced++
		}
	}
	if replaced != 1 {
		t.Fatalf("expected one pool.replaced event, got %+v", pub.Events())
	}
}

func TestCreateAgentsDisjointIdentities(t *testing.T) {
	pool := NewPool(newTestPlanner(nil), newStubIdentities(t), BindingConfig{Client: &scriptedLLM{}})

	agents, err := pool.CreateAgents(context.Background(), "check balance and vote on proposal 4")
	if err != nil {
		t.Fatalf("create agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].Wallet.ID() == agents[1].Wallet.ID() {
		t.Fatalf("agents share identity %s", agents[0].Wallet.ID())
	}
	if agents[0].Wallet.Address() == agents[1].Wallet.Address() {
		t.Fatalf("agents share address")
	}
	// teleport 不在目录中，应被丢弃。
	if got := agents[1].Capabilities.Names(); len(got) != 1 || got[0] != "cast_vote" {
		t.Fatalf("unexpected capabilities %v", got)
	}
}

func TestCreateAgentsWithSharedIdentity(t *testing.T) {
	ids := newStubIdentities(t)
	seed, _ := ids.Provision(context.Background())
	pool := NewPool(newTestPlanner(nil), ids, BindingConfig{Client: &scriptedLLM{}})

	agents, err := pool.CreateAgents(context.Background(), "balance and vote", WithIdentity(seed.ID()))
	if err != nil {
		t.Fatalf("create agents: %v", err)
	}
	for _, a := range agents {
		if a.Wallet.ID() != seed.ID() {
			t.Fatalf("agent %s uses %s, want %s", a.Name, a.Wallet.ID(), seed.ID())
		}
	}

	if _, err := pool.CreateAgents(context.Background(), "balance", WithIdentity("missing")); err == nil {
		t.Fatalf("expected error for unknown identity")
	}
	if pool.Generation().Len() != 2 {
		t.Fatalf("failed run must keep previous generation")
	}
}

func TestCreateAgentsEmptyPlan(t *testing.T) {
	pool := NewPool(newTestPlanner(nil), newStubIdentities(t), BindingConfig{Client: &scriptedLLM{}})
	if _, err := pool.CreateAgents(context.Background(), "check balance"); err != nil {
		t.Fatalf("create agents: %v", err)
	}

	agents, err := pool.CreateAgents(context.Background(), "irrelevant unrelated task")
	if err != nil {
		t.Fatalf("empty plan should not fail: %v", err)
	}
	if len(agents) != 0 || len(pool.Agents()) != 0 {
		t.Fatalf("expected empty pool, got %d", len(pool.Agents()))
	}
	if pool.Generation().Version != 2 {
		t.Fatalf("empty plan still replaces the pool")
	}
}

func TestCreateAgentsFailureKeepsGeneration(t *testing.T) {
	ids := newStubIdentities(t)
	pool := NewPool(newTestPlanner(nil), ids, BindingConfig{Client: &scriptedLLM{}})
	if _, err := pool.CreateAgents(context.Background(), "check balance"); err != nil {
		t.Fatalf("create agents: %v", err)
	}
	before := pool.Generation()

	ids.failAt = 3
	if _, err := pool.CreateAgents(context.Background(), "balance and vote"); err == nil {
		t.Fatalf("expected provisioning failure")
	}
	if pool.Generation() != before {
		t.Fatalf("generation changed after failed provisioning")
	}

	failing := NewPool(newTestPlanner(errors.New("oracle down")), ids, BindingConfig{})
	_, err := failing.CreateAgents(context.Background(), "check balance")
	if !xerrors.HasCode(err, xerrors.CodePlanningUnavailable) {
		t.Fatalf("expected PLANNING_UNAVAILABLE, got %v", err)
	}
}

func TestAgentAtRange(t *testing.T) {
	pool := NewPool(newTestPlanner(nil), newStubIdentities(t), BindingConfig{Client: &scriptedLLM{}})
	if _, err := pool.AgentAt(0); !xerrors.HasCode(err, xerrors.CodeIndexOutOfRange) {
		t.Fatalf("empty pool: expected INDEX_OUT_OF_RANGE, got %v", err)
	}
	if _, err := pool.CreateAgents(context.Background(), "balance and vote"); err != nil {
		t.Fatalf("create agents: %v", err)
	}
	for _, idx := range []int{-1, 2, 5} {
		if _, err := pool.AgentAt(idx); !xerrors.HasCode(err, xerrors.CodeIndexOutOfRange) {
			t.Fatalf("index %d: expected INDEX_OUT_OF_RANGE, got %v", idx, err)
		}
	}
	for idx := 0; idx < 2; idx++ {
		a, err := pool.AgentAt(idx)
		if err != nil || a.Index != idx {
			t.Fatalf("index %d: %v %+v", idx, err, a)
		}
	}
}

func TestResetClearsPool(t *testing.T) {
	pool := NewPool(newTestPlanner(nil), newStubIdentities(t), BindingConfig{Client: &scriptedLLM{}})
	if _, err := pool.CreateAgents(context.Background(), "check balance"); err != nil {
		t.Fatalf("create agents: %v", err)
	}
	pool.Reset(context.Background())
	if pool.Generation().Len() != 0 || pool.Generation().Version != 2 {
		t.Fatalf("unexpected generation after reset: %+v", pool.Generation())
	}
}

// runOracle 给每次规划的所有子任务打上同一个运行编号。
type runOracle struct {
	runs atomic.Int64
}

func (o *runOracle) Decompose(context.Context, string, []capability.Descriptor) ([]planner.SubTask, error) {
	run := o.runs.Add(1)
	return []planner.SubTask{
		{Task: fmt.Sprintf("run%d/balance", run), Capabilities: []string{"get_balance"}},
		{Task: fmt.Sprintf("run%d/vote", run), Capabilities: []string{"cast_vote"}},
		{Task: fmt.Sprintf("run%d/transfer", run), Capabilities: []string{"transfer_asset"}},
	}, nil
}

// 读取方只会看到某一次规划的完整结果。
func TestConcurrentCreateAndRead(t *testing.T) {
	pool := NewPool(planner.New(&runOracle{}), newStubIdentities(t), BindingConfig{Client: &scriptedLLM{}})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.CreateAgents(ctx, "balance, vote and transfer"); err != nil {
				t.Errorf("create agents: %v", err)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				gen := pool.Generation()
				agents := gen.Agents()
				if n := len(agents); n != 0 && n != 3 {
					t.Errorf("unexpected pool size %d", n)
					continue
				}
				runs := map[string]struct{}{}
				for i, a := range agents {
					if a.Index != i || a.Version != gen.Version {
						t.Errorf("agent %+v does not belong to version %d", a, gen.Version)
					}
					runs[strings.SplitN(a.Task, "/", 2)[0]] = struct{}{}
				}
				if len(runs) > 1 {
					t.Errorf("version %d mixes planning runs %v", gen.Version, runs)
				}
			}
		}()
	}
	wg.Wait()

	if pool.Generation().Version != 8 {
		t.Fatalf("expected 8 generations, got %d", pool.Generation().Version)
	}
}
