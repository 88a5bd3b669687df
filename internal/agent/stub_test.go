package agent

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"OnChainAgents/internal/capability"
	"OnChainAgents/internal/llm"
	"OnChainAgents/internal/planner"
	"OnChainAgents/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// keywordOracle 按关键字把任务拆成子任务，模拟规划模型。
type keywordOracle struct {
	err error
}

func (o keywordOracle) Decompose(_ context.Context, description string, _ []capability.Descriptor) ([]planner.SubTask, error) {
	if o.err != nil {
		return nil, o.err
	}
	var out []planner.SubTask
	lower := strings.ToLower(description)
	if strings.Contains(lower, "balance") {
		out = append(out, planner.SubTask{Task: "check balance", Flow: "query", Capabilities: []string{"get_balance"}})
	}
	if strings.Contains(lower, "vote") {
		out = append(out, planner.SubTask{Task: "vote on proposal", Flow: "cast vote", Capabilities: []string{"cast_vote", "teleport"}})
	}
	return out, nil
}

func newTestPlanner(err error) *planner.Planner {
	return planner.New(keywordOracle{err: err})
}

type stubWallet struct {
	id      string
	address common.Address
	network web3.Network

	mu      sync.Mutex
	balance decimal.Decimal
	calls   []string
	err     error
}

func (w *stubWallet) ID() string               { return w.id }
func (w *stubWallet) Address() common.Address { return w.address }
func (w *stubWallet) Network() web3.Network     { return w.network }

func (w *stubWallet) record(op string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, op)
	return w.err
}

func (w *stubWallet) ops() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func (w *stubWallet) Balance(context.Context, string) (decimal.Decimal, error) {
	if err := w.record("balance"); err != nil {
		return decimal.Zero, err
	}
	return w.balance, nil
}

func (w *stubWallet) Transfer(context.Context, decimal.Decimal, string, string) (*web3.Receipt, error) {
	if err := w.record("transfer"); err != nil {
		return nil, err
	}
	return &web3.Receipt{TxHash: common.HexToHash("0x01")}, nil
}

func (w *stubWallet) Deploy(context.Context, web3.Artifact, ...any) (*web3.Receipt, error) {
	if err := w.record("deploy"); err != nil {
		return nil, err
	}
	return &web3.Receipt{TxHash: common.HexToHash("0x02")}, nil
}

func (w *stubWallet) Invoke(_ context.Context, _ common.Address, _, method string, _ *big.Int, _ ...any) (*web3.Receipt, error) {
	if err := w.record("invoke:" + method); err != nil {
		return nil, err
	}
	return &web3.Receipt{TxHash: common.HexToHash("0x03")}, nil
}

func (w *stubWallet) Faucet(context.Context) (*web3.Receipt, error) {
	if err := w.record("faucet"); err != nil {
		return nil, err
	}
	return &web3.Receipt{TxHash: common.HexToHash("0x04")}, nil
}

// stubIdentities 每次 Provision 生成一个新钱包。
type stubIdentities struct {
	t       *testing.T
	network web3.Network
	seq     atomic.Int64
	failAt  int64

	mu    sync.Mutex
	known map[string]*stubWallet
}

func newStubIdentities(t *testing.T) *stubIdentities {
	t.Helper()
	network, err := web3.NewNetwork("stubnet", web3.ChainDefinition{
		Kind:      "test",
		ChainID:   1337,
		Contracts: map[string]string{web3.ContractVoting: "0x00000000000000000000000000000000000000b2"},
	})
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	return &stubIdentities{t: t, network: network, known: map[string]*stubWallet{}}
}

func (s *stubIdentities) Provision(context.Context) (Wallet, error) {
	n := s.seq.Add(1)
	if s.failAt > 0 && n == s.failAt {
		return nil, fmt.Errorf("keystore unavailable")
	}
	w := &stubWallet{
		id:      fmt.Sprintf("id-%d", n),
		address: common.BigToAddress(big.NewInt(n)),
		network: s.network,
		balance: decimal.RequireFromString("1.5"),
	}
	s.mu.Lock()
	s.known[w.id] = w
	s.mu.Unlock()
	return w, nil
}

func (s *stubIdentities) Load(_ context.Context, id string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.known[id]; ok {
		return w, nil
	}
	return nil, fmt.Errorf("identity %s not found", id)
}

// scriptedLLM 按顺序返回预设回复，并记录每次请求。
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	err       error
	requests  []llm.ChatRequest
}

func (s *scriptedLLM) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &llm.ChatResponse{Content: "done"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func toolCall(id, name, args string) *llm.ChatResponse {
	return &llm.ChatResponse{ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: args}}}
}
