package identity

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"OnChainAgents/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

type chainCall struct {
	kind   string
	from   common.Address
	to     common.Address
	method string
	amount *big.Int
	params []any
}

// stubChain records every call and answers reads from fixed balances.
type stubChain struct {
	network web3.Network

	mu       sync.Mutex
	native   map[common.Address]*big.Int
	tokens   map[common.Address]*big.Int
	calls    []chainCall
	failWith error
}

func newStubChain(t *testing.T, kind string) *stubChain {
	t.Helper()
	network, err := web3.NewNetwork("base-"+kind, web3.ChainDefinition{
		Kind:    kind,
		ChainID: 84532,
		Assets: map[string]web3.AssetDefinition{
			"usdc": {Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: ptr[int32](6), Gasless: true},
			"weth": {Address: "0x4200000000000000000000000000000000000006", Decimals: ptr[int32](18)},
		},
	})
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	return &stubChain{
		network: network,
		native:  map[common.Address]*big.Int{},
		tokens:  map[common.Address]*big.Int{},
	}
}

func (s *stubChain) record(call chainCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubChain) writes() []chainCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chainCall
	for _, c := range s.calls {
		if c.kind != "call" && c.kind != "balance" {
			out = append(out, c)
		}
	}
	return out
}

func (s *stubChain) Network() web3.Network { return s.network }

func (s *stubChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Network: s.network.Name, ChainID: "0x14a34", BlockNumber: "0x1"}, nil
}

func (s *stubChain) BalanceAt(_ context.Context, account common.Address) (*big.Int, error) {
	s.record(chainCall{kind: "balance", to: account})
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.native[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (s *stubChain) Call(_ context.Context, contract common.Address, _ string, method string, params ...any) ([]any, error) {
	s.record(chainCall{kind: "call", to: contract, method: method, params: params})
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.tokens[contract]; ok {
		return []any{new(big.Int).Set(b)}, nil
	}
	return []any{big.NewInt(0)}, nil
}

func (s *stubChain) TransferNative(_ context.Context, auth *bind.TransactOpts, to common.Address, amount *big.Int) (*web3.Receipt, error) {
	s.record(chainCall{kind: "transfer", from: auth.From, to: to, amount: amount})
	if s.failWith != nil {
		return nil, s.failWith
	}
	return &web3.Receipt{TxHash: common.HexToHash("0x01")}, nil
}

func (s *stubChain) Deploy(_ context.Context, auth *bind.TransactOpts, _ string, _ []byte, params ...any) (*web3.Receipt, error) {
	s.record(chainCall{kind: "deploy", from: auth.From, params: params})
	if s.failWith != nil {
		return nil, s.failWith
	}
	return &web3.Receipt{TxHash: common.HexToHash("0x02"), ContractAddress: common.HexToAddress("0xc0ffee")}, nil
}

func (s *stubChain) Invoke(_ context.Context, auth *bind.TransactOpts, contract common.Address, _ string, method string, params ...any) (*web3.Receipt, error) {
	s.record(chainCall{kind: "invoke", from: auth.From, to: contract, method: method, amount: auth.Value, params: params})
	if s.failWith != nil {
		return nil, s.failWith
	}
	return &web3.Receipt{TxHash: common.HexToHash("0x03")}, nil
}

func (s *stubChain) Close() {}

var _ web3.Client = (*stubChain)(nil)

func ptr[T any](v T) *T { return &v }
