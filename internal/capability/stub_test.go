package capability

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"OnChainAgents/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type invocation struct {
	op       string
	contract common.Address
	method   string
	value    *big.Int
	params   []any
}

type stubWallet struct {
	mu      sync.Mutex
	network web3.Network
	address common.Address
	balance decimal.Decimal
	calls   []invocation
	err     error
}

func newStubWallet(t *testing.T, kind web3.NetworkKind, contracts map[string]string) *stubWallet {
	t.Helper()
	network, err := web3.NewNetwork("stubnet", web3.ChainDefinition{
		Type:    "evm",
		Kind:    string(kind),
		ChainID: 1337,
		Assets: map[string]web3.AssetDefinition{
			"usdc": {Address: "0x00000000000000000000000000000000000000c1", Decimals: ptr[int32](6)},
		},
		Contracts: contracts,
	})
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	return &stubWallet{network: network, address: common.HexToAddress("0x00000000000000000000000000000000000000a1")}
}

func (s *stubWallet) record(inv invocation) (*web3.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, inv)
	if s.err != nil {
		return nil, s.err
	}
	return &web3.Receipt{TxHash: common.HexToHash("0x01"), ContractAddress: common.HexToAddress("0x00000000000000000000000000000000000000d1")}, nil
}

func (s *stubWallet) Address() common.Address { return s.address }
func (s *stubWallet) Network() web3.Network     { return s.network }

func (s *stubWallet) Balance(context.Context, string) (decimal.Decimal, error) {
	return s.balance, s.err
}

func (s *stubWallet) Transfer(_ context.Context, amount decimal.Decimal, assetID, destination string) (*web3.Receipt, error) {
	return s.record(invocation{op: "transfer", params: []any{amount, assetID, destination}})
}

func (s *stubWallet) Deploy(_ context.Context, artifact web3.Artifact, params ...any) (*web3.Receipt, error) {
	return s.record(invocation{op: "deploy", method: artifact.Name, params: params})
}

func (s *stubWallet) Invoke(_ context.Context, contract common.Address, _ string, method string, value *big.Int, params ...any) (*web3.Receipt, error) {
	return s.record(invocation{op: "invoke", contract: contract, method: method, value: value, params: params})
}

func (s *stubWallet) Faucet(context.Context) (*web3.Receipt, error) {
	return s.record(invocation{op: "faucet"})
}

func (s *stubWallet) invocations() []invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]invocation(nil), s.calls...)
}

func ptr[T any](v T) *T { return &v }
