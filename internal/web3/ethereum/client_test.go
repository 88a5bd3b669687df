package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// The runtime code emits one log on every call regardless of calldata.
	simpleContractABI        = `[{"type":"function","name":"ping","stateMutability":"nonpayable","inputs":[],"outputs":[]}]`
	simpleContractBin        = "0x6027600c60003960276000f37f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"
	simpleContractEventTopic = "0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
)

func testNetwork(t *testing.T) web3.Network {
	t.Helper()
	network, err := web3.NewNetwork("simulated", web3.ChainDefinition{Kind: "test", ChainID: 1337})
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	return network
}

func newSimulated(t *testing.T) (*backends.SimulatedBackend, *ecdsa.PrivateKey, *bind.TransactOpts) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(1337))
	if err != nil {
		t.Fatalf("new transactor: %v", err)
	}
	alloc := coretypes.GenesisAlloc{
		auth.From: {Balance: new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))},
	}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)
	t.Cleanup(func() { _ = backend.Close() })
	return backend, key, auth
}

func TestClientDeployInvokeTransfer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	backend, _, auth := newSimulated(t)
	client := NewBackendClient(Config{Network: testNetwork(t), PollInterval: 20 * time.Millisecond}, backend)
	t.Cleanup(client.Close)

	deployed, err := client.Deploy(ctx, auth, simpleContractABI, common.FromHex(simpleContractBin))
	if err != nil {
		t.Fatalf("deploy contract: %v", err)
	}
	if deployed.ContractAddress == (common.Address{}) {
		t.Fatal("expected contract address to be non-zero")
	}

	invoked, err := client.Invoke(ctx, auth, deployed.ContractAddress, simpleContractABI, "ping")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(invoked.Logs) == 0 || invoked.Logs[0].Topics[0] != common.HexToHash(simpleContractEventTopic) {
		t.Fatalf("unexpected logs %+v", invoked.Logs)
	}

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	amount := big.NewInt(12345)
	if _, err := client.TransferNative(ctx, auth, recipient, amount); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	balance, err := client.BalanceAt(ctx, recipient)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(amount) != 0 {
		t.Fatalf("unexpected recipient balance %s", balance)
	}

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}
	if snapshot.BlockNumber == "0x0" {
		t.Fatal("expected block number to advance")
	}
}

func TestInvokeRejectsUnknownMethod(t *testing.T) {
	t.Parallel()

	backend, _, auth := newSimulated(t)
	client := NewBackendClient(Config{Network: testNetwork(t)}, backend)

	_, err := client.Invoke(context.Background(), auth, common.Address{}, simpleContractABI, "missing")
	if !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

// unmined hides Commit so transactions stay pending forever.
type unmined struct {
	Backend
}

func TestTransferTimesOutWhenNeverMined(t *testing.T) {
	t.Parallel()

	backend, _, auth := newSimulated(t)
	client := NewBackendClient(Config{
		Network:        testNetwork(t),
		ReceiptTimeout: 200 * time.Millisecond,
		PollInterval:   20 * time.Millisecond,
	}, unmined{backend})

	_, err := client.TransferNative(context.Background(), auth, common.HexToAddress("0x01"), big.NewInt(1))
	if !xerrors.HasCode(err, xerrors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}

// indexing reports the node's "indexing in progress" error for the first few
// receipt lookups before answering normally.
type indexing struct {
	Backend
	sim      *backends.SimulatedBackend
	failures atomic.Int32
}

func (b *indexing) Commit() common.Hash { return b.sim.Commit() }

func (b *indexing) TransactionReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	if b.failures.Add(-1) >= 0 {
		return nil, errors.New("transaction indexing is in progress")
	}
	return b.Backend.TransactionReceipt(ctx, hash)
}

func TestReceiptWaitSurvivesLookupErrors(t *testing.T) {
	t.Parallel()

	backend, _, auth := newSimulated(t)
	flaky := &indexing{Backend: backend, sim: backend}
	flaky.failures.Store(3)
	client := NewBackendClient(Config{
		Network:        testNetwork(t),
		ReceiptTimeout: 5 * time.Second,
		PollInterval:   10 * time.Millisecond,
	}, flaky)

	receipt, err := client.TransferNative(context.Background(), auth, common.HexToAddress("0x02"), big.NewInt(1))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.BlockNumber == 0 {
		t.Fatalf("expected mined receipt, got %+v", receipt)
	}
}

func TestReceiptWaitTimesOutOnPersistentLookupErrors(t *testing.T) {
	t.Parallel()

	backend, _, auth := newSimulated(t)
	flaky := &indexing{Backend: backend, sim: backend}
	flaky.failures.Store(1 << 20)
	client := NewBackendClient(Config{
		Network:        testNetwork(t),
		ReceiptTimeout: 150 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}, flaky)

	_, err := client.TransferNative(context.Background(), auth, common.HexToAddress("0x03"), big.NewInt(1))
	if !xerrors.HasCode(err, xerrors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}
