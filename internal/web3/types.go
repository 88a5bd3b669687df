package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	Network     string `json:"network"`
	Kind        string `json:"kind"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Receipt is the terminal outcome of a state-changing operation. A Receipt is
// only returned once the transaction has been mined successfully.
type Receipt struct {
	TxHash          common.Hash
	ContractAddress common.Address
	BlockNumber     uint64
	GasUsed         uint64
	Logs            []*types.Log
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
//
// Every state-changing call blocks until the transaction reaches a terminal
// state. Reverted transactions and provider rejections surface as
// EXTERNAL_OPERATION_FAILED, an exhausted receipt wait as TIMEOUT.
type Client interface {
	Network() Network
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	Call(ctx context.Context, contract common.Address, abiJSON, method string, params ...any) ([]any, error)
	TransferNative(ctx context.Context, auth *bind.TransactOpts, to common.Address, amount *big.Int) (*Receipt, error)
	Deploy(ctx context.Context, auth *bind.TransactOpts, abiJSON string, bytecode []byte, params ...any) (*Receipt, error)
	Invoke(ctx context.Context, auth *bind.TransactOpts, contract common.Address, abiJSON, method string, params ...any) (*Receipt, error)
	Close()
}
