package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultReceiptTimeout = 2 * time.Minute
	defaultPollInterval   = time.Second
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Network        web3.Network
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Backend is the subset of node access the client relies on. Both
// ethclient.Client and the simulated backend satisfy it.
type Backend interface {
	bind.ContractBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// committer is implemented by simulated backends that mine on demand.
type committer interface {
	Commit() common.Hash
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	network        web3.Network
	rpcClient      *gethrpc.Client
	eth            *ethclient.Client
	backend        Backend
	receiptTimeout time.Duration
	pollInterval   time.Duration
	mu             sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.Network.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("链 %s 未配置 RPC 地址", cfg.Network.Name)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	client := newClient(cfg, eth)
	client.rpcClient = rpcClient
	client.eth = eth
	return client, nil
}

// NewBackendClient wraps an already constructed backend, typically a
// go-ethereum simulated backend in tests.
func NewBackendClient(cfg Config, backend Backend) *Client {
	return newClient(cfg, backend)
}

func newClient(cfg Config, backend Backend) *Client {
	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = defaultReceiptTimeout
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Client{
		network:        cfg.Network,
		backend:        backend,
		receiptTimeout: timeout,
		pollInterval:   poll,
	}
}

// Network returns the network the client is bound to.
func (c *Client) Network() web3.Network {
	return c.network
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Network:     c.network.Name,
		Kind:        string(c.network.Kind),
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.network.Description,
	}, nil
}

// BalanceAt returns the native balance of account at the latest block.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalOperation, err, "查询余额失败")
	}
	return balance, nil
}

// Call performs a read-only contract call.
func (c *Client) Call(ctx context.Context, contract common.Address, abiJSON, method string, params ...any) ([]any, error) {
	parsed, err := parseABI(abiJSON)
	if err != nil {
		return nil, err
	}
	bound := bind.NewBoundContract(contract, parsed, c.backend, c.backend, c.backend)
	var out []any
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalOperation, err, fmt.Sprintf("调用合约方法 %s 失败", method))
	}
	return out, nil
}

// TransferNative sends amount of the native asset to the destination.
func (c *Client) TransferNative(ctx context.Context, auth *bind.TransactOpts, to common.Address, amount *big.Int) (*web3.Receipt, error) {
	if auth == nil {
		return nil, errors.New("未提供交易签名器")
	}
	nonce, err := c.backend.PendingNonceAt(ctx, auth.From)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalOperation, err, "查询交易计数失败")
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalOperation, err, "查询小费失败")
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalOperation, err, "查询最新区块失败")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{From: auth.From, To: &to, Value: amount})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalOperation, err, "估算燃料失败")
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   c.network.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     amount,
	})
	signed, err := auth.Signer(auth.From, tx)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalOperation, err, "发送交易失败")
	}
	return c.waitReceipt(ctx, signed.Hash())
}

// Deploy sends the contract creation transaction and waits for it to be mined.
func (c *Client) Deploy(ctx context.Context, auth *bind.TransactOpts, abiJSON string, bytecode []byte, params ...any) (*web3.Receipt, error) {
	if auth == nil {
		return nil, errors.New("未提供交易签名器")
	}
	if len(bytecode) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "合约字节码不能为空")
	}
	parsed, err := parseABI(abiJSON)
	if err != nil {
		return nil, err
	}

	opts := withContext(auth, ctx)
	address, tx, _, err := bind.DeployContract(opts, parsed, bytecode, c.backend, params...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalOperation, err, "部署合约失败")
	}

	receipt, err := c.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.ContractAddress == (common.Address{}) {
		receipt.ContractAddress = address
	}
	return receipt, nil
}

// Invoke calls a state-changing contract method. auth.Value carries any
// native amount attached to the call.
func (c *Client) Invoke(ctx context.Context, auth *bind.TransactOpts, contract common.Address, abiJSON, method string, params ...any) (*web3.Receipt, error) {
	if auth == nil {
		return nil, errors.New("未提供交易签名器")
	}
	parsed, err := parseABI(abiJSON)
	if err != nil {
		return nil, err
	}
	if _, ok := parsed.Methods[method]; !ok {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "ABI 中不存在方法 %s", method)
	}

	bound := bind.NewBoundContract(contract, parsed, c.backend, c.backend, c.backend)
	tx, err := bound.Transact(withContext(auth, ctx), method, params...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalOperation, err, fmt.Sprintf("调用合约方法 %s 失败", method))
	}
	return c.waitReceipt(ctx, tx.Hash())
}

// waitReceipt polls for the receipt until the transaction is mined or the
// receipt timeout elapses. Lookup errors never end the wait: once broadcast,
// only the receipt status decides failure.
func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*web3.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	c.commit()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lookupErr error
	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != coretypes.ReceiptStatusSuccessful {
				return nil, xerrors.Newf(xerrors.CodeExternalOperation, "交易 %s 执行失败", hash.Hex())
			}
			return &web3.Receipt{
				TxHash:          receipt.TxHash,
				ContractAddress: receipt.ContractAddress,
				BlockNumber:     receipt.BlockNumber.Uint64(),
				GasUsed:         receipt.GasUsed,
				Logs:            receipt.Logs,
			}, nil
		case err != nil && !errors.Is(err, gethcore.NotFound) && waitCtx.Err() == nil:
			// 节点索引未追上或 RPC 抖动，交易仍可能被打包
			lookupErr = err
		}

		select {
		case <-waitCtx.Done():
			cause := waitCtx.Err()
			if lookupErr != nil {
				cause = fmt.Errorf("%w (last lookup error: %v)", cause, lookupErr)
			}
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, cause, fmt.Sprintf("等待交易 %s 确认超时", hash.Hex()))
			}
			return nil, xerrors.Wrap(xerrors.CodeExternalOperation, cause, "等待交易确认被取消")
		case <-ticker.C:
			c.commit()
		}
	}
}

func (c *Client) commit() {
	if sim, ok := c.backend.(committer); ok {
		sim.Commit()
	}
}

func parseABI(abiJSON string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return abi.ABI{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 ABI 失败")
	}
	return parsed, nil
}

// withContext returns a copy of opts bound to ctx.
func withContext(opts *bind.TransactOpts, ctx context.Context) *bind.TransactOpts {
	clone := *opts
	clone.Context = ctx
	return &clone
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
