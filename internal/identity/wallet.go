package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
)

// Wallet is one live identity bound to a network. All state-changing calls
// are serialised per wallet so nonces are never raced.
type Wallet struct {
	id        string
	key       *ecdsa.PrivateKey
	address   common.Address
	createdAt time.Time
	client    web3.Client
	funds     *funding

	mu sync.Mutex
}

// funding carries the shared keys that pay on behalf of wallets. Each key has
// its own lock since many wallets share it.
type funding struct {
	faucet       *ecdsa.PrivateKey
	faucetAmount decimal.Decimal
	faucetMu     sync.Mutex

	sponsor   *ecdsa.PrivateKey
	sponsorMu sync.Mutex
}

func newWallet(id string, key *ecdsa.PrivateKey, createdAt time.Time, client web3.Client, funds *funding) *Wallet {
	return &Wallet{
		id:        id,
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		createdAt: createdAt,
		client:    client,
		funds:     funds,
	}
}

// ID returns the identity id.
func (w *Wallet) ID() string { return w.id }

// Address returns the public address.
func (w *Wallet) Address() common.Address { return w.address }

// CreatedAt returns the creation time of the identity.
func (w *Wallet) CreatedAt() time.Time { return w.createdAt }

// Network returns the network the wallet operates on.
func (w *Wallet) Network() web3.Network { return w.client.Network() }

// LogValue renders the public projection only.
func (w *Wallet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("identity_id", w.id),
		slog.String("address", w.address.Hex()),
		slog.String("network", w.client.Network().Name),
	)
}

// String never includes secret material.
func (w *Wallet) String() string {
	return fmt.Sprintf("wallet(%s %s)", w.id, w.address.Hex())
}

func (w *Wallet) sameKey(key *ecdsa.PrivateKey) bool {
	return w.key.D.Cmp(key.D) == 0
}

// Balance returns the balance of asset, which may be a symbol or a configured
// token address.
func (w *Wallet) Balance(ctx context.Context, assetID string) (decimal.Decimal, error) {
	asset, err := w.resolveAsset(assetID)
	if err != nil {
		return decimal.Zero, err
	}
	units, err := w.balanceUnits(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(units, -asset.Decimals), nil
}

// Transfer moves amount of asset to destination and blocks until the
// transfer is mined or fails.
//
// Non-native assets that are not eligible for sponsored transfers are checked
// against the balance first; a shortfall fails without touching the chain.
func (w *Wallet) Transfer(ctx context.Context, amount decimal.Decimal, assetID, destination string) (*web3.Receipt, error) {
	asset, err := w.resolveAsset(assetID)
	if err != nil {
		return nil, err
	}
	to, err := ParseAddress(destination)
	if err != nil {
		return nil, err
	}
	units, err := ToUnits(amount, asset.Decimals)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	network := w.client.Network()
	gasless := network.GaslessEligible(asset) && w.funds != nil && w.funds.sponsor != nil
	if !asset.Native && !gasless {
		balance, err := w.balanceUnits(ctx, asset)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(units) < 0 {
			return nil, xerrors.Newf(xerrors.CodeInsufficientBalance, "余额不足: 需要 %s %s，当前 %s",
				amount.String(), asset.Symbol, decimal.NewFromBigInt(balance, -asset.Decimals).String())
		}
	}

	auth, err := w.transactor(w.key)
	if err != nil {
		return nil, err
	}
	switch {
	case asset.Native:
		return w.client.TransferNative(ctx, auth, to, units)
	case gasless:
		return w.sponsoredTransfer(ctx, asset, to, units)
	default:
		return w.client.Invoke(ctx, auth, asset.Address, web3.ERC20ABI, "transfer", to, units)
	}
}

// Deploy creates a contract from a compiled artifact.
func (w *Wallet) Deploy(ctx context.Context, artifact web3.Artifact, params ...any) (*web3.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	auth, err := w.transactor(w.key)
	if err != nil {
		return nil, err
	}
	return w.client.Deploy(ctx, auth, artifact.ABI, artifact.Bytecode, params...)
}

// Invoke calls a state-changing contract method, attaching value wei when
// value is non-nil.
func (w *Wallet) Invoke(ctx context.Context, contract common.Address, abiJSON, method string, value *big.Int, params ...any) (*web3.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	auth, err := w.transactor(w.key)
	if err != nil {
		return nil, err
	}
	if value != nil {
		auth.Value = value
	}
	return w.client.Invoke(ctx, auth, contract, abiJSON, method, params...)
}

// Call performs a read-only contract call.
func (w *Wallet) Call(ctx context.Context, contract common.Address, abiJSON, method string, params ...any) ([]any, error) {
	return w.client.Call(ctx, contract, abiJSON, method, params...)
}

// Faucet funds the wallet from the configured faucet key. Test networks only.
func (w *Wallet) Faucet(ctx context.Context) (*web3.Receipt, error) {
	network := w.client.Network()
	if !network.IsTest() {
		return nil, xerrors.Newf(xerrors.CodeUnsupportedOperation, "水龙头仅在测试网可用，当前网络 %s", network.Name)
	}
	if w.funds == nil || w.funds.faucet == nil {
		return nil, xerrors.New(xerrors.CodeUnsupportedOperation, "未配置水龙头账户")
	}
	units, err := ToUnits(w.funds.faucetAmount, 18)
	if err != nil {
		return nil, err
	}

	w.funds.faucetMu.Lock()
	defer w.funds.faucetMu.Unlock()

	auth, err := w.transactor(w.funds.faucet)
	if err != nil {
		return nil, err
	}
	return w.client.TransferNative(ctx, auth, w.address, units)
}

// sponsoredTransfer signs an EIP-3009 transferWithAuthorization and lets the
// sponsor key submit it, so the wallet pays no gas.
func (w *Wallet) sponsoredTransfer(ctx context.Context, asset web3.Asset, to common.Address, units *big.Int) (*web3.Receipt, error) {
	network := w.client.Network()

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("生成授权随机数失败: %w", err)
	}
	validBefore := big.NewInt(time.Now().Add(time.Hour).Unix())

	domainName, domainVersion := asset.DomainName, asset.DomainVersion
	if domainName == "" {
		domainName = strings.ToUpper(asset.Symbol)
	}
	if domainVersion == "" {
		domainVersion = "2"
	}

	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(network.ChainID)),
			VerifyingContract: asset.Address.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        w.address.Hex(),
			"to":          to.Hex(),
			"value":       units.String(),
			"validAfter":  "0",
			"validBefore": validBefore.String(),
			"nonce":       hexutil.Encode(nonce[:]),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("构造转账授权失败: %w", err)
	}
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, fmt.Errorf("签名转账授权失败: %w", err)
	}
	var r, s [32]byte
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v := sig[64] + 27

	w.funds.sponsorMu.Lock()
	defer w.funds.sponsorMu.Unlock()

	auth, err := w.transactor(w.funds.sponsor)
	if err != nil {
		return nil, err
	}
	return w.client.Invoke(ctx, auth, asset.Address, web3.ERC20ABI, "transferWithAuthorization",
		w.address, to, units, big.NewInt(0), validBefore, nonce, v, r, s)
}

func (w *Wallet) resolveAsset(assetID string) (web3.Asset, error) {
	network := w.client.Network()
	asset, ok := network.Asset(assetID)
	if !ok {
		return web3.Asset{}, xerrors.Newf(xerrors.CodeUnsupportedAsset, "网络 %s 不支持资产 %q", network.Name, assetID)
	}
	return asset, nil
}

func (w *Wallet) balanceUnits(ctx context.Context, asset web3.Asset) (*big.Int, error) {
	if asset.Native {
		return w.client.BalanceAt(ctx, w.address)
	}
	out, err := w.client.Call(ctx, asset.Address, web3.ERC20ABI, "balanceOf", w.address)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, xerrors.New(xerrors.CodeExternalOperation, "balanceOf 返回值异常")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeExternalOperation, "balanceOf 返回值类型异常")
	}
	return balance, nil
}

func (w *Wallet) transactor(key *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(key, w.client.Network().ChainID)
	if err != nil {
		return nil, fmt.Errorf("创建交易签名器失败: %w", err)
	}
	return auth, nil
}

// ParseAddress validates a user-supplied address.
func ParseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "非法的目标地址 %q", value)
	}
	return common.HexToAddress(value), nil
}

// ToUnits converts a decimal amount to integer base units. Amounts finer
// than the asset precision are rejected.
func ToUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "金额必须大于 0")
	}
	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "金额 %s 超出资产精度 %d", amount.String(), decimals)
	}
	return shifted.BigInt(), nil
}

