package capability

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/identity"
	"OnChainAgents/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Wallet is the identity surface capabilities act through. *identity.Wallet
// satisfies it.
type Wallet interface {
	Address() common.Address
	Network() web3.Network
	Balance(ctx context.Context, assetID string) (decimal.Decimal, error)
	Transfer(ctx context.Context, amount decimal.Decimal, assetID, destination string) (*web3.Receipt, error)
	Deploy(ctx context.Context, artifact web3.Artifact, params ...any) (*web3.Receipt, error)
	Invoke(ctx context.Context, contract common.Address, abiJSON, method string, value *big.Int, params ...any) (*web3.Receipt, error)
	Faucet(ctx context.Context) (*web3.Receipt, error)
}

var _ Wallet = (*identity.Wallet)(nil)

// Env carries what a capability needs besides its parameters.
type Env struct {
	Wallet    Wallet
	Artifacts *web3.Artifacts
	Now       func() time.Time
}

const (
	swapDeadline          = 20 * time.Minute
	tokenDecimals         = 18
	defaultBasenameAmount = "0.002"
)

// Invoke executes req against env and returns a human-readable result.
// State-changing branches block until the transaction is terminal.
func Invoke(ctx context.Context, env Env, req Request) (string, error) {
	if env.Wallet == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "能力执行缺少钱包")
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	w := env.Wallet

	switch r := req.(type) {
	case GetBalance:
		balance, err := w.Balance(ctx, r.AssetID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Balance of %s at address %s is %s", r.AssetID, w.Address().Hex(), balance.String()), nil

	case TransferAsset:
		amount, err := parseAmount(r.Amount)
		if err != nil {
			return "", err
		}
		receipt, err := w.Transfer(ctx, amount, r.AssetID, r.Destination)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Transferred %s %s to %s. Transaction hash: %s", amount, r.AssetID, r.Destination, receipt.TxHash.Hex()), nil

	case RequestFaucetFunds:
		receipt, err := w.Faucet(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Requested ETH from faucet. Transaction hash: %s", receipt.TxHash.Hex()), nil

	case CreateToken:
		artifact, err := artifactFor(env, web3.ArtifactToken)
		if err != nil {
			return "", err
		}
		supply, err := parseAmount(r.InitialSupply)
		if err != nil {
			return "", err
		}
		units, err := identity.ToUnits(supply, tokenDecimals)
		if err != nil {
			return "", err
		}
		receipt, err := w.Deploy(ctx, artifact, r.Name, r.Symbol, units)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Deployed token %s (%s) at %s", r.Name, r.Symbol, receipt.ContractAddress.Hex()), nil

	case DeployNFT:
		artifact, err := artifactFor(env, web3.ArtifactNFT)
		if err != nil {
			return "", err
		}
		receipt, err := w.Deploy(ctx, artifact, r.Name, r.Symbol, r.BaseURI)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Deployed NFT collection %s (%s) at %s", r.Name, r.Symbol, receipt.ContractAddress.Hex()), nil

	case MintNFT:
		contract, err := identity.ParseAddress(r.ContractAddress)
		if err != nil {
			return "", err
		}
		to, err := identity.ParseAddress(r.MintTo)
		if err != nil {
			return "", err
		}
		abiJSON := env.Artifacts.ABI(web3.ArtifactNFT, web3.NFTABI)
		receipt, err := w.Invoke(ctx, contract, abiJSON, "mint", nil, to, big.NewInt(1))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Minted NFT from contract %s to address %s. Transaction hash: %s", contract.Hex(), to.Hex(), receipt.TxHash.Hex()), nil

	case SwapAssets:
		return swap(ctx, env, r)

	case RegisterBasename:
		return registerBasename(ctx, w, r)

	case StakeAssets:
		contract, ok := w.Network().Contract(web3.ContractStaking)
		if !ok {
			return "", unsupported(w, "质押合约")
		}
		value, err := nativeUnits(r.Amount)
		if err != nil {
			return "", err
		}
		receipt, err := w.Invoke(ctx, contract, web3.StakingABI, "stake", value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Staked %s ETH in %s. Transaction hash: %s", r.Amount, contract.Hex(), receipt.TxHash.Hex()), nil

	case CastVote:
		contract, ok := w.Network().Contract(web3.ContractVoting)
		if !ok {
			return "", unsupported(w, "投票合约")
		}
		proposal, ok := new(big.Int).SetString(strings.TrimSpace(r.ProposalID), 10)
		if !ok || proposal.Sign() < 0 {
			return "", xerrors.Newf(xerrors.CodeInvalidArgument, "非法的提案编号 %q", r.ProposalID)
		}
		receipt, err := w.Invoke(ctx, contract, web3.VotingABI, "vote", nil, proposal)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Voted on proposal %s. Transaction hash: %s", proposal, receipt.TxHash.Hex()), nil

	default:
		return "", xerrors.Newf(xerrors.CodeCapabilityDenied, "未知能力请求 %T", req)
	}
}

func swap(ctx context.Context, env Env, r SwapAssets) (string, error) {
	w := env.Wallet
	network := w.Network()
	if !network.IsMain() {
		return "", xerrors.Newf(xerrors.CodeUnsupportedOperation, "兑换仅在主网可用，当前网络 %s", network.Name)
	}
	router, ok := network.Contract(web3.ContractSwapRouter)
	if !ok {
		return "", unsupported(w, "兑换路由合约")
	}
	wrapped, ok := network.Contract(web3.ContractWrappedNative)
	if !ok {
		return "", unsupported(w, "包装原生资产合约")
	}
	from, ok := network.Asset(r.FromAssetID)
	if !ok {
		return "", xerrors.Newf(xerrors.CodeUnsupportedAsset, "网络 %s 不支持资产 %s", network.Name, r.FromAssetID)
	}
	to, ok := network.Asset(r.ToAssetID)
	if !ok {
		return "", xerrors.Newf(xerrors.CodeUnsupportedAsset, "网络 %s 不支持资产 %s", network.Name, r.ToAssetID)
	}
	if from.Symbol == to.Symbol {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "兑换的源资产与目标资产相同")
	}
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return "", err
	}
	units, err := identity.ToUnits(amount, from.Decimals)
	if err != nil {
		return "", err
	}

	deadline := big.NewInt(env.Now().Add(swapDeadline).Unix())
	minOut := big.NewInt(0)
	self := w.Address()

	var receipt *web3.Receipt
	switch {
	case from.Native:
		receipt, err = w.Invoke(ctx, router, web3.SwapRouterABI, "swapExactETHForTokens", units,
			minOut, []common.Address{wrapped, to.Address}, self, deadline)
	default:
		if _, err = w.Invoke(ctx, from.Address, web3.ERC20ABI, "approve", nil, router, units); err != nil {
			return "", err
		}
		if to.Native {
			receipt, err = w.Invoke(ctx, router, web3.SwapRouterABI, "swapExactTokensForETH", nil,
				units, minOut, []common.Address{from.Address, wrapped}, self, deadline)
		} else {
			receipt, err = w.Invoke(ctx, router, web3.SwapRouterABI, "swapExactTokensForTokens", nil,
				units, minOut, []common.Address{from.Address, wrapped, to.Address}, self, deadline)
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Swapped %s %s for %s. Transaction hash: %s", amount, from.Symbol, to.Symbol, receipt.TxHash.Hex()), nil
}

func artifactFor(env Env, name string) (web3.Artifact, error) {
	if env.Artifacts == nil {
		return web3.Artifact{}, xerrors.Newf(xerrors.CodeUnsupportedOperation, "未配置合约产物 %s", name)
	}
	artifact, ok := env.Artifacts.Get(name)
	if !ok {
		return web3.Artifact{}, xerrors.Newf(xerrors.CodeUnsupportedOperation, "未配置合约产物 %s", name)
	}
	return artifact, nil
}

func unsupported(w Wallet, what string) error {
	return xerrors.Newf(xerrors.CodeUnsupportedOperation, "网络 %s 未配置%s", w.Network().Name, what)
}

func parseAmount(value string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Decimal{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("非法的数量 %q", value))
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, xerrors.Newf(xerrors.CodeInvalidArgument, "数量必须为正数: %s", value)
	}
	return amount, nil
}

func nativeUnits(value string) (*big.Int, error) {
	amount, err := parseAmount(value)
	if err != nil {
		return nil, err
	}
	return identity.ToUnits(amount, tokenDecimals)
}
