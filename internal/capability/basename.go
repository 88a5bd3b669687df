package capability

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// One year in seconds, the registration period used by the registrar.
const basenameDuration = 31557600

// registerRequest mirrors the registrar's RegisterRequest tuple.
type registerRequest struct {
	Name          string
	Owner         common.Address
	Duration      *big.Int
	Resolver      common.Address
	Data          [][]byte
	ReverseRecord bool
}

var resolverABI = mustParseABI(web3.L2ResolverABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("解析内置 ABI 失败: %v", err))
	}
	return parsed
}

func registerBasename(ctx context.Context, w Wallet, r RegisterBasename) (string, error) {
	network := w.Network()
	registrar, ok := network.Contract(web3.ContractBasenameRegistrar)
	if !ok {
		return "", unsupported(w, "basename 注册合约")
	}
	resolver, ok := network.Contract(web3.ContractBasenameResolver)
	if !ok {
		return "", unsupported(w, "basename 解析合约")
	}

	full, label, err := normalizeBasename(r.Basename, network.BasenameSuffix)
	if err != nil {
		return "", err
	}
	amount := r.Amount
	if strings.TrimSpace(amount) == "" {
		amount = defaultBasenameAmount
	}
	value, err := nativeUnits(amount)
	if err != nil {
		return "", err
	}

	owner := w.Address()
	node := Namehash(full)
	setAddr, err := resolverABI.Pack("setAddr", node, owner)
	if err != nil {
		return "", fmt.Errorf("编码 setAddr 失败: %w", err)
	}
	setName, err := resolverABI.Pack("setName", node, full)
	if err != nil {
		return "", fmt.Errorf("编码 setName 失败: %w", err)
	}

	req := registerRequest{
		Name:          label,
		Owner:         owner,
		Duration:      big.NewInt(basenameDuration),
		Resolver:      resolver,
		Data:          [][]byte{setAddr, setName},
		ReverseRecord: true,
	}
	receipt, err := w.Invoke(ctx, registrar, web3.BasenameRegistrarABI, "register", value, req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Registered basename %s for address %s. Transaction hash: %s", full, owner.Hex(), receipt.TxHash.Hex()), nil
}

// normalizeBasename appends the network suffix when missing and returns the
// full name together with the bare label.
func normalizeBasename(name, suffix string) (string, string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	suffix = strings.ToLower(suffix)
	if !strings.HasSuffix(name, suffix) {
		name += suffix
	}
	label := strings.TrimSuffix(name, suffix)
	if label == "" || strings.Contains(label, ".") {
		return "", "", xerrors.Newf(xerrors.CodeInvalidArgument, "非法的 basename %q", name)
	}
	return name, label, nil
}

// Namehash computes the ENS namehash of name.
func Namehash(name string) [32]byte {
	var node [32]byte
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256([]byte(labels[i]))
		copy(node[:], crypto.Keccak256(node[:], label))
	}
	return node
}
