package web3

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// NetworkKind separates test networks from production networks. Several
// capabilities are only legal on one of them.
type NetworkKind string

const (
	KindTest NetworkKind = "test"
	KindMain NetworkKind = "main"
)

// Well-known contract names looked up through Network.Contract.
const (
	ContractBasenameRegistrar = "basename_registrar"
	ContractBasenameResolver  = "basename_resolver"
	ContractSwapRouter        = "swap_router"
	ContractWrappedNative     = "wrapped_native"
	ContractStaking           = "staking"
	ContractVoting            = "voting"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type           string                     `yaml:"type"`
	Kind           string                     `yaml:"kind"`
	ChainID        int64                      `yaml:"chain_id"`
	RPCURL         string                     `yaml:"rpc_url"`
	Description    string                     `yaml:"description"`
	NativeAsset    string                     `yaml:"native_asset"`
	BasenameSuffix string                     `yaml:"basename_suffix"`
	Assets         map[string]AssetDefinition `yaml:"assets"`
	Contracts      map[string]string          `yaml:"contracts"`
}

// AssetDefinition describes an ERC-20 asset known on a chain.
type AssetDefinition struct {
	Address       string `yaml:"address"`
	Decimals      *int32 `yaml:"decimals"` // 未配置时按 18 位处理
	Gasless       bool   `yaml:"gasless"`
	EIP712Name    string `yaml:"eip712_name"`
	EIP712Version string `yaml:"eip712_version"`
}

// Asset is the resolved form of an asset on a Network.
type Asset struct {
	Symbol   string
	Address  common.Address
	Decimals int32
	Native   bool
	Gasless  bool
	// EIP-712 domain used for sponsored transfers.
	DomainName    string
	DomainVersion string
}

// Network is the validated, immutable description of one chain.
type Network struct {
	Name           string
	Kind           NetworkKind
	ChainID        *big.Int
	RPCURL         string
	Description    string
	NativeAsset    string
	BasenameSuffix string
	assets         map[string]Asset
	contracts      map[string]common.Address
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// NewNetwork validates a chain definition and resolves its assets and contracts.
func NewNetwork(name string, def ChainDefinition) (Network, error) {
	kind := NetworkKind(strings.ToLower(strings.TrimSpace(def.Kind)))
	switch kind {
	case KindTest, KindMain:
	case "":
		kind = KindTest
	default:
		return Network{}, fmt.Errorf("链 %s 使用了未知的网络类型 %s", name, def.Kind)
	}
	if def.ChainID <= 0 {
		return Network{}, fmt.Errorf("链 %s 缺少 chain_id", name)
	}

	native := strings.ToLower(strings.TrimSpace(def.NativeAsset))
	if native == "" {
		native = "eth"
	}

	n := Network{
		Name:           name,
		Kind:           kind,
		ChainID:        big.NewInt(def.ChainID),
		RPCURL:         strings.TrimSpace(def.RPCURL),
		Description:    def.Description,
		NativeAsset:    native,
		BasenameSuffix: def.BasenameSuffix,
		assets:         make(map[string]Asset, len(def.Assets)),
		contracts:      make(map[string]common.Address, len(def.Contracts)),
	}
	if n.BasenameSuffix == "" {
		if kind == KindMain {
			n.BasenameSuffix = ".base.eth"
		} else {
			n.BasenameSuffix = ".basetest.eth"
		}
	}

	for symbol, asset := range def.Assets {
		symbol = strings.ToLower(strings.TrimSpace(symbol))
		if symbol == native {
			return Network{}, fmt.Errorf("链 %s 的资产 %s 与原生资产重名", name, symbol)
		}
		if !common.IsHexAddress(asset.Address) {
			return Network{}, fmt.Errorf("链 %s 的资产 %s 地址无效: %q", name, symbol, asset.Address)
		}
		decimals := int32(18)
		if asset.Decimals != nil {
			decimals = *asset.Decimals
		}
		if decimals < 0 || decimals > 77 {
			return Network{}, fmt.Errorf("链 %s 的资产 %s 精度无效: %d", name, symbol, decimals)
		}
		n.assets[symbol] = Asset{
			Symbol:        symbol,
			Address:       common.HexToAddress(asset.Address),
			Decimals:      decimals,
			Gasless:       asset.Gasless,
			DomainName:    asset.EIP712Name,
			DomainVersion: asset.EIP712Version,
		}
	}
	for key, addr := range def.Contracts {
		if !common.IsHexAddress(addr) {
			return Network{}, fmt.Errorf("链 %s 的合约 %s 地址无效: %q", name, key, addr)
		}
		n.contracts[strings.ToLower(strings.TrimSpace(key))] = common.HexToAddress(addr)
	}
	return n, nil
}

// IsTest reports whether the network is a test network.
func (n Network) IsTest() bool { return n.Kind == KindTest }

// IsMain reports whether the network is a production network.
func (n Network) IsMain() bool { return n.Kind == KindMain }

// Asset resolves a symbol or a configured token address. The native asset
// resolves to an Asset with Native set.
func (n Network) Asset(id string) (Asset, bool) {
	key := strings.ToLower(strings.TrimSpace(id))
	if key == "" {
		return Asset{}, false
	}
	if key == n.NativeAsset {
		return Asset{Symbol: n.NativeAsset, Decimals: 18, Native: true}, true
	}
	if asset, ok := n.assets[key]; ok {
		return asset, true
	}
	if common.IsHexAddress(key) {
		addr := common.HexToAddress(key)
		for _, asset := range n.assets {
			if asset.Address == addr {
				return asset, true
			}
		}
	}
	return Asset{}, false
}

// GaslessEligible reports whether transfers of asset may be sponsored.
func (n Network) GaslessEligible(asset Asset) bool {
	return n.IsMain() && asset.Gasless && !asset.Native
}

// Contract returns a configured contract address by name.
func (n Network) Contract(name string) (common.Address, bool) {
	addr, ok := n.contracts[strings.ToLower(name)]
	return addr, ok
}

// Symbols lists the assets known on the network, native first.
func (n Network) Symbols() []string {
	rest := make([]string, 0, len(n.assets))
	for symbol := range n.assets {
		rest = append(rest, symbol)
	}
	sort.Strings(rest)
	return append([]string{n.NativeAsset}, rest...)
}
