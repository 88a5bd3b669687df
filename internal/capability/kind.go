package capability

import (
	"sort"
	"strings"
)

// Kind enumerates the catalog. The zero value is not a valid capability.
type Kind int

const (
	KindGetBalance Kind = iota + 1
	KindTransferAsset
	KindRequestFaucetFunds
	KindCreateToken
	KindDeployNFT
	KindMintNFT
	KindSwapAssets
	KindRegisterBasename
	KindStakeAssets
	KindCastVote
)

// Descriptor is the model-facing description of a capability. Parameters is
// a JSON schema object.
type Descriptor struct {
	Kind        Kind
	Name        string
	Description string
	Parameters  map[string]any
}

func object(required []string, props map[string]any) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

var catalog = []Descriptor{
	{
		Kind:        KindGetBalance,
		Name:        "get_balance",
		Description: "Get the balance of an asset held by the agent's wallet.",
		Parameters: object([]string{"asset_id"}, map[string]any{
			"asset_id": str("Asset symbol such as eth or usdc, or an ERC-20 contract address."),
		}),
	},
	{
		Kind:        KindTransferAsset,
		Name:        "transfer_asset",
		Description: "Transfer an amount of an asset from the agent's wallet to a destination address.",
		Parameters: object([]string{"amount", "asset_id", "destination_address"}, map[string]any{
			"amount":              str("Decimal amount in whole units, for example 0.01."),
			"asset_id":            str("Asset symbol or ERC-20 contract address."),
			"destination_address": str("Recipient 0x address."),
		}),
	},
	{
		Kind:        KindRequestFaucetFunds,
		Name:        "request_faucet_funds",
		Description: "Request test ETH from the faucet. Only available on test networks.",
		Parameters:  object(nil, map[string]any{}),
	},
	{
		Kind:        KindCreateToken,
		Name:        "create_token",
		Description: "Deploy a new ERC-20 token owned by the agent's wallet.",
		Parameters: object([]string{"name", "symbol", "initial_supply"}, map[string]any{
			"name":           str("Token name."),
			"symbol":         str("Token symbol."),
			"initial_supply": str("Initial supply in whole tokens."),
		}),
	},
	{
		Kind:        KindDeployNFT,
		Name:        "deploy_nft",
		Description: "Deploy a new ERC-721 collection owned by the agent's wallet.",
		Parameters: object([]string{"name", "symbol", "base_uri"}, map[string]any{
			"name":     str("Collection name."),
			"symbol":   str("Collection symbol."),
			"base_uri": str("Base URI for token metadata."),
		}),
	},
	{
		Kind:        KindMintNFT,
		Name:        "mint_nft",
		Description: "Mint one NFT from an existing collection to an address.",
		Parameters: object([]string{"contract_address", "mint_to"}, map[string]any{
			"contract_address": str("NFT contract 0x address."),
			"mint_to":          str("Recipient 0x address."),
		}),
	},
	{
		Kind:        KindSwapAssets,
		Name:        "swap_assets",
		Description: "Swap one asset for another. Only available on the main network.",
		Parameters: object([]string{"amount", "from_asset_id", "to_asset_id"}, map[string]any{
			"amount":        str("Decimal amount of the source asset."),
			"from_asset_id": str("Source asset symbol or address."),
			"to_asset_id":   str("Target asset symbol or address."),
		}),
	},
	{
		Kind:        KindRegisterBasename,
		Name:        "register_basename",
		Description: "Register a basename for the agent's wallet and point it at the wallet address.",
		Parameters: object([]string{"basename"}, map[string]any{
			"basename": str("Name to register, with or without the network suffix."),
			"amount":   str("ETH to pay for registration, default 0.002."),
		}),
	},
	{
		Kind:        KindStakeAssets,
		Name:        "stake_assets",
		Description: "Stake native ETH in the configured staking contract.",
		Parameters: object([]string{"amount"}, map[string]any{
			"amount": str("Decimal ETH amount to stake."),
		}),
	},
	{
		Kind:        KindCastVote,
		Name:        "cast_vote",
		Description: "Vote on a governance proposal in the configured voting contract.",
		Parameters: object([]string{"proposal_id"}, map[string]any{
			"proposal_id": str("Numeric proposal id."),
		}),
	},
}

var byName = func() map[string]Kind {
	m := make(map[string]Kind, len(catalog))
	for _, d := range catalog {
		m[d.Name] = d.Kind
	}
	return m
}()

// ParseKind resolves a catalog name. Matching ignores case and surrounding
// whitespace.
func ParseKind(name string) (Kind, bool) {
	k, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// Valid reports whether k is in the catalog.
func (k Kind) Valid() bool {
	return k >= KindGetBalance && k <= KindCastVote
}

func (k Kind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return catalog[k-1].Name
}

// Describe returns the descriptor for k.
func (k Kind) Describe() (Descriptor, bool) {
	if !k.Valid() {
		return Descriptor{}, false
	}
	return catalog[k-1], true
}

// Catalog returns every descriptor in catalog order.
func Catalog() []Descriptor {
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	return out
}

// Names returns every catalog name in catalog order.
func Names() []string {
	names := make([]string, len(catalog))
	for i, d := range catalog {
		names[i] = d.Name
	}
	return names
}

// Set is an immutable set of kinds. The zero value is the empty set.
type Set struct {
	kinds []Kind
}

// NewSet validates names against the catalog. Unknown names are returned in
// dropped and never enter the set; duplicates collapse.
func NewSet(names ...string) (Set, []string) {
	var (
		kinds   []Kind
		dropped []string
	)
	for _, name := range names {
		k, ok := ParseKind(name)
		if !ok {
			dropped = append(dropped, name)
			continue
		}
		kinds = append(kinds, k)
	}
	return SetOf(kinds...), dropped
}

// SetOf builds a set from kinds, ignoring invalid ones.
func SetOf(kinds ...Kind) Set {
	seen := make(map[Kind]struct{}, len(kinds))
	var out []Kind
	for _, k := range kinds {
		if !k.Valid() {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return Set{kinds: out}
}

func (s Set) Has(k Kind) bool {
	for _, member := range s.kinds {
		if member == k {
			return true
		}
	}
	return false
}

func (s Set) Len() int { return len(s.kinds) }

func (s Set) Empty() bool { return len(s.kinds) == 0 }

// Kinds returns the members in catalog order.
func (s Set) Kinds() []Kind {
	out := make([]Kind, len(s.kinds))
	copy(out, s.kinds)
	return out
}

// Names returns the member names in catalog order.
func (s Set) Names() []string {
	names := make([]string, len(s.kinds))
	for i, k := range s.kinds {
		names[i] = k.String()
	}
	return names
}

// Descriptors returns the model-facing descriptors of the members.
func (s Set) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(s.kinds))
	for _, k := range s.kinds {
		d, _ := k.Describe()
		out = append(out, d)
	}
	return out
}

// Equal reports whether both sets have the same members.
func (s Set) Equal(other Set) bool {
	if len(s.kinds) != len(other.kinds) {
		return false
	}
	for i := range s.kinds {
		if s.kinds[i] != other.kinds[i] {
			return false
		}
	}
	return true
}
