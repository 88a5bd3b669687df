package agent

import (
	"context"
	"time"

	"OnChainAgents/internal/capability"
	"OnChainAgents/internal/identity"
)

// Wallet 是代理持有的钱包身份。*identity.Wallet 满足该接口。
type Wallet interface {
	capability.Wallet
	ID() string
}

// Identities 负责为代理提供钱包。
type Identities interface {
	Provision(ctx context.Context) (Wallet, error)
	Load(ctx context.Context, id string) (Wallet, error)
}

// FromVault 把 identity.Vault 适配为 Identities。
func FromVault(v *identity.Vault) Identities {
	return vaultIdentities{vault: v}
}

type vaultIdentities struct {
	vault *identity.Vault
}

func (v vaultIdentities) Provision(ctx context.Context) (Wallet, error) {
	w, err := v.vault.Provision(ctx)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (v vaultIdentities) Load(ctx context.Context, id string) (Wallet, error) {
	w, err := v.vault.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Agent 是绑定了钱包与能力集合的代理。创建后不可修改。
type Agent struct {
	Index        int
	Name         string
	Wallet       Wallet
	Capabilities capability.Set
	Task         string
	Flow         string
	// Version 是代理所属代次的版本号。
	Version uint64

	binding *Binding
}

// View 是代理对外展示的投影。
type View struct {
	Name          string   `json:"name"`
	Index         int      `json:"index"`
	Functions     []string `json:"functions"`
	WalletAddress string   `json:"wallet_address"`
	WalletID      string   `json:"wallet_id"`
	Task          string   `json:"task,omitempty"`
}

// View 返回代理的公开信息，不包含任何密钥材料。
func (a *Agent) View() View {
	return View{
		Name:          a.Name,
		Index:         a.Index,
		Functions:     a.Capabilities.Names(),
		WalletAddress: a.Wallet.Address().Hex(),
		WalletID:      a.Wallet.ID(),
		Task:          a.Task,
	}
}

// Generation 是代理池的一个不可变版本。
type Generation struct {
	Version   uint64
	Task      string
	CreatedAt time.Time
	agents    []*Agent
}

// Agents 返回该版本代理列表的副本。
func (g *Generation) Agents() []*Agent {
	if g == nil {
		return nil
	}
	return append([]*Agent(nil), g.agents...)
}

// Len 返回代理数量。
func (g *Generation) Len() int {
	if g == nil {
		return 0
	}
	return len(g.agents)
}
