package identity

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/web3"
	"OnChainAgents/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// Vault creates, imports, persists and loads wallets for one network. It
// keeps every live wallet in memory so an id maps to exactly one instance.
type Vault struct {
	store      Store
	client     web3.Client
	passphrase string
	scrypt     scryptParams
	funds      *funding
	now        func() time.Time
	log        *slog.Logger

	mu   sync.Mutex
	live map[string]*Wallet
}

// VaultOption customises a Vault.
type VaultOption func(*Vault)

// WithLightScrypt uses cheap keystore parameters. Intended for tests and
// throwaway environments.
func WithLightScrypt() VaultOption {
	return func(v *Vault) { v.scrypt = lightScrypt }
}

// WithFaucet configures the key that funds wallets on test networks.
func WithFaucet(key *ecdsa.PrivateKey, amount decimal.Decimal) VaultOption {
	return func(v *Vault) {
		v.funds.faucet = key
		if amount.IsPositive() {
			v.funds.faucetAmount = amount
		}
	}
}

// WithSponsor configures the key that submits sponsored transfers.
func WithSponsor(key *ecdsa.PrivateKey) VaultOption {
	return func(v *Vault) { v.funds.sponsor = key }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) VaultOption {
	return func(v *Vault) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVault builds a vault backed by store and bound to client's network.
func NewVault(store Store, client web3.Client, passphrase string, opts ...VaultOption) (*Vault, error) {
	if store == nil {
		return nil, errors.New("身份存储未初始化")
	}
	if client == nil {
		return nil, errors.New("链客户端未初始化")
	}
	if strings.TrimSpace(passphrase) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "钱包口令不能为空")
	}
	v := &Vault{
		store:      store,
		client:     client,
		passphrase: passphrase,
		scrypt:     standardScrypt,
		funds:      &funding{faucetAmount: decimal.RequireFromString("0.01")},
		now:        time.Now,
		log:        logger.Named("vault"),
		live:       make(map[string]*Wallet),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// ParseKey decodes a hex private key, as found in FAUCET_PRIVATE_KEY.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeImportFailure, err, "私钥格式无效")
	}
	return key, nil
}

// Network returns the network wallets from this vault operate on.
func (v *Vault) Network() web3.Network { return v.client.Network() }

// Store returns the backing store.
func (v *Vault) Store() Store { return v.store }

// Create generates a fresh wallet. It is not persisted or marked live.
func (v *Vault) Create() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "生成钱包密钥失败")
	}
	return newWallet(NewID(), key, v.now().UTC(), v.client, v.funds), nil
}

// Import reconstructs a wallet from a raw 32-byte secp256k1 secret. Malformed
// material fails with IMPORT_ERROR. Importing an id that is already live
// returns the live instance when the key matches and CONFLICT otherwise.
func (v *Vault) Import(id string, secret []byte) (*Wallet, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(secret)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeImportFailure, err, "钱包密钥格式无效", xerrors.WithMetadata("identity_id", id))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.adoptLocked(id, key, v.now().UTC())
}

func (v *Vault) adoptLocked(id string, key *ecdsa.PrivateKey, createdAt time.Time) (*Wallet, error) {
	if existing, ok := v.live[id]; ok {
		if !existing.sameKey(key) {
			return nil, xerrors.New(xerrors.CodeConflict, "同一身份 ID 已绑定不同的密钥", xerrors.WithMetadata("identity_id", id))
		}
		return existing, nil
	}
	w := newWallet(id, key, createdAt, v.client, v.funds)
	v.live[id] = w
	return w, nil
}

// Persist encrypts the wallet key, writes the record and registers the id.
func (v *Vault) Persist(ctx context.Context, w *Wallet) error {
	blob, err := encryptSecret(w.id, w.key, v.passphrase, v.scrypt)
	if err != nil {
		return err
	}
	record := Record{
		ID:              w.id,
		Address:         w.address.Hex(),
		Network:         v.client.Network().Name,
		CreatedAt:       w.createdAt,
		EncryptedSecret: blob,
	}
	if err := v.store.Put(ctx, record); err != nil {
		return err
	}
	return v.store.Register(ctx, w.id)
}

// Provision creates, persists and marks a wallet live.
func (v *Vault) Provision(ctx context.Context) (*Wallet, error) {
	w, err := v.Create()
	if err != nil {
		return nil, err
	}
	if err := v.Persist(ctx, w); err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.live[w.id] = w
	v.mu.Unlock()

	logger.Audit().Info("identity provisioned", slog.Any("wallet", w))
	return w, nil
}

// Load returns the live wallet for id, loading and decrypting it from the
// store when needed.
func (v *Vault) Load(ctx context.Context, id string) (*Wallet, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	v.mu.Lock()
	if w, ok := v.live[id]; ok {
		v.mu.Unlock()
		return w, nil
	}
	v.mu.Unlock()

	record, err := v.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	network := v.client.Network().Name
	if record.Network != "" && record.Network != network {
		return nil, xerrors.Newf(xerrors.CodeConflict, "身份 %s 属于网络 %s，当前网络 %s", id, record.Network, network)
	}
	key, err := decryptSecret(record.EncryptedSecret, v.passphrase)
	if err != nil {
		return nil, err
	}
	if crypto.PubkeyToAddress(key.PublicKey) != common.HexToAddress(record.Address) {
		return nil, xerrors.New(xerrors.CodeImportFailure, "解密后的密钥与记录地址不一致", xerrors.WithMetadata("identity_id", id))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	w, err := v.adoptLocked(id, key, record.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.log.Debug("identity loaded", slog.Any("wallet", w))
	return w, nil
}

// Describe returns the public record for id without loading the key.
func (v *Vault) Describe(ctx context.Context, id string) (Record, error) {
	if err := ValidateID(id); err != nil {
		return Record{}, err
	}
	record, err := v.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	record.EncryptedSecret = nil
	return record, nil
}

// Live reports how many wallets are currently held in memory.
func (v *Vault) Live() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.live)
}

// Registered returns every known identity id in registration order.
func (v *Vault) Registered(ctx context.Context) ([]string, error) {
	return v.store.Registered(ctx)
}
