package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/identity"

	"github.com/redis/go-redis/v9"
)

const (
	fieldID      = "identity_id"
	fieldAddress = "public_address"
	fieldNetwork = "network"
	fieldCreated = "created_at"
	fieldSecret  = "encrypted_secret"
)

// Config 描述 Redis 身份存储的连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// IdentityStore 把每个身份保存为一个 hash，注册表使用按登记序号排序的 sorted set。
//
//	<prefix>:identity:<id>      hash
//	<prefix>:identities         zset，score 为登记序号
//	<prefix>:identities:seq     登记序号计数器
type IdentityStore struct {
	client redis.UniversalClient
	prefix string
}

// NewIdentityStore 连接 Redis 并返回身份存储。
func NewIdentityStore(ctx context.Context, cfg Config) (*IdentityStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewIdentityStoreWithClient(client, cfg.Prefix), nil
}

// NewIdentityStoreWithClient 复用已有的客户端。
func NewIdentityStoreWithClient(client redis.UniversalClient, prefix string) *IdentityStore {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "onchain"
	}
	return &IdentityStore{client: client, prefix: prefix}
}

func (s *IdentityStore) recordKey(id string) string {
	return fmt.Sprintf("%s:identity:%s", s.prefix, id)
}

func (s *IdentityStore) registryKey() string {
	return s.prefix + ":identities"
}

func (s *IdentityStore) sequenceKey() string {
	return s.prefix + ":identities:seq"
}

// Put 在一个事务内写入全部字段。
func (s *IdentityStore) Put(ctx context.Context, record identity.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey(record.ID), encodeRecord(record))
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入身份记录失败")
	}
	return nil
}

// Get 读取身份记录。
func (s *IdentityStore) Get(ctx context.Context, id string) (identity.Record, error) {
	if err := identity.ValidateID(id); err != nil {
		return identity.Record{}, err
	}
	fields, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return identity.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询身份记录失败")
	}
	if len(fields) == 0 {
		return identity.Record{}, xerrors.New(xerrors.CodeNotFound, "身份不存在", xerrors.WithMetadata("identity_id", id))
	}
	record, err := decodeRecord(id, fields)
	if err != nil {
		return identity.Record{}, xerrors.Wrap(xerrors.CodeDeserialization, err, "身份记录已损坏", xerrors.WithMetadata("identity_id", id))
	}
	return record, nil
}

// Exists 判断身份记录是否存在。
func (s *IdentityStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := identity.ValidateID(id); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.recordKey(id)).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "检查身份记录失败")
	}
	return n > 0, nil
}

// Register 幂等地登记身份 ID；已登记的 ID 保持原有顺序。
func (s *IdentityStore) Register(ctx context.Context, id string) error {
	if err := identity.ValidateID(id); err != nil {
		return err
	}
	err := s.client.ZScore(ctx, s.registryKey(), id).Err()
	if err == nil {
		return nil
	}
	if !errors.Is(err, redis.Nil) {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询身份注册表失败")
	}
	seq, err := s.client.Incr(ctx, s.sequenceKey()).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "分配登记序号失败")
	}
	if err := s.client.ZAddNX(ctx, s.registryKey(), redis.Z{Score: float64(seq), Member: id}).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "登记身份失败")
	}
	return nil
}

// Registered 按登记顺序返回全部身份 ID。
func (s *IdentityStore) Registered(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.registryKey(), 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询身份注册表失败")
	}
	return ids, nil
}

// Close 关闭 Redis 连接。
func (s *IdentityStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func encodeRecord(record identity.Record) map[string]any {
	return map[string]any{
		fieldID:      record.ID,
		fieldAddress: record.Address,
		fieldNetwork: record.Network,
		fieldCreated: record.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldSecret:  string(record.EncryptedSecret),
	}
}

func decodeRecord(id string, fields map[string]string) (identity.Record, error) {
	if fields[fieldID] != id {
		return identity.Record{}, fmt.Errorf("记录 ID 不匹配: %q", fields[fieldID])
	}
	if fields[fieldAddress] == "" {
		return identity.Record{}, errors.New("缺少公开地址")
	}
	created, err := time.Parse(time.RFC3339Nano, fields[fieldCreated])
	if err != nil {
		return identity.Record{}, fmt.Errorf("解析创建时间失败: %w", err)
	}
	secret := fields[fieldSecret]
	if !json.Valid([]byte(secret)) {
		return identity.Record{}, errors.New("加密密钥不是合法 JSON")
	}
	return identity.Record{
		ID:              id,
		Address:         fields[fieldAddress],
		Network:         fields[fieldNetwork],
		CreatedAt:       created,
		EncryptedSecret: json.RawMessage(secret),
	}, nil
}

var _ identity.Store = (*IdentityStore)(nil)
