package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/identity"
)

const (
	upsertIdentitySQL = `INSERT INTO identities
    (identity_id, public_address, network, created_at, encrypted_secret, updated_at)
    VALUES (?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE public_address = VALUES(public_address), network = VALUES(network),
    encrypted_secret = VALUES(encrypted_secret), updated_at = VALUES(updated_at)`
	selectIdentitySQL = `SELECT identity_id, public_address, network, created_at, encrypted_secret
    FROM identities WHERE identity_id = ?`
	existsIdentitySQL   = `SELECT COUNT(1) FROM identities WHERE identity_id = ?`
	registerIdentitySQL = `INSERT IGNORE INTO identity_registry (identity_id, registered_at) VALUES (?, ?)`
	listRegistrySQL     = `SELECT identity_id FROM identity_registry ORDER BY seq ASC`
)

// IdentityStore 使用 MySQL 保存身份记录与注册表。
type IdentityStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdentityStore 建立连接池并执行迁移。
func NewIdentityStore(ctx context.Context, cfg Config) (*IdentityStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 MySQL 身份存储失败")
	}
	if err := newSchema().sync(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行 MySQL 迁移失败")
	}
	return &IdentityStore{db: db, now: time.Now}, nil
}

// Put 以 upsert 方式写入身份记录。
func (s *IdentityStore) Put(ctx context.Context, record identity.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertIdentitySQL,
		record.ID,
		record.Address,
		record.Network,
		record.CreatedAt.UnixNano(),
		string(record.EncryptedSecret),
		s.now().UnixNano(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入身份记录失败")
	}
	return nil
}

// Get 读取身份记录；不存在返回 NOT_FOUND，内容损坏返回 DESERIALIZATION_ERROR。
func (s *IdentityStore) Get(ctx context.Context, id string) (identity.Record, error) {
	if err := identity.ValidateID(id); err != nil {
		return identity.Record{}, err
	}

	var (
		record    identity.Record
		createdAt int64
		secret    []byte
	)
	err := s.db.QueryRowContext(ctx, selectIdentitySQL, id).Scan(&record.ID, &record.Address, &record.Network, &createdAt, &secret)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Record{}, xerrors.New(xerrors.CodeNotFound, "身份不存在", xerrors.WithMetadata("identity_id", id))
	}
	if err != nil {
		return identity.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询身份记录失败")
	}
	if !json.Valid(secret) || record.Address == "" {
		return identity.Record{}, xerrors.New(xerrors.CodeDeserialization, "身份记录已损坏", xerrors.WithMetadata("identity_id", id))
	}
	record.CreatedAt = time.Unix(0, createdAt).UTC()
	record.EncryptedSecret = json.RawMessage(secret)
	return record, nil
}

// Exists 判断身份记录是否存在。
func (s *IdentityStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := identity.ValidateID(id); err != nil {
		return false, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, existsIdentitySQL, id).Scan(&count); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "检查身份记录失败")
	}
	return count > 0, nil
}

// Register 幂等地登记身份 ID。
func (s *IdentityStore) Register(ctx context.Context, id string) error {
	if err := identity.ValidateID(id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, registerIdentitySQL, id, s.now().UnixNano()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "登记身份失败")
	}
	return nil
}

// Registered 按登记顺序返回全部身份 ID。
func (s *IdentityStore) Registered(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, listRegistrySQL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询身份注册表失败")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析身份注册表失败")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历身份注册表失败")
	}
	return ids, nil
}

// Close 关闭底层数据库连接。
func (s *IdentityStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ identity.Store = (*IdentityStore)(nil)
