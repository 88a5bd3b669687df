package identity

import (
	"context"
	"encoding/json"
	"time"

	xerrors "OnChainAgents/internal/errors"

	"github.com/google/uuid"
)

// Record is the durable projection of a wallet. EncryptedSecret holds a
// go-ethereum keystore v3 document; the plaintext key is never stored.
type Record struct {
	ID              string          `json:"identity_id"`
	Address         string          `json:"public_address"`
	Network         string          `json:"network"`
	CreatedAt       time.Time       `json:"created_at"`
	EncryptedSecret json.RawMessage `json:"-"`
}

// Store persists identity records and the registry of known ids.
//
// Put and Register must reach stable storage before returning. Get returns
// NOT_FOUND for absent ids and DESERIALIZATION_ERROR for unreadable ones.
// Register is idempotent and Registered returns ids in registration order.
type Store interface {
	Put(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (Record, error)
	Exists(ctx context.Context, id string) (bool, error)
	Register(ctx context.Context, id string) error
	Registered(ctx context.Context) ([]string, error)
	Close() error
}

const timeLayout = time.RFC3339Nano

func parseTime(value string) (time.Time, error) {
	return time.Parse(timeLayout, value)
}

// ValidateID rejects ids that are not canonical UUIDs. Ids become file names
// and cache keys, so anything else is refused up front.
func ValidateID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "非法的身份 ID: %q", id)
	}
	return nil
}

// NewID returns a fresh identity id.
func NewID() string {
	return uuid.NewString()
}

// Validate checks the fields every store requires before persisting.
func (r Record) Validate() error {
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	if r.Address == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "身份记录缺少公开地址")
	}
	if len(r.EncryptedSecret) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "身份记录缺少加密密钥")
	}
	return nil
}
