package identity

import (
	"crypto/ecdsa"

	xerrors "OnChainAgents/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// scryptParams selects the keystore KDF cost. Production uses the standard
// parameters, tests the light ones.
type scryptParams struct {
	N int
	P int
}

var (
	standardScrypt = scryptParams{N: keystore.StandardScryptN, P: keystore.StandardScryptP}
	lightScrypt    = scryptParams{N: keystore.LightScryptN, P: keystore.LightScryptP}
)

func encryptSecret(id string, key *ecdsa.PrivateKey, passphrase string, params scryptParams) ([]byte, error) {
	keyID, err := uuid.Parse(id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "非法的身份 ID")
	}
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         keyID,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}, passphrase, params.N, params.P)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "加密钱包密钥失败")
	}
	return blob, nil
}

func decryptSecret(blob []byte, passphrase string) (*ecdsa.PrivateKey, error) {
	key, err := keystore.DecryptKey(blob, passphrase)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeImportFailure, err, "无法解密钱包密钥")
	}
	return key.PrivateKey, nil
}
