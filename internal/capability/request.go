package capability

import (
	"bytes"
	"encoding/json"
	"strings"

	xerrors "OnChainAgents/internal/errors"
)

// Request is one capability call with its typed parameters. The set of
// implementations is closed to this package.
type Request interface {
	Kind() Kind
	validate() error
}

type GetBalance struct {
	AssetID string `json:"asset_id"`
}

type TransferAsset struct {
	Amount      string `json:"amount"`
	AssetID     string `json:"asset_id"`
	Destination string `json:"destination_address"`
}

type RequestFaucetFunds struct{}

type CreateToken struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	InitialSupply string `json:"initial_supply"`
}

type DeployNFT struct {
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	BaseURI string `json:"base_uri"`
}

type MintNFT struct {
	ContractAddress string `json:"contract_address"`
	MintTo          string `json:"mint_to"`
}

type SwapAssets struct {
	Amount      string `json:"amount"`
	FromAssetID string `json:"from_asset_id"`
	ToAssetID   string `json:"to_asset_id"`
}

type RegisterBasename struct {
	Basename string `json:"basename"`
	Amount   string `json:"amount,omitempty"`
}

type StakeAssets struct {
	Amount string `json:"amount"`
}

type CastVote struct {
	ProposalID string `json:"proposal_id"`
}

func (GetBalance) Kind() Kind         { return KindGetBalance }
func (TransferAsset) Kind() Kind      { return KindTransferAsset }
func (RequestFaucetFunds) Kind() Kind { return KindRequestFaucetFunds }
func (CreateToken) Kind() Kind        { return KindCreateToken }
func (DeployNFT) Kind() Kind          { return KindDeployNFT }
func (MintNFT) Kind() Kind            { return KindMintNFT }
func (SwapAssets) Kind() Kind         { return KindSwapAssets }
func (RegisterBasename) Kind() Kind   { return KindRegisterBasename }
func (StakeAssets) Kind() Kind        { return KindStakeAssets }
func (CastVote) Kind() Kind           { return KindCastVote }

func (r GetBalance) validate() error { return required("asset_id", r.AssetID) }

func (r TransferAsset) validate() error {
	return firstErr(required("amount", r.Amount), required("asset_id", r.AssetID), required("destination_address", r.Destination))
}

func (RequestFaucetFunds) validate() error { return nil }

func (r CreateToken) validate() error {
	return firstErr(required("name", r.Name), required("symbol", r.Symbol), required("initial_supply", r.InitialSupply))
}

func (r DeployNFT) validate() error {
	return firstErr(required("name", r.Name), required("symbol", r.Symbol), required("base_uri", r.BaseURI))
}

func (r MintNFT) validate() error {
	return firstErr(required("contract_address", r.ContractAddress), required("mint_to", r.MintTo))
}

func (r SwapAssets) validate() error {
	return firstErr(required("amount", r.Amount), required("from_asset_id", r.FromAssetID), required("to_asset_id", r.ToAssetID))
}

func (r RegisterBasename) validate() error { return required("basename", r.Basename) }

func (r StakeAssets) validate() error { return required("amount", r.Amount) }

func (r CastVote) validate() error { return required("proposal_id", r.ProposalID) }

// Decode parses model-supplied JSON arguments into the request type of kind.
// Unknown fields are rejected.
func Decode(kind Kind, raw json.RawMessage) (Request, error) {
	var (
		req Request
		err error
	)
	switch kind {
	case KindGetBalance:
		req, err = decodeInto[GetBalance](raw)
	case KindTransferAsset:
		req, err = decodeInto[TransferAsset](raw)
	case KindRequestFaucetFunds:
		req, err = decodeInto[RequestFaucetFunds](raw)
	case KindCreateToken:
		req, err = decodeInto[CreateToken](raw)
	case KindDeployNFT:
		req, err = decodeInto[DeployNFT](raw)
	case KindMintNFT:
		req, err = decodeInto[MintNFT](raw)
	case KindSwapAssets:
		req, err = decodeInto[SwapAssets](raw)
	case KindRegisterBasename:
		req, err = decodeInto[RegisterBasename](raw)
	case KindStakeAssets:
		req, err = decodeInto[StakeAssets](raw)
	case KindCastVote:
		req, err = decodeInto[CastVote](raw)
	default:
		return nil, xerrors.Newf(xerrors.CodeCapabilityDenied, "未知能力 %d", kind)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "能力参数格式错误", xerrors.WithMetadata("capability", kind.String()))
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeInto[T Request](raw json.RawMessage) (Request, error) {
	var v T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return v, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "缺少参数 %s", field)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
