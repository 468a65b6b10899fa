package event

import "TroveLedger/internal/state"

// ProtocolInit records the protocol owner. It is the first command of a log.
type ProtocolInit struct {
	Meta
	Admin state.Identity `json:"admin"`
}

func (p *ProtocolInit) EventType() EventType   { return EventTypeProtocolInit }
func (p *ProtocolInit) AssetContext() *string { return nil }

// RegisterAsset adds a collateral asset. Owner only.
type RegisterAsset struct {
	Meta
	Sender state.Identity    `json:"sender"`
	Params state.AssetParams `json:"params"`
}

func (r *RegisterAsset) EventType() EventType   { return EventTypeRegisterAsset }
func (r *RegisterAsset) AssetContext() *string { return assetRef(r.Params.Asset) }

// UpdateAssetParams replaces a registered asset's parameters. Owner only.
type UpdateAssetParams struct {
	Meta
	Sender state.Identity    `json:"sender"`
	Params state.AssetParams `json:"params"`
}

func (u *UpdateAssetParams) EventType() EventType   { return EventTypeUpdateAssetParams }
func (u *UpdateAssetParams) AssetContext() *string { return assetRef(u.Params.Asset) }
