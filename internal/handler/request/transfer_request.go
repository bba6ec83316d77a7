package request

import "github.com/shopspring/decimal"

// 金额均为基本单位 (原生币为 micro-units)，可以是 JSON 数字或字符串，但必须是整数

// Party 托管身份; address 可省略，省略时使用托管服务中的地址
type Party struct {
	ID      string `json:"id"`
	Role    string `json:"role" binding:"required,oneof=user manager"`
	Address string `json:"address" binding:"address"`
}

type ValueTransferRequest struct {
	From   Party           `json:"from" binding:"required"`
	To     string          `json:"to" binding:"required,address"`
	Amount decimal.Decimal `json:"amount"`
	Lease  string          `json:"lease"` // base64, 32 bytes
	Note   string          `json:"note"`
}

type AssetTransferRequest struct {
	AssetID uint64          `json:"asset_id" binding:"required"`
	From    *Party          `json:"from"` // 默认管理员
	To      Party           `json:"to" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
	Lease   string          `json:"lease"`
	Note    string          `json:"note"`
}

type ClawbackRequest struct {
	AssetID uint64          `json:"asset_id" binding:"required"`
	From    Party           `json:"from" binding:"required"`
	Manager *Party          `json:"manager"`
	Amount  decimal.Decimal `json:"amount"`
	Lease   string          `json:"lease"`
	Note    string          `json:"note"`
}

// AssetParams total 与 amount 一样按 decimal 解析，最大可到 2^64-1
type AssetParams struct {
	Total         *decimal.Decimal `json:"total" binding:"required"`
	Decimals      *int64           `json:"decimals"`
	DefaultFrozen bool             `json:"default_frozen"`
	UnitName      string           `json:"unit_name"`
	AssetName     string           `json:"asset_name"`
	URL           string           `json:"url"`
	MetadataHash  string           `json:"metadata_hash"`
	Manager       string           `json:"manager" binding:"address"`
	Reserve       string           `json:"reserve" binding:"address"`
	Freeze        string           `json:"freeze" binding:"address"`
	Clawback      string           `json:"clawback" binding:"address"`
}

type AssetCreateRequest struct {
	Creator *Party `json:"creator"`
	AssetParams
	Lease string `json:"lease"`
	Note  string `json:"note"`
}

type GroupMember struct {
	Kind        string          `json:"kind" binding:"required,oneof=payment asset_transfer asset_create asset_clawback"`
	Sender      Party           `json:"sender" binding:"required"`
	Receiver    string          `json:"receiver" binding:"address"`
	AssetID     uint64          `json:"asset_id"`
	Amount      decimal.Decimal `json:"amount"`
	AssetSender string          `json:"asset_sender" binding:"address"`
	Create      *AssetParams    `json:"create"`
	Lease       string          `json:"lease"`
	Note        string          `json:"note"`
}

type GroupRequest struct {
	Members []GroupMember `json:"members" binding:"required,min=1,max=16,dive"`
}
