package orchestrator

import (
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/proofmint/intermezzo/internal/txn"
)

// 操作名，用于日志、指标和审计记录
const (
	OpValueTransfer = "value_transfer"
	OpAssetTransfer = "asset_transfer"
	OpClawback      = "clawback"
	OpAssetCreate   = "asset_create"
	OpSubmitGroup   = "submit_group"
)

// 请求中的 txn.Identity 可以不带地址，此时使用托管服务解析出的地址；
// 带了地址则必须与托管地址一致。

// ValueTransfer 原生币转账
type ValueTransfer struct {
	From           txn.Identity
	To             types.Address
	Amount         uint64
	Lease          string // base64, 32 bytes
	Note           []byte
	IdempotencyKey string
}

// AssetTransfer 管理员向用户转资产，必要时自动补足资金和 opt-in
type AssetTransfer struct {
	AssetID        uint64
	From           txn.Identity // 必须是管理员
	To             txn.Identity
	Amount         uint64
	Lease          string
	Note           []byte
	IdempotencyKey string
}

// Clawback 管理员从用户账户收回资产
type Clawback struct {
	AssetID        uint64
	From           txn.Identity // 被收回的用户
	Manager        txn.Identity // 为空时使用默认管理员
	Amount         uint64
	Lease          string
	Note           []byte
	IdempotencyKey string
}

// AssetParams 资产发行参数。Manager/Reserve/Freeze/Clawback 为空时使用发行人地址
type AssetParams struct {
	Total         *uint64
	Decimals      *int64
	DefaultFrozen bool
	UnitName      string
	AssetName     string
	URL           string
	MetadataHash  string // base64, 32 bytes
	Manager       types.Address
	Reserve       types.Address
	Freeze        types.Address
	Clawback      types.Address
}

// AssetCreate 发行资产
type AssetCreate struct {
	Creator        txn.Identity // 为空时使用默认管理员
	Params         AssetParams
	Lease          string
	Note           []byte
	IdempotencyKey string
}

// MemberSpec 混合交易组中的一笔交易
type MemberSpec struct {
	Kind        txn.Kind
	Sender      txn.Identity
	Receiver    types.Address
	AssetID     uint64
	Amount      uint64
	AssetSender types.Address // clawback 的资产来源账户
	Create      *AssetParams  // 仅 asset_create
	Lease       string
	Note        []byte
}

// Group 混合交易组
type Group struct {
	Members        []MemberSpec
	IdempotencyKey string
}

// Receipt 流程结果
type Receipt struct {
	WorkflowID         string
	TxID               string
	ConfirmedRound     uint64
	AssetID            uint64 // 资产发行时为新资产 ID
	BundleSize         int
	SignedTransactions []string // base64，与交易包顺序一致
}
