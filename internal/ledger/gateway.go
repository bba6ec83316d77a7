package ledger

import (
	"context"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/proofmint/intermezzo/internal/txn"
)

// AccountSnapshot 账户某一时刻的状态，执行时可能已经过期
type AccountSnapshot struct {
	Address    types.Address
	Balance    uint64 // micro-units
	MinBalance uint64
	Assets     map[uint64]uint64 // assetID -> 持有数量
}

// Holds 是否已 opt-in 该资产 (数量为 0 也算持有)
func (s AccountSnapshot) Holds(assetID uint64) bool {
	_, ok := s.Assets[assetID]
	return ok
}

// PendingStatus 待确认交易的状态
type PendingStatus struct {
	ConfirmedRound uint64
	PoolError      string
	AssetIndex     uint64 // 资产发行交易确认后创建的资产 ID
}

// NodeStatus 节点状态
type NodeStatus struct {
	LastRound uint64
}

// Gateway 账本节点的无状态适配器
type Gateway interface {
	Params(ctx context.Context) (txn.Params, error)
	Account(ctx context.Context, addr types.Address) (AccountSnapshot, error)
	// AssetHolding 返回持有数量; present 为 false 表示尚未 opt-in
	AssetHolding(ctx context.Context, addr types.Address, assetID uint64) (amount uint64, present bool, err error)
	// Submit 一次网络调用提交一笔或一组已签名交易，返回交易 ID
	Submit(ctx context.Context, signed []byte) (string, error)
	PendingStatus(ctx context.Context, txID string) (PendingStatus, error)
	Status(ctx context.Context) (NodeStatus, error)
	// WaitForRound 阻塞直到 round 之后的区块出现
	WaitForRound(ctx context.Context, round uint64) (NodeStatus, error)
}
