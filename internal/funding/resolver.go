// Package funding 决定主交易之前需要补的辅助交易: 资金补足和 opt-in。
package funding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/proofmint/intermezzo/internal/ledger"
	"github.com/proofmint/intermezzo/internal/txn"
)

// OptInReserve 每持有一种资产增加的最低余额 (micro-units)
const OptInReserve uint64 = 100000

// Request 主交易的接收方和资产
type Request struct {
	Manager  txn.Identity // 资金来源
	Receiver txn.Identity
	AssetID  uint64
}

// Plan 需要放在主交易之前的辅助交易，均可为 nil
type Plan struct {
	Funding       *txn.Unsigned
	OptIn         *txn.Unsigned
	FundingAmount uint64
	Snapshot      ledger.AccountSnapshot
}

// Auxiliary 按 funding -> opt-in 的顺序返回辅助交易
func (p Plan) Auxiliary() []*txn.Unsigned {
	out := make([]*txn.Unsigned, 0, 2)
	if p.Funding != nil {
		out = append(out, p.Funding)
	}
	if p.OptIn != nil {
		out = append(out, p.OptIn)
	}
	return out
}

type Resolver struct {
	ledger ledger.Gateway
	log    *zap.Logger
}

func NewResolver(gw ledger.Gateway, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{ledger: gw, log: log}
}

// Resolve 查询接收方状态，计算需要的辅助交易
func (r *Resolver) Resolve(ctx context.Context, req Request, params txn.Params) (Plan, error) {
	snap, err := r.ledger.Account(ctx, req.Receiver.Address)
	if err != nil {
		return Plan{}, err
	}
	amount, present, err := r.ledger.AssetHolding(ctx, req.Receiver.Address, req.AssetID)
	if err != nil {
		return Plan{}, err
	}
	if snap.Assets == nil {
		snap.Assets = make(map[uint64]uint64)
	}
	if present {
		snap.Assets[req.AssetID] = amount
	}

	plan := Plan{Snapshot: snap}

	var extra uint64
	if !snap.Holds(req.AssetID) {
		plan.OptIn, err = txn.CraftOptIn(req.Receiver, req.AssetID, params)
		if err != nil {
			return Plan{}, fmt.Errorf("构造 opt-in 交易失败: %w", err)
		}
		// opt-in 总在交易组里提交，按分组后的手续费计算
		extra = OptInReserve + plan.OptIn.GroupedFee()
	}

	// 余额可能已经低于最低余额，必须用有符号数
	slack := int64(snap.Balance) - int64(snap.MinBalance)
	if slack < int64(extra) {
		plan.FundingAmount = uint64(int64(extra) - slack)
		plan.Funding, err = txn.CraftPayment(txn.PaymentFields{
			Sender:   req.Manager,
			Receiver: req.Receiver.Address,
			Amount:   plan.FundingAmount,
		}, params)
		if err != nil {
			return Plan{}, fmt.Errorf("构造补足资金交易失败: %w", err)
		}
	}

	r.log.Debug("辅助交易计算完成",
		zap.String("receiver", req.Receiver.Address.String()),
		zap.Uint64("asset_id", req.AssetID),
		zap.Bool("opt_in", plan.OptIn != nil),
		zap.Uint64("funding", plan.FundingAmount),
	)
	return plan, nil
}
