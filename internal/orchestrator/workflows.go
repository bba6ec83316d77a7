package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"go.uber.org/zap"

	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/internal/funding"
	"github.com/proofmint/intermezzo/internal/txn"
	"github.com/proofmint/intermezzo/pkg/monitor"
)

var defaultManager = txn.Identity{Role: txn.RoleManager}

// TransferValue 单笔原生币转账，发送方可以是用户或管理员
func (o *Orchestrator) TransferValue(ctx context.Context, req ValueTransfer) (Receipt, error) {
	return o.run(ctx, OpValueTransfer, req.IdempotencyKey, func(ctx context.Context, w *workflow) (Receipt, error) {
		if err := precheck(req.Lease, req.Note); err != nil {
			return Receipt{}, err
		}
		from, err := o.addresses.Verify(ctx, req.From)
		if err != nil {
			return Receipt{}, err
		}
		params, err := o.ledger.Params(ctx)
		if err != nil {
			return Receipt{}, err
		}

		u, err := txn.CraftPayment(txn.PaymentFields{
			Sender:   from,
			Receiver: req.To,
			Amount:   req.Amount,
			Lease:    req.Lease,
			Note:     req.Note,
		}, params)
		if err != nil {
			return Receipt{}, err
		}

		w.record.Sender = from.Address.String()
		w.record.Receiver = req.To.String()
		w.record.Amount = req.Amount

		receipt, err := o.execute(ctx, w, txn.Single(u))
		if err == nil {
			monitor.ObserveTransferAmount("value", req.Amount)
		}
		return receipt, err
	})
}

// TransferAsset 管理员向用户转资产。
// 交易包顺序: [补足资金] [opt-in] 转账，资金和转账由管理员签名，opt-in 由接收方签名
func (o *Orchestrator) TransferAsset(ctx context.Context, req AssetTransfer) (Receipt, error) {
	return o.run(ctx, OpAssetTransfer, req.IdempotencyKey, func(ctx context.Context, w *workflow) (Receipt, error) {
		if err := precheck(req.Lease, req.Note); err != nil {
			return Receipt{}, err
		}
		if req.From.Role != txn.RoleManager {
			return Receipt{}, apperr.InvalidField("from", "asset transfers are sent by a manager identity")
		}
		if req.AssetID == 0 {
			return Receipt{}, apperr.InvalidField("asset_id", "asset id is required")
		}
		from, err := o.addresses.Verify(ctx, req.From)
		if err != nil {
			return Receipt{}, err
		}
		to, err := o.addresses.Verify(ctx, req.To)
		if err != nil {
			return Receipt{}, err
		}
		params, err := o.ledger.Params(ctx)
		if err != nil {
			return Receipt{}, err
		}

		plan, err := o.resolver.Resolve(ctx, funding.Request{Manager: from, Receiver: to, AssetID: req.AssetID}, params)
		if err != nil {
			return Receipt{}, err
		}
		primary, err := txn.CraftAssetTransfer(txn.AssetTransferFields{
			Sender:   from,
			AssetID:  req.AssetID,
			Receiver: to.Address,
			Amount:   req.Amount,
			Lease:    req.Lease,
			Note:     req.Note,
		}, params)
		if err != nil {
			return Receipt{}, err
		}

		bundle, err := txn.Plan(append(plan.Auxiliary(), primary)...)
		if err != nil {
			return Receipt{}, err
		}
		w.log.Info("资产转账交易包已生成",
			zap.Uint64("asset_id", req.AssetID),
			zap.Bool("opt_in", plan.OptIn != nil),
			zap.Uint64("funding", plan.FundingAmount),
			zap.Int("bundle_size", bundle.Len()),
		)

		w.record.Sender = from.Address.String()
		w.record.Receiver = to.Address.String()
		w.record.AssetID = req.AssetID
		w.record.Amount = req.Amount

		receipt, err := o.execute(ctx, w, bundle)
		if err == nil {
			monitor.ObserveTransferAmount("asset", req.Amount)
		}
		return receipt, err
	})
}

// ClawbackAsset 管理员以 clawback 权限把用户的资产收回到管理员账户
func (o *Orchestrator) ClawbackAsset(ctx context.Context, req Clawback) (Receipt, error) {
	return o.run(ctx, OpClawback, req.IdempotencyKey, func(ctx context.Context, w *workflow) (Receipt, error) {
		if err := precheck(req.Lease, req.Note); err != nil {
			return Receipt{}, err
		}
		mgr := req.Manager
		if mgr.Role == "" {
			mgr = defaultManager
		}
		if mgr.Role != txn.RoleManager {
			return Receipt{}, apperr.InvalidField("manager", "clawback is signed by a manager identity")
		}
		manager, err := o.addresses.Verify(ctx, mgr)
		if err != nil {
			return Receipt{}, err
		}
		holder, err := o.addresses.Verify(ctx, req.From)
		if err != nil {
			return Receipt{}, err
		}
		params, err := o.ledger.Params(ctx)
		if err != nil {
			return Receipt{}, err
		}

		u, err := txn.CraftClawback(txn.ClawbackFields{
			Sender:   manager,
			AssetID:  req.AssetID,
			Target:   holder.Address,
			Receiver: manager.Address,
			Amount:   req.Amount,
			Lease:    req.Lease,
			Note:     req.Note,
		}, params)
		if err != nil {
			return Receipt{}, err
		}

		w.record.Sender = holder.Address.String()
		w.record.Receiver = manager.Address.String()
		w.record.AssetID = req.AssetID
		w.record.Amount = req.Amount

		return o.execute(ctx, w, txn.Single(u))
	})
}

// CreateAsset 发行资产，确认后返回新资产 ID
func (o *Orchestrator) CreateAsset(ctx context.Context, req AssetCreate) (Receipt, error) {
	return o.run(ctx, OpAssetCreate, req.IdempotencyKey, func(ctx context.Context, w *workflow) (Receipt, error) {
		if err := precheck(req.Lease, req.Note); err != nil {
			return Receipt{}, err
		}
		creator := req.Creator
		if creator.Role == "" {
			creator = defaultManager
		}
		creator, err := o.addresses.Verify(ctx, creator)
		if err != nil {
			return Receipt{}, err
		}
		params, err := o.ledger.Params(ctx)
		if err != nil {
			return Receipt{}, err
		}

		u, err := txn.CraftAssetCreate(createFields(creator, req.Params, req.Lease, req.Note), params)
		if err != nil {
			return Receipt{}, err
		}

		w.record.Sender = creator.Address.String()
		if req.Params.Total != nil {
			w.record.Amount = *req.Params.Total
		}
		return o.execute(ctx, w, txn.Single(u))
	})
}

// SubmitGroup 提交任意组合的交易组。
// 先用托管服务核对每个发送方地址，全部通过后才开始构造交易
func (o *Orchestrator) SubmitGroup(ctx context.Context, req Group) (Receipt, error) {
	return o.run(ctx, OpSubmitGroup, req.IdempotencyKey, func(ctx context.Context, w *workflow) (Receipt, error) {
		if len(req.Members) == 0 {
			return Receipt{}, apperr.ErrEmptyGroup
		}
		if len(req.Members) > txn.MaxGroupSize {
			return Receipt{}, apperr.InvalidField("members", "at most %d transactions per group, got %d", txn.MaxGroupSize, len(req.Members))
		}
		for i, m := range req.Members {
			if err := precheck(m.Lease, m.Note); err != nil {
				return Receipt{}, memberError(i, err)
			}
		}

		senders := make([]txn.Identity, len(req.Members))
		for i, m := range req.Members {
			id, err := o.addresses.Verify(ctx, m.Sender)
			if err != nil {
				w.log.Warn("发送方校验失败", zap.Int("member", i), zap.String("sender", m.Sender.String()), zap.Error(err))
				return Receipt{}, err
			}
			senders[i] = id
		}

		params, err := o.ledger.Params(ctx)
		if err != nil {
			return Receipt{}, err
		}
		members := make([]*txn.Unsigned, len(req.Members))
		for i, m := range req.Members {
			members[i], err = craftMember(senders[i], m, params)
			if err != nil {
				return Receipt{}, memberError(i, err)
			}
		}

		bundle, err := txn.Plan(members...)
		if err != nil {
			return Receipt{}, err
		}
		w.record.Sender = senders[0].Address.String()
		return o.execute(ctx, w, bundle)
	})
}

func craftMember(sender txn.Identity, m MemberSpec, p txn.Params) (*txn.Unsigned, error) {
	switch m.Kind {
	case txn.KindPayment:
		return txn.CraftPayment(txn.PaymentFields{
			Sender:   sender,
			Receiver: m.Receiver,
			Amount:   m.Amount,
			Lease:    m.Lease,
			Note:     m.Note,
		}, p)
	case txn.KindAssetTransfer:
		return txn.CraftAssetTransfer(txn.AssetTransferFields{
			Sender:   sender,
			AssetID:  m.AssetID,
			Receiver: m.Receiver,
			Amount:   m.Amount,
			Lease:    m.Lease,
			Note:     m.Note,
		}, p)
	case txn.KindAssetClawback:
		return txn.CraftClawback(txn.ClawbackFields{
			Sender:   sender,
			AssetID:  m.AssetID,
			Target:   m.AssetSender,
			Receiver: m.Receiver,
			Amount:   m.Amount,
			Lease:    m.Lease,
			Note:     m.Note,
		}, p)
	case txn.KindAssetCreate:
		if m.Create == nil {
			return nil, apperr.InvalidField("create", "asset parameters are required")
		}
		return txn.CraftAssetCreate(createFields(sender, *m.Create, m.Lease, m.Note), p)
	default:
		return nil, apperr.InvalidField("kind", "unknown transaction kind %q", m.Kind)
	}
}

func createFields(creator txn.Identity, ap AssetParams, lease string, note []byte) txn.AssetCreateFields {
	f := txn.AssetCreateFields{
		Sender:        creator,
		Total:         ap.Total,
		Decimals:      ap.Decimals,
		DefaultFrozen: ap.DefaultFrozen,
		UnitName:      ap.UnitName,
		AssetName:     ap.AssetName,
		URL:           ap.URL,
		MetadataHash:  ap.MetadataHash,
		Manager:       ap.Manager,
		Reserve:       ap.Reserve,
		Freeze:        ap.Freeze,
		Clawback:      ap.Clawback,
		Lease:         lease,
		Note:          note,
	}
	for _, a := range []*types.Address{&f.Manager, &f.Reserve, &f.Freeze, &f.Clawback} {
		if a.IsZero() {
			*a = creator.Address
		}
	}
	return f
}

// memberError 给字段错误加上成员下标
func memberError(i int, err error) error {
	var field *apperr.InvalidFieldError
	if errors.As(err, &field) {
		return &apperr.InvalidFieldError{Field: fmt.Sprintf("members[%d].%s", i, field.Field), Reason: field.Reason}
	}
	return err
}
