// Package submission 提交已签名交易并轮询确认。
//
// 状态机: Submitted -> Polling -> {Confirmed | Rejected | TimedOut}。
// 轮询期间查不到交易视为"节点还没看到"，继续等待；
// 一旦看到 pool error 就立即终止，不再重试。
package submission

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/internal/ledger"
	"github.com/proofmint/intermezzo/internal/signing"
	"github.com/proofmint/intermezzo/pkg/monitor"
)

// DefaultWaitRounds 默认等待轮数
const DefaultWaitRounds uint64 = 20

// Result 确认结果
type Result struct {
	TxID           string
	ConfirmedRound uint64 // 0 表示尚未确认
	Rejected       bool
	Reason         string
	AssetID        uint64 // 资产发行交易确认后的资产 ID
}

// Confirmed 是否已确认
func (r Result) Confirmed() bool { return r.ConfirmedRound > 0 }

// Outcome 异步等待的结果
type Outcome struct {
	Result Result
	Err    error
}

type Pipeline struct {
	ledger ledger.Gateway
	rounds uint64
	log    *zap.Logger
}

// NewPipeline rounds 为 0 时使用 DefaultWaitRounds
func NewPipeline(gw ledger.Gateway, rounds uint64, log *zap.Logger) *Pipeline {
	if rounds == 0 {
		rounds = DefaultWaitRounds
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{ledger: gw, rounds: rounds, log: log}
}

// Submit 把交易 (或整组交易) 拼接后一次提交，返回第一笔交易的 ID。
// 节点返回 400 视为明确拒绝；其他 4xx (鉴权、限流) 原样返回，可以安全重试；
// 5xx 和传输失败时交易可能已被节点接收，结果未知
func (p *Pipeline) Submit(ctx context.Context, signed ...*signing.Signed) (string, error) {
	if len(signed) == 0 {
		return "", apperr.ErrEmptyGroup
	}

	var payload []byte
	for _, s := range signed {
		payload = append(payload, s.Encoded()...)
	}
	first := signed[0].TxID()
	monitor.ObserveBundle(len(signed))

	txID, err := p.ledger.Submit(ctx, payload)
	if err != nil {
		var lerr *apperr.LedgerUnavailableError
		if errors.As(err, &lerr) {
			switch {
			case lerr.Status == http.StatusBadRequest:
				monitor.ObserveSubmission("rejected")
				p.log.Warn("交易被节点拒绝", zap.String("tx_id", first), zap.Error(lerr.Err))
				return "", &apperr.RejectedError{TxID: first, Reason: lerr.Err.Error()}
			case lerr.Status > http.StatusBadRequest && lerr.Status < http.StatusInternalServerError:
				// 401/403/404/429 等: 请求没有到达交易池，不是账本的拒绝
				monitor.ObserveSubmission("not_accepted")
				p.log.Error("提交请求未被节点受理", zap.String("tx_id", first), zap.Int("status", lerr.Status), zap.Error(lerr.Err))
				return "", lerr
			}
		}
		monitor.ObserveSubmission("unknown")
		p.log.Error("提交交易失败，结果未知", zap.String("tx_id", first), zap.Error(err))
		return "", apperr.AfterSubmit(first, err)
	}
	if txID == "" {
		txID = first
	}

	p.log.Info("交易已提交", zap.String("tx_id", txID), zap.Int("bundle_size", len(signed)))
	return txID, nil
}

// Wait 从当前轮开始等待确认，最多 rounds 轮 (0 使用默认值)
func (p *Pipeline) Wait(ctx context.Context, txID string, rounds uint64) (Result, error) {
	if rounds == 0 {
		rounds = p.rounds
	}

	status, err := p.ledger.Status(ctx)
	if err != nil {
		return Result{TxID: txID}, apperr.AfterSubmit(txID, err)
	}
	round := status.LastRound

	for i := uint64(0); i < rounds; i++ {
		pending, err := p.ledger.PendingStatus(ctx, txID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return Result{TxID: txID}, apperr.AfterSubmit(txID, ctx.Err())
			}
			p.log.Debug("暂未查到交易，继续等待", zap.String("tx_id", txID), zap.Uint64("round", round), zap.Error(err))
		case pending.ConfirmedRound > 0:
			monitor.ObserveSubmission("confirmed")
			p.log.Info("交易已确认", zap.String("tx_id", txID), zap.Uint64("confirmed_round", pending.ConfirmedRound))
			return Result{TxID: txID, ConfirmedRound: pending.ConfirmedRound, AssetID: pending.AssetIndex}, nil
		case pending.PoolError != "":
			monitor.ObserveSubmission("rejected")
			p.log.Warn("交易被交易池拒绝", zap.String("tx_id", txID), zap.String("reason", pending.PoolError))
			return Result{TxID: txID, Rejected: true, Reason: pending.PoolError},
				&apperr.RejectedError{TxID: txID, Reason: pending.PoolError}
		}

		if _, err := p.ledger.WaitForRound(ctx, round); err != nil {
			if ctx.Err() != nil {
				return Result{TxID: txID}, apperr.AfterSubmit(txID, ctx.Err())
			}
			p.log.Warn("等待新区块失败", zap.String("tx_id", txID), zap.Uint64("round", round), zap.Error(err))
		}
		round++
	}

	monitor.ObserveSubmission("timed_out")
	p.log.Warn("等待确认超时", zap.String("tx_id", txID), zap.Uint64("rounds", rounds))
	return Result{TxID: txID}, &apperr.TimedOutError{TxID: txID, Rounds: rounds}
}

// SubmitAndWait 提交并等待确认
func (p *Pipeline) SubmitAndWait(ctx context.Context, rounds uint64, signed ...*signing.Signed) (Result, error) {
	txID, err := p.Submit(ctx, signed...)
	if err != nil {
		var rejected *apperr.RejectedError
		if errors.As(err, &rejected) {
			return Result{TxID: rejected.TxID, Rejected: true, Reason: rejected.Reason}, err
		}
		return Result{}, err
	}
	return p.Wait(ctx, txID, rounds)
}

// SubmitAsync 同步提交，在后台等待确认。
// 取消 ctx 只会放弃轮询，已提交的交易不受影响，之后可以用 Status 查询
func (p *Pipeline) SubmitAsync(ctx context.Context, rounds uint64, signed ...*signing.Signed) (string, <-chan Outcome, error) {
	txID, err := p.Submit(ctx, signed...)
	if err != nil {
		return "", nil, err
	}

	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		res, err := p.Wait(ctx, txID, rounds)
		out <- Outcome{Result: res, Err: err}
	}()
	return txID, out, nil
}

// Status 单次查询交易状态
func (p *Pipeline) Status(ctx context.Context, txID string) (Result, error) {
	pending, err := p.ledger.PendingStatus(ctx, txID)
	if err != nil {
		return Result{TxID: txID}, err
	}
	return Result{
		TxID:           txID,
		ConfirmedRound: pending.ConfirmedRound,
		Rejected:       pending.ConfirmedRound == 0 && pending.PoolError != "",
		Reason:         pending.PoolError,
		AssetID:        pending.AssetIndex,
	}, nil
}
