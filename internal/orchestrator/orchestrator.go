// Package orchestrator 把构造、分组、签名、提交串成完整的转账流程。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/internal/funding"
	"github.com/proofmint/intermezzo/internal/ledger"
	"github.com/proofmint/intermezzo/internal/signing"
	"github.com/proofmint/intermezzo/internal/submission"
	"github.com/proofmint/intermezzo/internal/txn"
	"github.com/proofmint/intermezzo/pkg/crypto_util"
	"github.com/proofmint/intermezzo/pkg/monitor"
	"github.com/proofmint/intermezzo/pkg/utils/lock"
)

// Record 一次已提交流程的审计信息
type Record struct {
	WorkflowID     string
	Operation      string
	TxID           string
	Sender         string
	Receiver       string
	AssetID        uint64
	Amount         uint64
	BundleSize     int
	ConfirmedRound uint64
	Status         string
	Error          string
}

// Recorder 持久化审计记录。记录失败只打日志，不影响流程结果
type Recorder interface {
	Record(ctx context.Context, r Record) error
}

// 审计状态
const (
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
	StatusTimedOut  = "timed_out"
	StatusUnknown   = "unknown"
	StatusFailed    = "failed"
)

// Deps 编排器依赖。Recorder 和 Lock 可为 nil
type Deps struct {
	Ledger     ledger.Gateway
	Resolver   *funding.Resolver
	Addresses  *signing.AddressResolver
	Dispatcher *signing.Dispatcher
	Pipeline   *submission.Pipeline

	Recorder       Recorder
	Lock           lock.DistributedLock
	IdempotencyTTL time.Duration
	WaitRounds     uint64

	Log *zap.Logger
}

type Orchestrator struct {
	ledger     ledger.Gateway
	resolver   *funding.Resolver
	addresses  *signing.AddressResolver
	dispatcher *signing.Dispatcher
	pipeline   *submission.Pipeline
	recorder   Recorder
	lock       lock.DistributedLock
	idemTTL    time.Duration
	rounds     uint64
	log        *zap.Logger
}

func New(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	ttl := d.IdempotencyTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Orchestrator{
		ledger:     d.Ledger,
		resolver:   d.Resolver,
		addresses:  d.Addresses,
		dispatcher: d.Dispatcher,
		pipeline:   d.Pipeline,
		recorder:   d.Recorder,
		lock:       d.Lock,
		idemTTL:    ttl,
		rounds:     d.WaitRounds,
		log:        log.Named("orchestrator"),
	}
}

// workflow 单次调用的上下文，不在调用之间共享
type workflow struct {
	id     string
	op     string
	log    *zap.Logger
	record Record
}

type step func(ctx context.Context, w *workflow) (Receipt, error)

func (o *Orchestrator) run(ctx context.Context, op, idemKey string, fn step) (receipt Receipt, err error) {
	started := time.Now()
	w := &workflow{id: uuid.NewString(), op: op}
	w.log = o.log.With(zap.String("workflow_id", w.id), zap.String("op", op))
	w.record = Record{WorkflowID: w.id, Operation: op}

	if idemKey != "" && o.lock != nil {
		key := "idem:" + crypto_util.Fingerprint(op, idemKey)
		ok, lerr := o.lock.Acquire(ctx, key, o.idemTTL)
		if lerr != nil {
			monitor.ObserveWorkflow(op, StatusFailed, started)
			return Receipt{}, fmt.Errorf("获取幂等锁失败: %w", lerr)
		}
		if !ok {
			monitor.ObserveWorkflow(op, "duplicate", started)
			w.log.Warn("重复请求", zap.String("idempotency_key", idemKey))
			return Receipt{}, &apperr.DuplicateRequestError{Key: idemKey}
		}
		// 什么都没提交时释放，允许调用方重试；否则保留到过期，挡住重复提交
		defer func() {
			if apperr.SafeToRetry(err) {
				if rerr := o.lock.Release(context.WithoutCancel(ctx), key); rerr != nil {
					w.log.Warn("释放幂等锁失败", zap.Error(rerr))
				}
			}
		}()
	}

	receipt, err = fn(ctx, w)
	receipt.WorkflowID = w.id

	status := statusOf(err)
	monitor.ObserveWorkflow(op, status, started)
	if w.record.TxID != "" {
		o.persist(ctx, w, receipt, status, err)
	}

	if err != nil {
		w.log.Warn("流程失败",
			zap.String("tx_id", w.record.TxID),
			zap.Bool("outcome_unknown", apperr.OutcomeUnknown(err)),
			zap.Error(err),
		)
		return receipt, err
	}
	w.log.Info("流程完成",
		zap.String("tx_id", receipt.TxID),
		zap.Uint64("confirmed_round", receipt.ConfirmedRound),
		zap.Int("bundle_size", receipt.BundleSize),
		zap.Duration("elapsed", time.Since(started)),
	)
	return receipt, nil
}

// execute 签名、提交并等待确认
func (o *Orchestrator) execute(ctx context.Context, w *workflow, bundle *txn.Bundle) (Receipt, error) {
	signed, err := o.dispatcher.SignBundle(ctx, bundle)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		TxID:               bundle.First().ID(),
		BundleSize:         len(signed),
		SignedTransactions: make([]string, len(signed)),
	}
	for i, s := range signed {
		receipt.SignedTransactions[i] = s.Base64()
	}
	w.record.TxID = receipt.TxID
	w.record.BundleSize = receipt.BundleSize

	res, err := o.pipeline.SubmitAndWait(ctx, o.rounds, signed...)
	if res.TxID != "" {
		receipt.TxID = res.TxID
		w.record.TxID = res.TxID
	}
	receipt.ConfirmedRound = res.ConfirmedRound
	receipt.AssetID = res.AssetID
	return receipt, err
}

func (o *Orchestrator) persist(ctx context.Context, w *workflow, receipt Receipt, status string, err error) {
	if o.recorder == nil {
		return
	}
	r := w.record
	r.ConfirmedRound = receipt.ConfirmedRound
	if receipt.AssetID != 0 {
		r.AssetID = receipt.AssetID
	}
	r.Status = status
	if err != nil {
		r.Error = err.Error()
	}
	if rerr := o.recorder.Record(context.WithoutCancel(ctx), r); rerr != nil {
		w.log.Error("写入审计记录失败", zap.String("tx_id", r.TxID), zap.Error(rerr))
	}
}

func statusOf(err error) string {
	if err == nil {
		return StatusConfirmed
	}
	var rejected *apperr.RejectedError
	var timedOut *apperr.TimedOutError
	switch {
	case errors.As(err, &rejected):
		return StatusRejected
	case errors.As(err, &timedOut):
		return StatusTimedOut
	case apperr.OutcomeUnknown(err):
		return StatusUnknown
	default:
		return StatusFailed
	}
}

// precheck 在任何外部调用之前校验 lease 和 note
func precheck(lease string, note []byte) error {
	if _, err := txn.ParseLease(lease); err != nil {
		return err
	}
	return txn.CheckNote(note)
}
