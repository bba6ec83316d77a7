// Package signing 把定稿交易路由到对应的托管密钥签名。
package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"go.uber.org/zap"

	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/internal/custody"
	"github.com/proofmint/intermezzo/internal/txn"
	"github.com/proofmint/intermezzo/pkg/monitor"
)

// Signed 已签名交易
type Signed struct {
	final *txn.Final
	stx   types.SignedTxn
	raw   []byte
}

func (s *Signed) TxID() string               { return s.final.ID() }
func (s *Signed) Sender() txn.Identity       { return s.final.Sender() }
func (s *Signed) Kind() txn.Kind             { return s.final.Kind() }
func (s *Signed) Final() *txn.Final          { return s.final }
func (s *Signed) SignedTxn() types.SignedTxn { return s.stx }

// Encoded 返回签名交易的 msgpack 编码副本
func (s *Signed) Encoded() []byte {
	return append([]byte(nil), s.raw...)
}

func (s *Signed) Base64() string {
	return base64.StdEncoding.EncodeToString(s.raw)
}

// Dispatcher 按发送方身份签名
type Dispatcher struct {
	custody custody.Gateway
	router  KeyRouter
	log     *zap.Logger
}

func NewDispatcher(gw custody.Gateway, router KeyRouter, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{custody: gw, router: router, log: log}
}

// Sign 对定稿交易签名，并用发送方公钥验证签名覆盖的正是最终编码
func (d *Dispatcher) Sign(ctx context.Context, f *txn.Final) (*Signed, error) {
	key, err := d.router.KeyFor(f.Sender())
	if err != nil {
		return nil, err
	}

	payload := f.BytesToSign()
	started := time.Now()
	envelope, err := d.custody.Sign(ctx, key, payload)
	monitor.ObserveSign(started)
	if err != nil {
		return nil, err
	}

	env, err := ParseEnvelope(envelope)
	if err != nil {
		return nil, err
	}

	tx := f.Transaction()
	if !ed25519.Verify(ed25519.PublicKey(tx.Sender[:]), payload, env.Raw[:]) {
		return nil, &apperr.SignatureMismatchError{Sender: tx.Sender.String(), TxID: f.ID()}
	}

	stx := types.SignedTxn{Sig: env.Raw, Txn: tx}
	d.log.Debug("交易签名完成",
		zap.String("tx_id", f.ID()),
		zap.String("key", key),
		zap.String("key_version", env.Version),
	)
	return &Signed{final: f, stx: stx, raw: msgpack.Encode(stx)}, nil
}

// SignBundle 按顺序逐个签名，任何一个失败则整个交易包作废
func (d *Dispatcher) SignBundle(ctx context.Context, b *txn.Bundle) ([]*Signed, error) {
	members := b.Members()
	out := make([]*Signed, 0, len(members))
	for _, f := range members {
		s, err := d.Sign(ctx, f)
		if err != nil {
			d.log.Warn("交易包签名中止",
				zap.String("tx_id", f.ID()),
				zap.String("sender", f.Sender().String()),
				zap.Error(err),
			)
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
