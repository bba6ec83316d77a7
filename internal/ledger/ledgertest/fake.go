// Package ledgertest 提供 ledger.Gateway 的内存实现，供其他包的测试使用。
package ledgertest

import (
	"bytes"
	"context"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/proofmint/intermezzo/internal/ledger"
	"github.com/proofmint/intermezzo/internal/txn"
)

// Reply 一次 PendingStatus 调用的返回
type Reply struct {
	Status ledger.PendingStatus
	Err    error
}

// Fake 可编排返回值的账本。Pending 按调用顺序依次返回，用完后重复最后一个
type Fake struct {
	mu sync.Mutex

	P          txn.Params
	ParamsErr  error
	Accounts   map[types.Address]ledger.AccountSnapshot
	AccountErr error

	SubmitErr error
	Submitted [][]byte

	Pending   []Reply
	LastRound uint64
	StatusErr error

	calls map[string]int
}

var _ ledger.Gateway = (*Fake)(nil)

// New 返回带默认参数的 Fake
func New() *Fake {
	return &Fake{
		P: txn.Params{
			MinFee:      txn.MinTxnFee,
			FirstValid:  1000,
			LastValid:   2000,
			GenesisID:   "testnet-v1.0",
			GenesisHash: bytes.Repeat([]byte{0x42}, 32),
		},
		Accounts:  make(map[types.Address]ledger.AccountSnapshot),
		LastRound: 1000,
		calls:     make(map[string]int),
	}
}

// SetAccount 设置账户快照
func (f *Fake) SetAccount(addr types.Address, balance, minBalance uint64, assets map[uint64]uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if assets == nil {
		assets = map[uint64]uint64{}
	}
	f.Accounts[addr] = ledger.AccountSnapshot{Address: addr, Balance: balance, MinBalance: minBalance, Assets: assets}
}

// Calls 返回某个方法的调用次数
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) hit(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.calls[method]
}

func (f *Fake) Params(context.Context) (txn.Params, error) {
	f.hit("Params")
	return f.P, f.ParamsErr
}

func (f *Fake) Account(_ context.Context, addr types.Address) (ledger.AccountSnapshot, error) {
	f.hit("Account")
	if f.AccountErr != nil {
		return ledger.AccountSnapshot{}, f.AccountErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.Accounts[addr]
	if !ok {
		return ledger.AccountSnapshot{Address: addr, MinBalance: 100000, Assets: map[uint64]uint64{}}, nil
	}
	assets := make(map[uint64]uint64, len(snap.Assets))
	for k, v := range snap.Assets {
		assets[k] = v
	}
	snap.Assets = assets
	return snap, nil
}

func (f *Fake) AssetHolding(_ context.Context, addr types.Address, assetID uint64) (uint64, bool, error) {
	f.hit("AssetHolding")
	if f.AccountErr != nil {
		return 0, false, f.AccountErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	amount, ok := f.Accounts[addr].Assets[assetID]
	return amount, ok, nil
}

// Submit 记录提交内容，返回第一笔交易的 ID
func (f *Fake) Submit(_ context.Context, signed []byte) (string, error) {
	f.hit("Submit")
	f.mu.Lock()
	f.Submitted = append(f.Submitted, append([]byte(nil), signed...))
	f.mu.Unlock()
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}

	var stx types.SignedTxn
	if err := msgpack.Decode(signed, &stx); err != nil {
		return "", err
	}
	return crypto.TransactionIDString(stx.Txn), nil
}

func (f *Fake) PendingStatus(context.Context, string) (ledger.PendingStatus, error) {
	n := f.hit("PendingStatus")
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Pending) == 0 {
		return ledger.PendingStatus{}, nil
	}
	if n > len(f.Pending) {
		n = len(f.Pending)
	}
	r := f.Pending[n-1]
	return r.Status, r.Err
}

func (f *Fake) Status(context.Context) (ledger.NodeStatus, error) {
	f.hit("Status")
	f.mu.Lock()
	defer f.mu.Unlock()
	return ledger.NodeStatus{LastRound: f.LastRound}, f.StatusErr
}

// WaitForRound 立即推进到 round+1
func (f *Fake) WaitForRound(ctx context.Context, round uint64) (ledger.NodeStatus, error) {
	f.hit("WaitForRound")
	if err := ctx.Err(); err != nil {
		return ledger.NodeStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LastRound <= round {
		f.LastRound = round + 1
	}
	return ledger.NodeStatus{LastRound: f.LastRound}, nil
}
