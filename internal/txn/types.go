package txn

import (
	"encoding/base64"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// Role 发送方在托管服务中的角色
type Role string

const (
	RoleUser    Role = "user"
	RoleManager Role = "manager"
)

// Kind 交易类型
type Kind string

const (
	KindPayment       Kind = "payment"
	KindAssetTransfer Kind = "asset_transfer"
	KindAssetCreate   Kind = "asset_create"
	KindAssetClawback Kind = "asset_clawback"
)

// Identity 托管身份。Address 必须等于由托管公钥推导出的地址
type Identity struct {
	ID      string
	Role    Role
	Address types.Address
}

// String 用于日志
func (i Identity) String() string {
	if i.ID == "" {
		return string(i.Role)
	}
	return string(i.Role) + ":" + i.ID
}

// Params 账本交易参数，每次流程调用都重新获取，不做缓存
type Params struct {
	FeePerUnit  uint64 // 每字节费用
	MinFee      uint64
	FirstValid  uint64
	LastValid   uint64
	GenesisID   string
	GenesisHash []byte
}

// Unsigned 已编码但尚未分组的交易。编码后不可变
type Unsigned struct {
	kind    Kind
	sender  Identity
	tx      types.Transaction
	encoded []byte

	// 构造时的费率，分组后重新定价用
	feePerUnit uint64
	minFee     uint64
}

func (u *Unsigned) Kind() Kind                     { return u.kind }
func (u *Unsigned) Sender() Identity               { return u.sender }
func (u *Unsigned) Fee() uint64                    { return uint64(u.tx.Fee) }
func (u *Unsigned) Transaction() types.Transaction { return u.tx }

// GroupedFee 这笔交易进入交易组 (带 32 字节 grp 字段) 后的手续费。
// 网络不拥堵时与 Fee 相同
func (u *Unsigned) GroupedFee() uint64 {
	tx := u.tx
	tx.Group = sizingGroup
	return uint64(feeFor(tx, u.feePerUnit, u.minFee))
}

// Encoded 返回规范 msgpack 编码的副本
func (u *Unsigned) Encoded() []byte {
	return append([]byte(nil), u.encoded...)
}

// Final 已确定分组 (或确定不分组) 的交易，只有 Final 可以被签名
type Final struct {
	kind    Kind
	sender  Identity
	tx      types.Transaction
	encoded []byte
	id      string
}

func (f *Final) Kind() Kind                     { return f.kind }
func (f *Final) Sender() Identity               { return f.sender }
func (f *Final) ID() string                     { return f.id }
func (f *Final) Group() types.Digest            { return f.tx.Group }
func (f *Final) Transaction() types.Transaction { return f.tx }

func (f *Final) Encoded() []byte {
	return append([]byte(nil), f.encoded...)
}

// Base64 最终编码的 base64 形式
func (f *Final) Base64() string {
	return base64.StdEncoding.EncodeToString(f.encoded)
}

// BytesToSign 返回签名载荷: "TX" 域前缀 + 最终编码
func (f *Final) BytesToSign() []byte {
	out := make([]byte, 0, len(txDomain)+len(f.encoded))
	out = append(out, txDomain...)
	return append(out, f.encoded...)
}

// Bundle 有序的原子交易包。顺序在创建时确定
type Bundle struct {
	group   types.Digest
	members []*Final
}

// Members 返回成员切片的副本，顺序与创建时一致
func (b *Bundle) Members() []*Final {
	return append([]*Final(nil), b.members...)
}

func (b *Bundle) Len() int              { return len(b.members) }
func (b *Bundle) GroupID() types.Digest { return b.group }
func (b *Bundle) Grouped() bool         { return b.group != types.Digest{} }
func (b *Bundle) First() *Final         { return b.members[0] }

const txDomain = "TX"

// Decode 解析规范编码，用于回读和校验
func Decode(encoded []byte) (types.Transaction, error) {
	var tx types.Transaction
	err := msgpack.Decode(encoded, &tx)
	return tx, err
}

func finalize(u *Unsigned, tx types.Transaction) *Final {
	return &Final{
		kind:    u.kind,
		sender:  u.sender,
		tx:      tx,
		encoded: msgpack.Encode(tx),
		id:      crypto.TransactionIDString(tx),
	}
}
