package txn

import (
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/proofmint/intermezzo/internal/apperr"
)

// Plan 计算组 ID 并写入每个成员，返回顺序不变的交易包。
// 组 ID 对清空 group 字段后的编码按顺序求哈希，所以必须在全部交易构造完之后、签名之前调用。
// 成员手续费先按带 grp 字段的大小重新定价，再参与组 ID 计算
func Plan(members ...*Unsigned) (*Bundle, error) {
	if len(members) == 0 {
		return nil, apperr.ErrEmptyGroup
	}
	if len(members) > MaxGroupSize {
		return nil, apperr.InvalidField("group", "at most %d transactions per group, got %d", MaxGroupSize, len(members))
	}

	txs := make([]types.Transaction, len(members))
	for i, m := range members {
		if m == nil {
			return nil, apperr.InvalidField("group", "member %d is nil", i)
		}
		if m.tx.Group != (types.Digest{}) {
			return nil, apperr.InvalidField("group", "member %d already carries a group id", i)
		}
		txs[i] = m.tx
		txs[i].Fee = types.MicroAlgos(m.GroupedFee())
	}

	gid, err := crypto.ComputeGroupID(txs)
	if err != nil {
		return nil, fmt.Errorf("计算组 ID 失败: %w", err)
	}

	bundle := &Bundle{group: gid, members: make([]*Final, len(members))}
	for i, m := range members {
		tx := txs[i]
		tx.Group = gid
		bundle.members[i] = finalize(m, tx)
	}
	return bundle, nil
}

// Single 不分组，单笔交易直接定稿
func Single(u *Unsigned) *Bundle {
	return &Bundle{members: []*Final{finalize(u, u.tx)}}
}
