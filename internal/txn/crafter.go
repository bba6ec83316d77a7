package txn

import (
	"encoding/base64"
	"math"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/proofmint/intermezzo/internal/apperr"
)

// 协议常量
const (
	MinTxnFee       uint64 = 1000
	MaxNoteBytes           = 1024
	LeaseBytes             = 32
	MaxGroupSize           = 16
	MaxDecimals            = 19
	MaxUnitNameLen         = 8
	MaxAssetNameLen        = 32
	MaxAssetURLLen         = 96
)

// PaymentFields 原生币转账
type PaymentFields struct {
	Sender   Identity
	Receiver types.Address
	Amount   uint64 // micro-units
	Lease    string
	Note     []byte
}

// AssetTransferFields 资产转账; Amount 为 0 且 Receiver 等于发送方时即 opt-in
type AssetTransferFields struct {
	Sender   Identity
	AssetID  uint64
	Receiver types.Address
	Amount   uint64
	Lease    string
	Note     []byte
}

// ClawbackFields 由 clawback 账户 (Sender) 从 Target 强制转出资产到 Receiver
type ClawbackFields struct {
	Sender   Identity
	AssetID  uint64
	Target   types.Address
	Receiver types.Address
	Amount   uint64
	Lease    string
	Note     []byte
}

// AssetCreateFields 资产发行。Decimals 只是元数据，本层不做换算。
// 金额和 Total 都是无符号整数，负数在请求边界 (handler) 就被拒绝
type AssetCreateFields struct {
	Sender        Identity
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
	Lease         string
	Note          []byte
}

// CraftPayment 构造一笔支付交易
func CraftPayment(f PaymentFields, p Params) (*Unsigned, error) {
	if f.Receiver.IsZero() {
		return nil, apperr.InvalidField("receiver", "receiver address is required")
	}
	hdr, err := header(f.Sender, p, f.Lease, f.Note)
	if err != nil {
		return nil, err
	}

	tx := types.Transaction{
		Type:   types.PaymentTx,
		Header: hdr,
		PaymentTxnFields: types.PaymentTxnFields{
			Receiver: f.Receiver,
			Amount:   types.MicroAlgos(f.Amount),
		},
	}
	return seal(KindPayment, f.Sender, tx, p), nil
}

// CraftAssetTransfer 构造一笔资产转账
func CraftAssetTransfer(f AssetTransferFields, p Params) (*Unsigned, error) {
	if f.AssetID == 0 {
		return nil, apperr.InvalidField("asset_id", "asset id is required")
	}
	if f.Receiver.IsZero() {
		return nil, apperr.InvalidField("receiver", "receiver address is required")
	}
	hdr, err := header(f.Sender, p, f.Lease, f.Note)
	if err != nil {
		return nil, err
	}

	tx := types.Transaction{
		Type:   types.AssetTransferTx,
		Header: hdr,
		AssetTransferTxnFields: types.AssetTransferTxnFields{
			XferAsset:     types.AssetIndex(f.AssetID),
			AssetAmount:   f.Amount,
			AssetReceiver: f.Receiver,
		},
	}
	return seal(KindAssetTransfer, f.Sender, tx, p), nil
}

// CraftOptIn 构造 opt-in: 持有人给自己转 0 个资产
func CraftOptIn(holder Identity, assetID uint64, p Params) (*Unsigned, error) {
	return CraftAssetTransfer(AssetTransferFields{
		Sender:   holder,
		AssetID:  assetID,
		Receiver: holder.Address,
	}, p)
}

// CraftClawback 构造 clawback 交易，发送方与资产来源账户不同
func CraftClawback(f ClawbackFields, p Params) (*Unsigned, error) {
	if f.AssetID == 0 {
		return nil, apperr.InvalidField("asset_id", "asset id is required")
	}
	if f.Target.IsZero() {
		return nil, apperr.InvalidField("target", "clawback target address is required")
	}
	if f.Receiver.IsZero() {
		return nil, apperr.InvalidField("receiver", "receiver address is required")
	}
	hdr, err := header(f.Sender, p, f.Lease, f.Note)
	if err != nil {
		return nil, err
	}

	tx := types.Transaction{
		Type:   types.AssetTransferTx,
		Header: hdr,
		AssetTransferTxnFields: types.AssetTransferTxnFields{
			XferAsset:     types.AssetIndex(f.AssetID),
			AssetAmount:   f.Amount,
			AssetSender:   f.Target,
			AssetReceiver: f.Receiver,
		},
	}
	return seal(KindAssetClawback, f.Sender, tx, p), nil
}

// CraftAssetCreate 构造资产发行交易
func CraftAssetCreate(f AssetCreateFields, p Params) (*Unsigned, error) {
	if f.Decimals != nil && f.Total == nil {
		return nil, apperr.InvalidField("decimals", "decimals given without total")
	}
	if f.Total == nil {
		return nil, apperr.InvalidField("total", "total is required")
	}
	var decimals uint32
	if f.Decimals != nil {
		if *f.Decimals < 0 || *f.Decimals > MaxDecimals {
			return nil, apperr.InvalidField("decimals", "must be between 0 and %d", MaxDecimals)
		}
		decimals = uint32(*f.Decimals)
	}
	if len(f.UnitName) > MaxUnitNameLen {
		return nil, apperr.InvalidField("unit_name", "longer than %d bytes", MaxUnitNameLen)
	}
	if len(f.AssetName) > MaxAssetNameLen {
		return nil, apperr.InvalidField("asset_name", "longer than %d bytes", MaxAssetNameLen)
	}
	if len(f.URL) > MaxAssetURLLen {
		return nil, apperr.InvalidField("url", "longer than %d bytes", MaxAssetURLLen)
	}
	var metadata [32]byte
	if f.MetadataHash != "" {
		raw, err := base64.StdEncoding.DecodeString(f.MetadataHash)
		if err != nil || len(raw) != len(metadata) {
			return nil, apperr.InvalidField("metadata_hash", "must decode to exactly 32 bytes")
		}
		copy(metadata[:], raw)
	}
	hdr, err := header(f.Sender, p, f.Lease, f.Note)
	if err != nil {
		return nil, err
	}

	tx := types.Transaction{
		Type:   types.AssetConfigTx,
		Header: hdr,
		AssetConfigTxnFields: types.AssetConfigTxnFields{
			AssetParams: types.AssetParams{
				Total:         *f.Total,
				Decimals:      decimals,
				DefaultFrozen: f.DefaultFrozen,
				UnitName:      f.UnitName,
				AssetName:     f.AssetName,
				URL:           f.URL,
				MetadataHash:  metadata,
				Manager:       f.Manager,
				Reserve:       f.Reserve,
				Freeze:        f.Freeze,
				Clawback:      f.Clawback,
			},
		},
	}
	return seal(KindAssetCreate, f.Sender, tx, p), nil
}

// ParseLease 解码 base64 lease。空字符串表示不设置 lease
func ParseLease(lease string) ([LeaseBytes]byte, error) {
	var out [LeaseBytes]byte
	if lease == "" {
		return out, nil
	}
	raw, err := base64.StdEncoding.DecodeString(lease)
	if err != nil {
		return out, apperr.InvalidField("lease", "not valid base64: %v", err)
	}
	if len(raw) != LeaseBytes {
		return out, apperr.InvalidField("lease", "must decode to exactly %d bytes, got %d", LeaseBytes, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// CheckNote 校验 note 长度
func CheckNote(note []byte) error {
	if len(note) > MaxNoteBytes {
		return apperr.InvalidField("note", "longer than %d bytes", MaxNoteBytes)
	}
	return nil
}

func header(sender Identity, p Params, lease string, note []byte) (types.Header, error) {
	if sender.Address.IsZero() {
		return types.Header{}, apperr.InvalidField("sender", "sender address is required")
	}
	l, err := ParseLease(lease)
	if err != nil {
		return types.Header{}, err
	}
	if err := CheckNote(note); err != nil {
		return types.Header{}, err
	}
	if len(p.GenesisHash) != len(types.Digest{}) {
		return types.Header{}, apperr.InvalidField("genesis_hash", "must be %d bytes", len(types.Digest{}))
	}
	if p.LastValid < p.FirstValid {
		return types.Header{}, apperr.InvalidField("last_valid", "validity window is inverted")
	}

	var gh types.Digest
	copy(gh[:], p.GenesisHash)

	hdr := types.Header{
		Sender:      sender.Address,
		FirstValid:  types.Round(p.FirstValid),
		LastValid:   types.Round(p.LastValid),
		GenesisID:   p.GenesisID,
		GenesisHash: gh,
		Lease:       l,
	}
	if len(note) > 0 {
		hdr.Note = append([]byte(nil), note...)
	}
	return hdr, nil
}

// 估算大小用的占位签名。全零签名会被 omitempty 省略
var sizingSig = func() types.Signature {
	var s types.Signature
	for i := range s {
		s[i] = 0xff
	}
	return s
}()

// 估算分组后大小用的占位组 ID，全零会被省略
var sizingGroup = types.Digest(sizingSig[:32])

// feeFor max(minFee, feePerUnit * 签名后大小)。
// fee 字段按最宽的编码计入大小，估算只会偏高
func feeFor(tx types.Transaction, feePerUnit, minFee uint64) types.MicroAlgos {
	tx.Fee = types.MicroAlgos(math.MaxUint64)
	size := uint64(len(msgpack.Encode(types.SignedTxn{Sig: sizingSig, Txn: tx})))

	if minFee == 0 {
		minFee = MinTxnFee
	}
	fee := feePerUnit * size
	if fee < minFee {
		fee = minFee
	}
	return types.MicroAlgos(fee)
}

// seal 按不分组的大小计算手续费并编码; Plan 会按分组后的大小重新定价
func seal(kind Kind, sender Identity, tx types.Transaction, p Params) *Unsigned {
	tx.Fee = feeFor(tx, p.FeePerUnit, p.MinFee)
	return &Unsigned{
		kind:       kind,
		sender:     sender,
		tx:         tx,
		encoded:    msgpack.Encode(tx),
		feePerUnit: p.FeePerUnit,
		minFee:     p.MinFee,
	}
}
