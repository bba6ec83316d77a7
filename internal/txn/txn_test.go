package txn

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"math"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofmint/intermezzo/internal/apperr"
)

func testIdentity(role Role, id string, seed byte) Identity {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	var addr types.Address
	copy(addr[:], priv.Public().(ed25519.PublicKey))
	return Identity{ID: id, Role: role, Address: addr}
}

func testParams() Params {
	return Params{
		FeePerUnit:  0,
		MinFee:      1000,
		FirstValid:  100,
		LastValid:   1100,
		GenesisID:   "testnet-v1.0",
		GenesisHash: bytes.Repeat([]byte{7}, 32),
	}
}

func TestCraftPaymentRoundTrip(t *testing.T) {
	manager := testIdentity(RoleManager, "", 1)
	user := testIdentity(RoleUser, "alice", 2)
	lease := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 32))

	u, err := CraftPayment(PaymentFields{
		Sender:   manager,
		Receiver: user.Address,
		Amount:   250000,
		Lease:    lease,
		Note:     []byte("payroll"),
	}, testParams())
	require.NoError(t, err)
	assert.Equal(t, KindPayment, u.Kind())

	tx, err := Decode(u.Encoded())
	require.NoError(t, err)
	assert.Equal(t, types.PaymentTx, tx.Type)
	assert.Equal(t, manager.Address, tx.Sender)
	assert.Equal(t, user.Address, tx.Receiver)
	assert.Equal(t, types.MicroAlgos(250000), tx.Amount)
	assert.Equal(t, []byte("payroll"), tx.Note)
	assert.Equal(t, bytes.Repeat([]byte{9}, 32), tx.Lease[:])
	assert.Equal(t, types.Round(100), tx.FirstValid)
	assert.Equal(t, types.Round(1100), tx.LastValid)
	assert.Equal(t, "testnet-v1.0", tx.GenesisID)
	assert.Equal(t, types.MicroAlgos(1000), tx.Fee)
	assert.Equal(t, types.Digest{}, tx.Group)
}

func TestCraftAssetTransferAndClawbackRoundTrip(t *testing.T) {
	manager := testIdentity(RoleManager, "", 1)
	user := testIdentity(RoleUser, "alice", 2)

	xfer, err := CraftAssetTransfer(AssetTransferFields{
		Sender: manager, AssetID: 5, Receiver: user.Address, Amount: 10,
	}, testParams())
	require.NoError(t, err)
	tx, err := Decode(xfer.Encoded())
	require.NoError(t, err)
	assert.Equal(t, types.AssetTransferTx, tx.Type)
	assert.Equal(t, types.AssetIndex(5), tx.XferAsset)
	assert.Equal(t, uint64(10), tx.AssetAmount)
	assert.Equal(t, user.Address, tx.AssetReceiver)
	assert.True(t, tx.AssetSender.IsZero())

	claw, err := CraftClawback(ClawbackFields{
		Sender: manager, AssetID: 5, Target: user.Address, Receiver: manager.Address, Amount: 3,
	}, testParams())
	require.NoError(t, err)
	assert.Equal(t, KindAssetClawback, claw.Kind())
	tx, err = Decode(claw.Encoded())
	require.NoError(t, err)
	assert.Equal(t, manager.Address, tx.Sender)
	assert.Equal(t, user.Address, tx.AssetSender)
	assert.Equal(t, manager.Address, tx.AssetReceiver)
	assert.Equal(t, uint64(3), tx.AssetAmount)
}

func TestCraftOptIn(t *testing.T) {
	user := testIdentity(RoleUser, "bob", 3)
	u, err := CraftOptIn(user, 42, testParams())
	require.NoError(t, err)

	tx, err := Decode(u.Encoded())
	require.NoError(t, err)
	assert.Equal(t, user.Address, tx.Sender)
	assert.Equal(t, user.Address, tx.AssetReceiver)
	assert.Equal(t, uint64(0), tx.AssetAmount)
	assert.Equal(t, types.AssetIndex(42), tx.XferAsset)
}

func TestCraftAssetCreateRoundTrip(t *testing.T) {
	manager := testIdentity(RoleManager, "", 1)
	total, decimals := uint64(1_000_000), int64(2)

	u, err := CraftAssetCreate(AssetCreateFields{
		Sender:    manager,
		Total:     &total,
		Decimals:  &decimals,
		UnitName:  "GOLD",
		AssetName: "Gold Bar",
		URL:       "https://example.org/gold",
		Manager:   manager.Address,
		Clawback:  manager.Address,
	}, testParams())
	require.NoError(t, err)

	tx, err := Decode(u.Encoded())
	require.NoError(t, err)
	assert.Equal(t, types.AssetConfigTx, tx.Type)
	assert.Equal(t, uint64(1_000_000), tx.AssetParams.Total)
	assert.Equal(t, uint32(2), tx.AssetParams.Decimals)
	assert.Equal(t, "GOLD", tx.AssetParams.UnitName)
	assert.Equal(t, "Gold Bar", tx.AssetParams.AssetName)
	assert.Equal(t, manager.Address, tx.AssetParams.Clawback)
	assert.Equal(t, types.AssetIndex(0), tx.ConfigAsset)
}

func TestCraftFeeScalesWithSize(t *testing.T) {
	manager := testIdentity(RoleManager, "", 1)
	p := testParams()
	p.FeePerUnit = 10

	u, err := CraftPayment(PaymentFields{Sender: manager, Receiver: manager.Address, Amount: 1}, p)
	require.NoError(t, err)
	assert.Greater(t, u.Fee(), uint64(1000))
	assert.Zero(t, u.Fee()%10)
}

func TestCraftFullUint64Range(t *testing.T) {
	manager := testIdentity(RoleManager, "", 1)
	user := testIdentity(RoleUser, "alice", 2)
	total := uint64(math.MaxUint64)

	u, err := CraftAssetCreate(AssetCreateFields{Sender: manager, Total: &total}, testParams())
	require.NoError(t, err)
	tx, err := Decode(u.Encoded())
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), tx.AssetParams.Total)

	u, err = CraftClawback(ClawbackFields{Sender: manager, AssetID: 7, Target: user.Address, Receiver: manager.Address, Amount: math.MaxUint64}, testParams())
	require.NoError(t, err)
	tx, err = Decode(u.Encoded())
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), tx.AssetAmount)

	u, err = CraftPayment(PaymentFields{Sender: manager, Receiver: user.Address, Amount: 1 << 63}, testParams())
	require.NoError(t, err)
	tx, err = Decode(u.Encoded())
	require.NoError(t, err)
	assert.Equal(t, types.MicroAlgos(1<<63), tx.Amount)
}

func TestPlanRepricesForGroupField(t *testing.T) {
	manager := testIdentity(RoleManager, "", 1)
	user := testIdentity(RoleUser, "alice", 2)
	p := testParams()
	p.FeePerUnit = 10

	pay, err := CraftPayment(PaymentFields{Sender: manager, Receiver: user.Address, Amount: 1}, p)
	require.NoError(t, err)
	optIn, err := CraftOptIn(user, 42, p)
	require.NoError(t, err)

	// grp 字段至少 32 字节
	assert.GreaterOrEqual(t, pay.GroupedFee(), pay.Fee()+32*p.FeePerUnit)

	bundle, err := Plan(pay, optIn)
	require.NoError(t, err)
	for i, m := range bundle.Members() {
		tx := m.Transaction()
		want := []uint64{pay.GroupedFee(), optIn.GroupedFee()}[i]
		assert.Equal(t, types.MicroAlgos(want), tx.Fee)

		signedSize := uint64(len(msgpack.Encode(types.SignedTxn{Sig: sizingSig, Txn: tx})))
		assert.GreaterOrEqual(t, uint64(tx.Fee), signedSize*p.FeePerUnit)
	}

	// 不拥堵时分组不改变手续费
	cheap, err := CraftPayment(PaymentFields{Sender: manager, Receiver: user.Address, Amount: 1}, testParams())
	require.NoError(t, err)
	assert.Equal(t, cheap.Fee(), cheap.GroupedFee())
}

func TestCraftRejectsInvalidFields(t *testing.T) {
	manager := testIdentity(RoleManager, "", 1)
	user := testIdentity(RoleUser, "alice", 2)
	shortLease := base64.StdEncoding.EncodeToString(make([]byte, 31))
	decimals := int64(2)
	tooMany := int64(MaxDecimals + 1)

	tests := []struct {
		name  string
		field string
		craft func() error
	}{
		{"short lease", "lease", func() error {
			_, err := CraftPayment(PaymentFields{Sender: manager, Receiver: user.Address, Lease: shortLease}, testParams())
			return err
		}},
		{"lease not base64", "lease", func() error {
			_, err := CraftPayment(PaymentFields{Sender: manager, Receiver: user.Address, Lease: "!!!"}, testParams())
			return err
		}},
		{"note too long", "note", func() error {
			_, err := CraftPayment(PaymentFields{Sender: manager, Receiver: user.Address, Note: make([]byte, MaxNoteBytes+1)}, testParams())
			return err
		}},
		{"decimals without total", "decimals", func() error {
			_, err := CraftAssetCreate(AssetCreateFields{Sender: manager, Decimals: &decimals}, testParams())
			return err
		}},
		{"missing total", "total", func() error {
			_, err := CraftAssetCreate(AssetCreateFields{Sender: manager}, testParams())
			return err
		}},
		{"too many decimals", "decimals", func() error {
			total := uint64(1)
			_, err := CraftAssetCreate(AssetCreateFields{Sender: manager, Total: &total, Decimals: &tooMany}, testParams())
			return err
		}},
		{"unit name too long", "unit_name", func() error {
			total := uint64(1)
			_, err := CraftAssetCreate(AssetCreateFields{Sender: manager, Total: &total, UnitName: "TOOLONGNAME"}, testParams())
			return err
		}},
		{"missing sender", "sender", func() error {
			_, err := CraftPayment(PaymentFields{Receiver: user.Address}, testParams())
			return err
		}},
		{"missing asset", "asset_id", func() error {
			_, err := CraftClawback(ClawbackFields{Sender: manager, Target: user.Address, Receiver: manager.Address}, testParams())
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.craft()
			var invalid *apperr.InvalidFieldError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}

func TestPlanIsDeterministicAndOrderSensitive(t *testing.T) {
	manager := testIdentity(RoleManager, "", 1)
	user := testIdentity(RoleUser, "alice", 2)
	p := testParams()

	fund, err := CraftPayment(PaymentFields{Sender: manager, Receiver: user.Address, Amount: 101000}, p)
	require.NoError(t, err)
	optIn, err := CraftOptIn(user, 5, p)
	require.NoError(t, err)
	xfer, err := CraftAssetTransfer(AssetTransferFields{Sender: manager, AssetID: 5, Receiver: user.Address, Amount: 10}, p)
	require.NoError(t, err)

	first, err := Plan(fund, optIn, xfer)
	require.NoError(t, err)
	second, err := Plan(fund, optIn, xfer)
	require.NoError(t, err)
	assert.Equal(t, first.GroupID(), second.GroupID())
	assert.True(t, first.Grouped())

	reordered, err := Plan(optIn, fund, xfer)
	require.NoError(t, err)
	assert.NotEqual(t, first.GroupID(), reordered.GroupID())

	// 成员顺序保持不变，且每个成员都带组 ID
	members := first.Members()
	require.Len(t, members, 3)
	assert.Equal(t, []Kind{KindPayment, KindAssetTransfer, KindAssetTransfer},
		[]Kind{members[0].Kind(), members[1].Kind(), members[2].Kind()})
	for _, m := range members {
		tx, err := Decode(m.Encoded())
		require.NoError(t, err)
		assert.Equal(t, first.GroupID(), tx.Group)
		assert.Equal(t, first.GroupID(), m.Group())
	}
	assert.Equal(t, user.Address, members[1].Sender().Address)

	// 原始交易没有被修改
	tx, err := Decode(fund.Encoded())
	require.NoError(t, err)
	assert.Equal(t, types.Digest{}, tx.Group)
}

func TestPlanRejectsBadInput(t *testing.T) {
	_, err := Plan()
	assert.ErrorIs(t, err, apperr.ErrEmptyGroup)

	manager := testIdentity(RoleManager, "", 1)
	members := make([]*Unsigned, MaxGroupSize+1)
	for i := range members {
		u, err := CraftPayment(PaymentFields{Sender: manager, Receiver: manager.Address, Amount: uint64(i)}, testParams())
		require.NoError(t, err)
		members[i] = u
	}
	_, err = Plan(members...)
	var invalid *apperr.InvalidFieldError
	assert.True(t, errors.As(err, &invalid))
}

func TestSingleIsUngrouped(t *testing.T) {
	manager := testIdentity(RoleManager, "", 1)
	u, err := CraftPayment(PaymentFields{Sender: manager, Receiver: manager.Address, Amount: 1}, testParams())
	require.NoError(t, err)

	b := Single(u)
	assert.False(t, b.Grouped())
	require.Equal(t, 1, b.Len())
	assert.Equal(t, u.Encoded(), b.First().Encoded())
	assert.Equal(t, []byte("TX"), b.First().BytesToSign()[:2])
	assert.Len(t, b.First().ID(), 52)
}
