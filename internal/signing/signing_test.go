package signing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/internal/custody"
	"github.com/proofmint/intermezzo/internal/txn"
	"github.com/proofmint/intermezzo/pkg/cache"
)

var router = KeyRouter{UserPrefix: "user-", ManagerKey: "manager", ManagerPrefix: "manager-"}

// countingGateway 统计公钥查询次数，并可以篡改待签名内容
type countingGateway struct {
	*custody.LocalSigner
	pubkeyCalls atomic.Int32
	mutate      func([]byte) []byte
}

func (g *countingGateway) PublicKey(ctx context.Context, key string) ([]byte, error) {
	g.pubkeyCalls.Add(1)
	return g.LocalSigner.PublicKey(ctx, key)
}

func (g *countingGateway) Sign(ctx context.Context, key string, payload []byte) (string, error) {
	if g.mutate != nil {
		payload = g.mutate(payload)
	}
	return g.LocalSigner.Sign(ctx, key, payload)
}

func newGateway(t *testing.T) *countingGateway {
	t.Helper()
	s := custody.NewLocalSigner()
	require.NoError(t, s.ImportSeed("manager", bytes.Repeat([]byte{1}, 32)))
	require.NoError(t, s.ImportSeed("user-alice", bytes.Repeat([]byte{2}, 32)))
	require.NoError(t, s.ImportSeed("manager-ops", bytes.Repeat([]byte{3}, 32)))
	return &countingGateway{LocalSigner: s}
}

func identity(t *testing.T, gw custody.Gateway, role txn.Role, id string) txn.Identity {
	t.Helper()
	key, err := router.KeyFor(txn.Identity{ID: id, Role: role})
	require.NoError(t, err)
	pub, err := gw.PublicKey(context.Background(), key)
	require.NoError(t, err)
	return txn.Identity{ID: id, Role: role, Address: addressOf(pub)}
}

func params() txn.Params {
	return txn.Params{
		MinFee:      1000,
		FirstValid:  100,
		LastValid:   1100,
		GenesisID:   "testnet-v1.0",
		GenesisHash: bytes.Repeat([]byte{7}, 32),
	}
}

func TestParseEnvelope(t *testing.T) {
	sig := bytes.Repeat([]byte{9}, 64)
	good := "vault:v3:" + base64.StdEncoding.EncodeToString(sig)

	env, err := ParseEnvelope(good)
	require.NoError(t, err)
	assert.Equal(t, "vault", env.Scheme)
	assert.Equal(t, "v3", env.Version)
	assert.Equal(t, sig, env.Raw[:])
	assert.Equal(t, good, env.String())

	bad := []string{
		"",
		"vault:v1",
		"::" + base64.StdEncoding.EncodeToString(sig),
		"vault:v1:not-base64!",
		"vault:v1:" + base64.StdEncoding.EncodeToString(sig[:32]),
	}
	for _, s := range bad {
		_, err := ParseEnvelope(s)
		var cerr *apperr.CustodyUnavailableError
		assert.True(t, errors.As(err, &cerr), "envelope %q", s)
	}
}

func TestKeyRouter(t *testing.T) {
	cases := []struct {
		id   txn.Identity
		want string
	}{
		{txn.Identity{ID: "alice", Role: txn.RoleUser}, "user-alice"},
		{txn.Identity{Role: txn.RoleManager}, "manager"},
		{txn.Identity{ID: DefaultManagerID, Role: txn.RoleManager}, "manager"},
		{txn.Identity{ID: "ops", Role: txn.RoleManager}, "manager-ops"},
	}
	for _, c := range cases {
		got, err := router.KeyFor(c.id)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	for _, id := range []txn.Identity{
		{ID: "x", Role: "auditor"},
		{Role: txn.RoleUser},
	} {
		_, err := router.KeyFor(id)
		var mismatch *apperr.SigningAuthorityMismatchError
		assert.True(t, errors.As(err, &mismatch), "identity %v", id)
	}
}

func TestResolveCachesPublicKey(t *testing.T) {
	gw := newGateway(t)
	r := NewAddressResolver(gw, router, cache.NewMemoryCache(time.Minute, time.Minute), time.Minute, nil)
	id := txn.Identity{ID: "alice", Role: txn.RoleUser}

	first, err := r.Resolve(context.Background(), id)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), gw.pubkeyCalls.Load())
}

func TestVerifyAddress(t *testing.T) {
	gw := newGateway(t)
	r := NewAddressResolver(gw, router, nil, 0, nil)
	alice := identity(t, gw, txn.RoleUser, "alice")

	got, err := r.Verify(context.Background(), txn.Identity{ID: "alice", Role: txn.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, alice.Address, got.Address)

	spoofed := alice
	spoofed.Address = identity(t, gw, txn.RoleManager, "").Address
	_, err = r.Verify(context.Background(), spoofed)
	var mismatch *apperr.AddressMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, alice.Address.String(), mismatch.Resolved)

	_, err = r.Verify(context.Background(), txn.Identity{ID: "bob", Role: txn.RoleUser})
	assert.ErrorIs(t, err, custody.ErrKeyNotFound)
}

func TestSignBindsFinalEncoding(t *testing.T) {
	gw := newGateway(t)
	d := NewDispatcher(gw, router, nil)
	manager := identity(t, gw, txn.RoleManager, "")
	alice := identity(t, gw, txn.RoleUser, "alice")

	pay, err := txn.CraftPayment(txn.PaymentFields{Sender: manager, Receiver: alice.Address, Amount: 5000}, params())
	require.NoError(t, err)
	opt, err := txn.CraftOptIn(alice, 5, params())
	require.NoError(t, err)
	bundle, err := txn.Plan(pay, opt)
	require.NoError(t, err)

	signed, err := d.SignBundle(context.Background(), bundle)
	require.NoError(t, err)
	require.Len(t, signed, 2)

	for i, s := range signed {
		f := bundle.Members()[i]
		assert.Equal(t, f.ID(), s.TxID())

		var stx types.SignedTxn
		require.NoError(t, msgpack.Decode(s.Encoded(), &stx))
		assert.Equal(t, bundle.GroupID(), stx.Txn.Group)
		sender := f.Transaction().Sender
		assert.True(t, ed25519.Verify(ed25519.PublicKey(sender[:]), f.BytesToSign(), stx.Sig[:]))
		assert.True(t, strings.HasPrefix(string(f.BytesToSign()), "TX"))
	}
	assert.Equal(t, manager.Address, signed[0].SignedTxn().Txn.Sender)
	assert.Equal(t, alice.Address, signed[1].SignedTxn().Txn.Sender)
}

func TestSignRejectsSignatureOverOtherPayload(t *testing.T) {
	gw := newGateway(t)
	// 托管方签了去掉前缀的内容
	gw.mutate = func(p []byte) []byte { return p[2:] }
	d := NewDispatcher(gw, router, nil)
	manager := identity(t, gw, txn.RoleManager, "")

	u, err := txn.CraftPayment(txn.PaymentFields{Sender: manager, Receiver: manager.Address, Amount: 1}, params())
	require.NoError(t, err)

	_, err = d.Sign(context.Background(), txn.Single(u).First())
	var mismatch *apperr.SignatureMismatchError
	assert.True(t, errors.As(err, &mismatch))
}

func TestSignRejectsWrongKey(t *testing.T) {
	gw := newGateway(t)
	d := NewDispatcher(gw, router, nil)
	// 声明为 ops 管理员，但交易发送方是默认管理员地址
	sender := identity(t, gw, txn.RoleManager, "")
	sender.ID = "ops"

	u, err := txn.CraftPayment(txn.PaymentFields{Sender: sender, Receiver: sender.Address, Amount: 1}, params())
	require.NoError(t, err)

	_, err = d.Sign(context.Background(), txn.Single(u).First())
	var mismatch *apperr.SignatureMismatchError
	assert.True(t, errors.As(err, &mismatch))
}

func TestSignBundleAbortsOnUnroutableMember(t *testing.T) {
	gw := newGateway(t)
	d := NewDispatcher(gw, router, nil)
	manager := identity(t, gw, txn.RoleManager, "")
	stranger := txn.Identity{ID: "eve", Role: "auditor", Address: manager.Address}

	a, err := txn.CraftPayment(txn.PaymentFields{Sender: manager, Receiver: manager.Address, Amount: 1}, params())
	require.NoError(t, err)
	b, err := txn.CraftPayment(txn.PaymentFields{Sender: stranger, Receiver: manager.Address, Amount: 2}, params())
	require.NoError(t, err)
	bundle, err := txn.Plan(a, b)
	require.NoError(t, err)

	signed, err := d.SignBundle(context.Background(), bundle)
	assert.Nil(t, signed)
	var mismatch *apperr.SigningAuthorityMismatchError
	assert.True(t, errors.As(err, &mismatch))
}
