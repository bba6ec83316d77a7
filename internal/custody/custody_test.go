package custody

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/pkg/keystore"
)

// fakeTransit 模拟 Vault Transit 的 keys 和 sign 接口
type fakeTransit struct {
	t     *testing.T
	keys  map[string]ed25519.PrivateKey
	fail  atomic.Bool
	calls int32
}

func (f *fakeTransit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&f.calls, 1)
	assert.Equal(f.t, "root-token", r.Header.Get("X-Vault-Token"))
	w.Header().Set("Content-Type", "application/json")

	if f.fail.Load() {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"errors":["internal error"]}`))
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/v1/transit/keys/"):
		name := strings.TrimPrefix(r.URL.Path, "/v1/transit/keys/")
		priv, ok := f.keys[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		pub := priv.Public().(ed25519.PublicKey)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"type":           "ed25519",
			"latest_version": 2,
			"keys": map[string]any{
				"1": map[string]any{"public_key": base64.StdEncoding.EncodeToString(make([]byte, 32))},
				"2": map[string]any{"public_key": base64.StdEncoding.EncodeToString(pub)},
			},
		}})
	case strings.HasPrefix(r.URL.Path, "/v1/transit/sign/"):
		name := strings.TrimPrefix(r.URL.Path, "/v1/transit/sign/")
		priv, ok := f.keys[name]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errors":["signing key not found"]}`))
			return
		}
		var body struct {
			Input string `json:"input"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		payload, err := base64.StdEncoding.DecodeString(body.Input)
		require.NoError(f.t, err)
		sig := ed25519.Sign(priv, payload)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"signature":   "vault:v2:" + base64.StdEncoding.EncodeToString(sig),
			"key_version": 2,
		}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newFakeVault(t *testing.T, failures uint32) (*VaultTransit, *fakeTransit, ed25519.PrivateKey) {
	t.Helper()
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{5}, 32))
	fake := &fakeTransit{t: t, keys: map[string]ed25519.PrivateKey{"manager": priv}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	v, err := NewVaultTransit(VaultConfig{
		Address:         srv.URL,
		Token:           "root-token",
		Timeout:         2 * time.Second,
		BreakerFailures: failures,
		BreakerTimeout:  time.Minute,
	}, nil)
	require.NoError(t, err)
	return v, fake, priv
}

func TestVaultPublicKeyUsesLatestVersion(t *testing.T) {
	v, _, priv := newFakeVault(t, 5)

	pub, err := v.PublicKey(context.Background(), "manager")
	require.NoError(t, err)
	assert.Equal(t, []byte(priv.Public().(ed25519.PublicKey)), pub)
}

func TestVaultPublicKeyMissing(t *testing.T) {
	v, _, _ := newFakeVault(t, 5)

	_, err := v.PublicKey(context.Background(), "user-ghost")
	var cerr *apperr.CustodyUnavailableError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, http.StatusNotFound, cerr.Status)
}

func TestVaultSignReturnsEnvelope(t *testing.T) {
	v, _, priv := newFakeVault(t, 5)
	payload := []byte("TXpayload")

	env, err := v.Sign(context.Background(), "manager", payload)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(env, "vault:v2:"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(env, "vault:v2:"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(priv.Public().(ed25519.PublicKey), payload, raw))
}

func TestVaultSignClientErrorKeepsStatus(t *testing.T) {
	v, _, _ := newFakeVault(t, 1)

	for i := 0; i < 3; i++ {
		_, err := v.Sign(context.Background(), "nobody", []byte("x"))
		var cerr *apperr.CustodyUnavailableError
		require.True(t, errors.As(err, &cerr))
		// 4xx 不触发熔断
		assert.Equal(t, http.StatusBadRequest, cerr.Status)
	}
}

func TestVaultBreakerOpensAfterFailures(t *testing.T) {
	v, fake, _ := newFakeVault(t, 2)
	fake.fail.Store(true)

	for i := 0; i < 2; i++ {
		_, err := v.Sign(context.Background(), "manager", []byte("x"))
		var cerr *apperr.CustodyUnavailableError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, http.StatusInternalServerError, cerr.Status)
	}

	_, err := v.Sign(context.Background(), "manager", []byte("x"))
	var cerr *apperr.CustodyUnavailableError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, http.StatusServiceUnavailable, cerr.Status)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.calls))
}

func TestLocalSignerSignAndVerify(t *testing.T) {
	s := NewLocalSigner()
	pub, err := s.CreateKey("manager")
	require.NoError(t, err)
	require.Len(t, pub, 32)

	env, err := s.Sign(context.Background(), "manager", []byte("hello"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(env, "vault:v1:"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(env, "vault:v1:"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, []byte("hello"), raw))

	_, err = s.CreateKey("manager")
	assert.ErrorIs(t, err, ErrKeyExists)

	_, err = s.Sign(context.Background(), "user-x", []byte("hello"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestLocalSignerKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.json")

	s := NewLocalSigner()
	require.NoError(t, s.ImportSeed("manager", bytes.Repeat([]byte{1}, 32)))
	require.NoError(t, s.ImportSeed("user-alice", bytes.Repeat([]byte{2}, 32)))
	require.NoError(t, s.Save(path, "pw-123456", keystore.LightScryptN))

	loaded, err := LoadLocalSigner(path, "pw-123456")
	require.NoError(t, err)
	assert.Equal(t, []string{"manager", "user-alice"}, loaded.Names())

	want, _ := s.PublicKey(context.Background(), "user-alice")
	got, err := loaded.PublicKey(context.Background(), "user-alice")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = LoadLocalSigner(path, "wrong")
	assert.ErrorIs(t, err, keystore.ErrMACMismatch)
}
