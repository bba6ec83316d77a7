package signing

import (
	"context"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"go.uber.org/zap"

	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/internal/custody"
	"github.com/proofmint/intermezzo/internal/txn"
	"github.com/proofmint/intermezzo/pkg/cache"
)

const pubkeyCachePrefix = "pubkey:"

type cachedKey struct {
	PublicKey []byte `json:"public_key"`
}

// AddressResolver 通过托管服务公钥推导身份地址
type AddressResolver struct {
	custody custody.Gateway
	router  KeyRouter
	cache   cache.Cache // 可为 nil
	ttl     time.Duration
	log     *zap.Logger
}

func NewAddressResolver(gw custody.Gateway, router KeyRouter, c cache.Cache, ttl time.Duration, log *zap.Logger) *AddressResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &AddressResolver{custody: gw, router: router, cache: c, ttl: ttl, log: log}
}

// Resolve 返回 id 在托管服务中的地址
func (r *AddressResolver) Resolve(ctx context.Context, id txn.Identity) (types.Address, error) {
	key, err := r.router.KeyFor(id)
	if err != nil {
		return types.Address{}, err
	}

	entry, err := cache.Remember(ctx, r.cache, pubkeyCachePrefix+key, r.ttl, func(ctx context.Context) (cachedKey, error) {
		pub, err := r.custody.PublicKey(ctx, key)
		if err != nil {
			return cachedKey{}, err
		}
		if len(pub) != len(types.Address{}) {
			return cachedKey{}, &apperr.CustodyUnavailableError{Op: "read key", Err: custody.ErrUnsupportedKey}
		}
		r.log.Debug("读取托管公钥", zap.String("key", key))
		return cachedKey{PublicKey: pub}, nil
	})
	if err != nil {
		return types.Address{}, err
	}
	if len(entry.PublicKey) != len(types.Address{}) {
		return types.Address{}, &apperr.CustodyUnavailableError{Op: "read key", Err: custody.ErrUnsupportedKey}
	}
	return addressOf(entry.PublicKey), nil
}

// Verify 校验声明地址与托管地址一致，返回补全了地址的身份。
// 未声明地址时直接使用托管地址
func (r *AddressResolver) Verify(ctx context.Context, id txn.Identity) (txn.Identity, error) {
	resolved, err := r.Resolve(ctx, id)
	if err != nil {
		return txn.Identity{}, err
	}
	if !id.Address.IsZero() && id.Address != resolved {
		return txn.Identity{}, &apperr.AddressMismatchError{
			Identity: id.String(),
			Declared: id.Address.String(),
			Resolved: resolved.String(),
		}
	}
	id.Address = resolved
	return id, nil
}

func addressOf(pub []byte) types.Address {
	var a types.Address
	copy(a[:], pub)
	return a
}
