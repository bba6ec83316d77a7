package custody

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/proofmint/intermezzo/internal/apperr"
)

// VaultConfig Vault Transit 引擎配置
type VaultConfig struct {
	Address    string
	Token      string
	Mount      string // transit 引擎挂载路径，默认 "transit"
	Timeout    time.Duration
	MaxRetries int

	// 熔断: 连续失败 BreakerFailures 次后打开，BreakerTimeout 后进入半开
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// VaultTransit 通过 Vault Transit 引擎实现 Gateway
type VaultTransit struct {
	client  *api.Client
	mount   string
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

var _ Gateway = (*VaultTransit)(nil)

// NewVaultTransit 创建 Vault 客户端
func NewVaultTransit(cfg VaultConfig, log *zap.Logger) (*VaultTransit, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("vault")

	vcfg := api.DefaultConfig()
	if vcfg.Error != nil {
		return nil, fmt.Errorf("读取 Vault 默认配置失败: %w", vcfg.Error)
	}
	if cfg.Address != "" {
		vcfg.Address = cfg.Address
	}
	if cfg.Timeout > 0 {
		vcfg.Timeout = cfg.Timeout
	}
	vcfg.MaxRetries = cfg.MaxRetries

	client, err := api.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Vault 客户端失败: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "transit"
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vault-transit",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 4xx 是调用方的问题 (密钥不存在、权限不足)，不计入熔断
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var respErr *api.ResponseError
			if errors.As(err, &respErr) {
				return respErr.StatusCode < 500
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Vault 熔断状态变化", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &VaultTransit{
		client:  client,
		mount:   mount,
		breaker: breaker,
		log:     log,
	}, nil
}

// PublicKey 读取 <mount>/keys/<key>，返回最新版本的 ed25519 公钥
func (v *VaultTransit) PublicKey(ctx context.Context, key string) ([]byte, error) {
	const op = "read key"
	secret, err := v.execute(op, func() (*api.Secret, error) {
		return v.client.Logical().ReadWithContext(ctx, v.mount+"/keys/"+key)
	})
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, &apperr.CustodyUnavailableError{Op: op, Status: http.StatusNotFound, Err: fmt.Errorf("%w: %s", ErrKeyNotFound, key)}
	}

	if kt, _ := secret.Data["type"].(string); kt != "" && kt != "ed25519" {
		return nil, &apperr.CustodyUnavailableError{Op: op, Err: fmt.Errorf("%w: %s is %s", ErrUnsupportedKey, key, kt)}
	}

	latest, err := toInt(secret.Data["latest_version"])
	if err != nil {
		return nil, &apperr.CustodyUnavailableError{Op: op, Err: fmt.Errorf("latest_version 格式错误: %w", err)}
	}
	versions, _ := secret.Data["keys"].(map[string]interface{})
	entry, _ := versions[strconv.Itoa(latest)].(map[string]interface{})
	encoded, _ := entry["public_key"].(string)
	if encoded == "" {
		return nil, &apperr.CustodyUnavailableError{Op: op, Err: fmt.Errorf("密钥 %s 版本 %d 缺少 public_key", key, latest)}
	}

	pub, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(pub) != 32 {
		return nil, &apperr.CustodyUnavailableError{Op: op, Err: fmt.Errorf("密钥 %s 的公钥不是 32 字节 ed25519 公钥", key)}
	}
	return pub, nil
}

// Sign 写入 <mount>/sign/<key>，返回 "vault:v<N>:<base64>" 信封
func (v *VaultTransit) Sign(ctx context.Context, key string, payload []byte) (string, error) {
	const op = "sign"
	secret, err := v.execute(op, func() (*api.Secret, error) {
		return v.client.Logical().WriteWithContext(ctx, v.mount+"/sign/"+key, map[string]interface{}{
			"input": base64.StdEncoding.EncodeToString(payload),
		})
	})
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", &apperr.CustodyUnavailableError{Op: op, Err: errors.New("签名响应为空")}
	}

	sig, _ := secret.Data["signature"].(string)
	if sig == "" {
		return "", &apperr.CustodyUnavailableError{Op: op, Err: errors.New("签名响应缺少 signature 字段")}
	}
	return sig, nil
}

func (v *VaultTransit) execute(op string, fn func() (*api.Secret, error)) (*api.Secret, error) {
	res, err := v.breaker.Execute(func() (interface{}, error) {
		s, err := fn()
		return s, err
	})
	if err != nil {
		return nil, v.wrap(op, err)
	}
	secret, _ := res.(*api.Secret)
	return secret, nil
}

func (v *VaultTransit) wrap(op string, err error) error {
	status := 0
	var respErr *api.ResponseError
	switch {
	case errors.As(err, &respErr):
		status = respErr.StatusCode
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = http.StatusServiceUnavailable
		v.log.Warn("Vault 熔断中，请求被拒绝", zap.String("op", op))
	}
	return &apperr.CustodyUnavailableError{Op: op, Status: status, Err: err}
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
