// Package custody 对接外部密钥托管服务。
// 私钥永远不进入本进程: 编排层只通过 Gateway 获取公钥和请求签名。
package custody

import (
	"context"
	"errors"
)

// Gateway 托管服务能力接口
type Gateway interface {
	// PublicKey 返回 key 的 ed25519 公钥 (32 字节)
	PublicKey(ctx context.Context, key string) ([]byte, error)
	// Sign 对 payload 签名，返回带版本的签名信封 "<scheme>:<version>:<base64>"
	Sign(ctx context.Context, key string, payload []byte) (string, error)
}

var (
	ErrKeyNotFound    = errors.New("密钥未找到")
	ErrKeyExists      = errors.New("密钥已存在")
	ErrUnsupportedKey = errors.New("不支持的密钥类型")
)
