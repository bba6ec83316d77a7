package signing

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/proofmint/intermezzo/internal/apperr"
)

// Envelope 托管服务返回的签名信封 "<scheme>:<version>:<base64>"
type Envelope struct {
	Scheme  string
	Version string
	Raw     types.Signature
}

// ParseEnvelope 解析信封并取出 64 字节原始签名
func ParseEnvelope(s string) (Envelope, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Envelope{}, malformed("expected <scheme>:<version>:<signature>")
	}

	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return Envelope{}, malformed("signature is not base64: %v", err)
	}
	if len(raw) != len(types.Signature{}) {
		return Envelope{}, malformed("signature is %d bytes, want 64", len(raw))
	}

	env := Envelope{Scheme: parts[0], Version: parts[1]}
	copy(env.Raw[:], raw)
	return env, nil
}

// String 重新编码为信封格式
func (e Envelope) String() string {
	return e.Scheme + ":" + e.Version + ":" + base64.StdEncoding.EncodeToString(e.Raw[:])
}

func malformed(format string, args ...any) error {
	return &apperr.CustodyUnavailableError{Op: "parse envelope", Err: fmt.Errorf(format, args...)}
}
