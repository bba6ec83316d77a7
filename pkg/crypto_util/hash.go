package crypto_util

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Fingerprint 对多个字段做 Blake3 指纹，字段之间用 0x00 分隔避免拼接歧义。
// 用于生成幂等键、缓存键等内部指纹
func Fingerprint(parts ...string) string {
	h := blake3.New(32, nil)
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
