package safe_random

import (
	"crypto/rand"
	"fmt"
	"io"
)

// GenerateRandomBytes 生成指定长度的安全随机字节切片。
// 如果随机数源失败，将返回错误。
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(Reader, b); err != nil {
		return nil, fmt.Errorf("生成随机字节失败: %w", err)
	}
	return b, nil
}

// Reader 是一个全局共享的加密安全随机数源。
// 默认为 crypto/rand.Reader，测试中可以替换为确定性的源。
var Reader io.Reader = rand.Reader
