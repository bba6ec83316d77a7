package custody

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/pkg/keystore"
	"github.com/proofmint/intermezzo/pkg/safe_random"
)

// LocalSigner 是 Gateway 的进程内实现，只用于本地开发和测试。
// 签名信封格式与 Vault Transit 相同，编排层无法区分两者
type LocalSigner struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

var _ Gateway = (*LocalSigner)(nil)

// NewLocalSigner 创建一个空的本地签名器
func NewLocalSigner() *LocalSigner {
	return &LocalSigner{
		keys: make(map[string]ed25519.PrivateKey),
	}
}

// CreateKey 生成新的 ed25519 密钥，返回公钥
func (s *LocalSigner) CreateKey(name string) ([]byte, error) {
	seed, err := safe_random.GenerateRandomBytes(ed25519.SeedSize)
	if err != nil {
		return nil, fmt.Errorf("生成种子失败: %w", err)
	}
	if err := s.ImportSeed(name, seed); err != nil {
		return nil, err
	}
	return s.PublicKey(context.Background(), name)
}

// ImportSeed 导入 32 字节种子
func (s *LocalSigner) ImportSeed(name string, seed []byte) error {
	if name == "" {
		return fmt.Errorf("密钥名称不能为空")
	}
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("%w: 种子长度 %d", ErrUnsupportedKey, len(seed))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[name]; exists {
		return fmt.Errorf("%w: %s", ErrKeyExists, name)
	}
	s.keys[name] = ed25519.NewKeyFromSeed(seed)
	return nil
}

// Names 返回所有密钥名称 (已排序)
func (s *LocalSigner) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.keys))
	for name := range s.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PublicKey 获取公钥
func (s *LocalSigner) PublicKey(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	priv, ok := s.keys[name]
	if !ok {
		return nil, notFound("read key", name)
	}
	return append([]byte(nil), priv.Public().(ed25519.PublicKey)...), nil
}

// Sign 签名并包装为 "vault:v1:<base64>"
func (s *LocalSigner) Sign(_ context.Context, name string, payload []byte) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	priv, ok := s.keys[name]
	if !ok {
		return "", notFound("sign", name)
	}
	sig := ed25519.Sign(priv, payload)
	return "vault:v1:" + base64.StdEncoding.EncodeToString(sig), nil
}

// seedBook 是 keystore 中加密保存的明文结构
type seedBook struct {
	Keys map[string]string `json:"keys"` // name -> base64 seed
}

// Save 用密码加密所有种子并写入文件
func (s *LocalSigner) Save(path, password string, scryptN int) error {
	s.mu.RLock()
	book := seedBook{Keys: make(map[string]string, len(s.keys))}
	for name, priv := range s.keys {
		book.Keys[name] = base64.StdEncoding.EncodeToString(priv.Seed())
	}
	s.mu.RUnlock()

	plain, err := json.Marshal(book)
	if err != nil {
		return err
	}
	encrypted, err := keystore.EncryptSecretWithN(plain, password, scryptN)
	if err != nil {
		return fmt.Errorf("加密种子失败: %w", err)
	}
	return encrypted.SaveToFile(path)
}

// LoadLocalSigner 从加密 keystore 恢复本地签名器
func LoadLocalSigner(path, password string) (*LocalSigner, error) {
	encrypted, err := keystore.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 keystore 失败: %w", err)
	}
	plain, err := keystore.DecryptSecret(encrypted, password)
	if err != nil {
		return nil, fmt.Errorf("解密 keystore 失败: %w", err)
	}

	var book seedBook
	if err := json.Unmarshal(plain, &book); err != nil {
		return nil, fmt.Errorf("解析种子失败: %w", err)
	}

	signer := NewLocalSigner()
	for name, encoded := range book.Keys {
		seed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("种子 %s 格式错误: %w", name, err)
		}
		if err := signer.ImportSeed(name, seed); err != nil {
			return nil, err
		}
	}
	return signer, nil
}

func notFound(op, name string) error {
	return &apperr.CustodyUnavailableError{Op: op, Status: http.StatusNotFound, Err: fmt.Errorf("%w: %s", ErrKeyNotFound, name)}
}
