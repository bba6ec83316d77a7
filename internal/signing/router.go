package signing

import (
	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/internal/txn"
)

// DefaultManagerID 显式指定默认管理员密钥时使用的 ID
const DefaultManagerID = "default"

// KeyRouter 把身份映射到托管服务中的密钥名
type KeyRouter struct {
	UserPrefix    string // 用户密钥: <UserPrefix><id>
	ManagerKey    string // 默认管理员密钥
	ManagerPrefix string // 具名管理员密钥: <ManagerPrefix><id>
}

// KeyFor 返回 id 对应的密钥名，无法映射时返回 SigningAuthorityMismatchError
func (r KeyRouter) KeyFor(id txn.Identity) (string, error) {
	switch id.Role {
	case txn.RoleUser:
		if id.ID == "" {
			break
		}
		return r.UserPrefix + id.ID, nil
	case txn.RoleManager:
		if id.ID == "" || id.ID == DefaultManagerID {
			if r.ManagerKey == "" {
				break
			}
			return r.ManagerKey, nil
		}
		return r.ManagerPrefix + id.ID, nil
	}
	return "", &apperr.SigningAuthorityMismatchError{Sender: id.String(), Role: string(id.Role)}
}
