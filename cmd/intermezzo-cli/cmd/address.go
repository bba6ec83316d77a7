package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/proofmint/intermezzo/internal/custody"
	"github.com/proofmint/intermezzo/internal/signing"
	"github.com/proofmint/intermezzo/internal/txn"
	"github.com/proofmint/intermezzo/pkg/config"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "查询托管身份对应的地址",
	Long: `按服务相同的规则把身份映射到托管密钥，读取公钥并推导地址。
默认使用配置中的 custody 后端；指定 --keystore 时改用本地 keystore。`,
	Run: func(cmd *cobra.Command, args []string) {
		id, _ := cmd.Flags().GetString("id")
		role, _ := cmd.Flags().GetString("role")
		path, _ := cmd.Flags().GetString("keystore")

		config.Init()
		cc := config.Global.Custody
		router := signing.KeyRouter{
			UserPrefix:    cc.UserKeyPrefix,
			ManagerKey:    cc.ManagerKey,
			ManagerPrefix: cc.ManagerKeyPrefix,
		}

		var gw custody.Gateway
		if path != "" {
			password, err := readPassword("输入 keystore 密码: ")
			exitOnError("读取密码失败", err)
			signer, err := custody.LoadLocalSigner(path, password)
			exitOnError("加载 keystore 失败", err)
			gw = signer
		} else {
			vault, err := custody.NewVaultTransit(custody.VaultConfig{
				Address: cc.VaultAddr,
				Token:   cc.VaultToken,
				Mount:   cc.TransitMount,
				Timeout: 10 * time.Second,
			}, nil)
			exitOnError("初始化 Vault 客户端失败", err)
			gw = vault
		}

		identity := txn.Identity{ID: id, Role: txn.Role(role)}
		key, err := router.KeyFor(identity)
		exitOnError("无法映射托管密钥", err)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		addr, err := signing.NewAddressResolver(gw, router, nil, 0, nil).Resolve(ctx, identity)
		exitOnError("查询地址失败", err)

		fmt.Printf("身份:     %s\n", identity)
		fmt.Printf("密钥:     %s\n", key)
		fmt.Printf("地址:     %s\n", addr)
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
	addressCmd.Flags().String("id", "", "身份 ID (管理员可省略)")
	addressCmd.Flags().String("role", string(txn.RoleUser), "角色: user 或 manager")
	addressCmd.Flags().StringP("keystore", "k", "", "本地 keystore 文件路径")
}
