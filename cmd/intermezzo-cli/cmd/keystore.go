package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/spf13/cobra"

	"github.com/proofmint/intermezzo/internal/custody"
	"github.com/proofmint/intermezzo/pkg/keystore"
)

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "管理本地开发用的签名 keystore",
	Long:  `custody.backend=local 时服务从这个加密文件加载 ed25519 种子。生产环境请使用 Vault Transit。`,
}

var keystoreInitCmd = &cobra.Command{
	Use:   "init",
	Short: "创建 keystore 并生成默认管理员密钥",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("keystore")
		manager, _ := cmd.Flags().GetString("manager-key")
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("错误: 文件 %s 已存在。请先删除或指定其他文件名。\n", path)
			os.Exit(1)
		}

		fmt.Println("请设置一个强密码来保护签名种子。")
		password, err := readPassword("输入密码: ")
		exitOnError("读取密码失败", err)
		if os.Getenv("CUSTODY_KEYSTORE_PASSWORD") == "" {
			confirm, err := readPassword("确认密码: ")
			exitOnError("读取密码失败", err)
			if password != confirm {
				fmt.Println("两次输入的密码不一致！")
				os.Exit(1)
			}
		}
		if len(password) < 6 {
			fmt.Println("密码长度至少需要 6 位。")
			os.Exit(1)
		}

		signer := custody.NewLocalSigner()
		pub, err := signer.CreateKey(manager)
		exitOnError("生成密钥失败", err)
		exitOnError("保存文件失败", signer.Save(path, password, scryptN(cmd)))

		fmt.Printf("\n✅ keystore 已创建: %s\n", path)
		fmt.Printf("%-20s %s\n", manager, addressOf(pub))
	},
}

var keystoreAddCmd = &cobra.Command{
	Use:   "add <key-name>...",
	Short: "向 keystore 添加新密钥 (例如 user-alice)",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("keystore")
		password, err := readPassword("输入 keystore 密码: ")
		exitOnError("读取密码失败", err)

		signer, err := custody.LoadLocalSigner(path, password)
		exitOnError("加载 keystore 失败", err)

		for _, name := range args {
			pub, err := signer.CreateKey(name)
			if errors.Is(err, custody.ErrKeyExists) {
				fmt.Printf("跳过 %s: 已存在\n", name)
				continue
			}
			exitOnError("生成密钥失败", err)
			fmt.Printf("%-20s %s\n", name, addressOf(pub))
		}
		exitOnError("保存文件失败", signer.Save(path, password, scryptN(cmd)))
	},
}

var keystoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出 keystore 中的密钥和地址",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("keystore")
		password, err := readPassword("输入 keystore 密码: ")
		exitOnError("读取密码失败", err)

		signer, err := custody.LoadLocalSigner(path, password)
		exitOnError("加载 keystore 失败", err)

		for _, name := range signer.Names() {
			pub, err := signer.PublicKey(cmd.Context(), name)
			exitOnError("读取公钥失败", err)
			fmt.Printf("%-20s %s\n", name, addressOf(pub))
		}
	},
}

func scryptN(cmd *cobra.Command) int {
	if light, _ := cmd.Flags().GetBool("light"); light {
		return keystore.LightScryptN
	}
	return keystore.StandardScryptN
}

func addressOf(pub []byte) string {
	var addr types.Address
	copy(addr[:], pub)
	return addr.String()
}

func init() {
	rootCmd.AddCommand(keystoreCmd)
	keystoreCmd.AddCommand(keystoreInitCmd, keystoreAddCmd, keystoreListCmd)

	keystoreCmd.PersistentFlags().StringP("keystore", "k", "custody.json", "keystore 文件路径")
	keystoreCmd.PersistentFlags().Bool("light", false, "使用较弱的 scrypt 参数 (仅限开发环境)")
	keystoreInitCmd.Flags().String("manager-key", "manager", "默认管理员密钥名，与 custody.manager_key 一致")
}
