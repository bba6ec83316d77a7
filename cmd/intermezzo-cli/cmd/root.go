package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "intermezzo-cli",
	Short: "转账编排服务运维工具",
	Long: `intermezzo 的命令行工具。
支持管理本地开发用的签名 keystore、查询托管地址、查询交易状态以及订阅转账事件。`,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// readPassword 优先读取环境变量 CUSTODY_KEYSTORE_PASSWORD，否则交互输入
func readPassword(prompt string) (string, error) {
	if pw := os.Getenv("CUSTODY_KEYSTORE_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	return string(b), nil
}

func exitOnError(msg string, err error) {
	if err != nil {
		fmt.Printf("%s: %v\n", msg, err)
		os.Exit(1)
	}
}
