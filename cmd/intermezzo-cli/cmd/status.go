package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/proofmint/intermezzo/internal/ledger"
	"github.com/proofmint/intermezzo/internal/submission"
	"github.com/proofmint/intermezzo/pkg/config"
)

var statusCmd = &cobra.Command{
	Use:   "status <txid>",
	Short: "查询交易在账本上的状态",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		wait, _ := cmd.Flags().GetUint64("wait")

		config.Init()
		lc := config.Global.Ledger
		algod := ledger.NewAlgodClient(&ledger.Config{
			BaseURL:        lc.AlgodURL,
			Token:          lc.AlgodToken,
			RateLimit:      lc.RateLimit,
			Timeout:        lc.Timeout,
			RetryAttempts:  lc.RetryAttempts,
			ValidityWindow: lc.ValidityWindow,
		}, nil)
		pipeline := submission.NewPipeline(algod, lc.WaitRounds, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		var (
			res submission.Result
			err error
		)
		if wait > 0 {
			res, err = pipeline.Wait(ctx, args[0], wait)
		} else {
			res, err = pipeline.Status(ctx, args[0])
		}
		exitOnError("查询失败", err)

		fmt.Printf("TxID:      %s\n", res.TxID)
		switch {
		case res.Confirmed():
			fmt.Printf("状态:      已确认 (round %d)\n", res.ConfirmedRound)
			if res.AssetID != 0 {
				fmt.Printf("资产 ID:   %d\n", res.AssetID)
			}
		case res.Rejected:
			fmt.Printf("状态:      被拒绝: %s\n", res.Reason)
		default:
			fmt.Println("状态:      未确认")
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Uint64("wait", 0, "最多等待的轮数，0 表示只查询一次")
}
