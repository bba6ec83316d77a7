package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/proofmint/intermezzo/internal/model"
	"github.com/proofmint/intermezzo/internal/service/mq"
	"github.com/proofmint/intermezzo/pkg/config"
	"github.com/proofmint/intermezzo/pkg/database"
	"github.com/proofmint/intermezzo/pkg/logger"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "订阅并打印转账事件",
	Run: func(cmd *cobra.Command, args []string) {
		group, _ := cmd.Flags().GetString("group")

		config.Init()
		logger.Init(config.Global.App.Env)
		defer logger.Sync()
		cfg := config.Global

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var consumer mq.Consumer
		if cfg.Redis.MQType == "kafka" {
			consumer = mq.NewKafkaConsumer(cfg.Kafka.Brokers, group, logger.L())
		} else {
			rdb, err := database.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger.L())
			exitOnError("Redis 连接失败", err)
			defer rdb.Close()
			host, _ := os.Hostname()
			consumer = mq.NewRedisConsumer(rdb, group, group+"-"+host, logger.L())
		}
		defer consumer.Close()

		err := consumer.Subscribe(ctx, cfg.Orchestrator.EventTopic, func(msg *mq.Message) error {
			ev, err := model.DecodeTransferEvent(msg.Payload)
			if err != nil {
				// 格式错误的消息直接确认，避免反复投递
				fmt.Printf("无法解析消息 %s: %v\n", msg.ID, err)
				return nil
			}
			fmt.Printf("%s %-14s %-10s tx=%s round=%d amount=%d\n",
				ev.OccurredAt.Format("2006-01-02 15:04:05"), ev.Operation, ev.Status, ev.TxID, ev.ConfirmedRound, ev.Amount)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			exitOnError("订阅失败", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().String("group", "intermezzo-cli", "消费者组")
}
