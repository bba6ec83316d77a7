package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/proofmint/intermezzo/pkg/config"
	"github.com/proofmint/intermezzo/pkg/logger"
)

// 用法: migrate -cmd up | down | steps -n 1 | force -n 3 | version
func main() {
	command := flag.String("cmd", "up", "up, down, steps, force, version")
	n := flag.Int("n", 0, "steps 的步数 (负数回滚) 或 force 的目标版本")
	source := flag.String("source", "file://migrations", "迁移文件目录")
	flag.Parse()

	config.Init()
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	m, err := migrate.New(*source, config.Global.DB.URL())
	if err != nil {
		logger.Fatal("初始化迁移失败", zap.Error(err))
	}
	defer m.Close()

	if err := run(m, *command, *n); err != nil {
		logger.Fatal("迁移失败", zap.String("cmd", *command), zap.Error(err))
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("数据库没有任何迁移记录")
		return
	}
	if err != nil {
		logger.Fatal("读取版本失败", zap.Error(err))
	}
	logger.Info("迁移完成", zap.String("cmd", *command), zap.Uint("version", v), zap.Bool("dirty", dirty))
}

func run(m *migrate.Migrate, command string, n int) error {
	var err error
	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if n == 0 {
			return errors.New("steps 需要 -n")
		}
		err = m.Steps(n)
	case "force":
		if n <= 0 {
			return errors.New("force 需要 -n 指定版本")
		}
		err = m.Force(n)
	case "version":
		return nil
	default:
		return fmt.Errorf("未知命令: %s", command)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
