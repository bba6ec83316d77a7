package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log 给包级 helper 用，跳过一层 caller; 注入组件的用 L()
var (
	Log       = zap.NewNop()
	component = zap.NewNop()
)

// New 按运行环境构建 logger: production 输出 JSON，其余输出彩色控制台
func New(env string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("service", "intermezzo"), zap.String("env", env)), nil
}

// Init 初始化全局 logger，失败直接 panic (进程刚启动，没有别的地方可以报错)
func Init(env string) {
	base, err := New(env)
	if err != nil {
		panic(err)
	}
	component = base
	Log = base.WithOptions(zap.AddCallerSkip(1))
	zap.ReplaceGlobals(base)
}

func L() *zap.Logger { return component }

func Named(name string) *zap.Logger { return component.Named(name) }

func Sync() { _ = component.Sync() }

func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { Log.Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { Log.Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }

func Fatal(msg string, fields ...zap.Field) { Log.Fatal(msg, fields...) }
