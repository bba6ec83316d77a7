package config

import (
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	DB           DBConfig           `mapstructure:"db"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Custody      CustodyConfig      `mapstructure:"custody"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
	GrpcPort string `mapstructure:"grpc_port"`
}

type DBConfig struct {
	Enabled     bool   `mapstructure:"enabled"`      // 关闭时不记录审计流水
	AutoMigrate bool   `mapstructure:"auto_migrate"` // 开发环境用 gorm AutoMigrate，生产环境用 cmd/migrate
	Host        string `mapstructure:"host"`
	Port        string `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Name        string `mapstructure:"name"`
}

// DSN gorm postgres 驱动使用的 key=value 格式
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

// URL golang-migrate 使用的 postgres:// 格式，密码会被转义
func (c DBConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type LedgerConfig struct {
	AlgodURL       string        `mapstructure:"algod_url"`
	AlgodToken     string        `mapstructure:"algod_token"`
	RateLimit      int           `mapstructure:"rate_limit"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	ValidityWindow uint64        `mapstructure:"validity_window"`
	WaitRounds     uint64        `mapstructure:"wait_rounds"`
}

type CustodyConfig struct {
	Backend          string        `mapstructure:"backend"` // "vault" or "local"
	VaultAddr        string        `mapstructure:"vault_addr"`
	VaultToken       string        `mapstructure:"vault_token"` // 通常通过环境变量 CUSTODY_VAULT_TOKEN 传入
	TransitMount     string        `mapstructure:"transit_mount"`
	UserKeyPrefix    string        `mapstructure:"user_key_prefix"`
	ManagerKey       string        `mapstructure:"manager_key"`
	ManagerKeyPrefix string        `mapstructure:"manager_key_prefix"`
	KeystorePath     string        `mapstructure:"keystore_path"`     // local 后端使用
	KeystorePassword string        `mapstructure:"keystore_password"` // CUSTODY_KEYSTORE_PASSWORD
	PubkeyCacheTTL   time.Duration `mapstructure:"pubkey_cache_ttl"`
	BreakerFailures  uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

type OrchestratorConfig struct {
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	EventTopic     string        `mapstructure:"event_topic"`
}

var Global Config

func Init() {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// 环境变量设置
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")
	viper.SetDefault("app.grpc_port", "50051")

	viper.SetDefault("db.enabled", false)
	viper.SetDefault("db.auto_migrate", false)
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "intermezzo")
	viper.SetDefault("db.password", "intermezzo")
	viper.SetDefault("db.name", "intermezzo")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("ledger.algod_url", "http://localhost:4001")
	viper.SetDefault("ledger.rate_limit", 20)
	viper.SetDefault("ledger.timeout", 30*time.Second)
	viper.SetDefault("ledger.retry_attempts", 3)
	viper.SetDefault("ledger.validity_window", 1000)
	viper.SetDefault("ledger.wait_rounds", 20)

	viper.SetDefault("custody.backend", "vault")
	viper.SetDefault("custody.vault_addr", "http://127.0.0.1:8200")
	viper.SetDefault("custody.transit_mount", "transit")
	viper.SetDefault("custody.user_key_prefix", "user-")
	viper.SetDefault("custody.manager_key", "manager")
	viper.SetDefault("custody.manager_key_prefix", "manager-")
	viper.SetDefault("custody.keystore_path", "custody.json")
	viper.SetDefault("custody.pubkey_cache_ttl", 10*time.Minute)
	viper.SetDefault("custody.breaker_failures", 5)
	viper.SetDefault("custody.breaker_timeout", 30*time.Second)

	viper.SetDefault("orchestrator.idempotency_ttl", 24*time.Hour)
	viper.SetDefault("orchestrator.event_topic", "transfer_events")
}
