package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"BlinkPay/internal/db"
)

const envPrefix = "BLINKPAY"

type Config struct {
	App struct {
		Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
		LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
		GinMode  string `mapstructure:"gin_mode" validate:"oneof=debug release test"`
		// Workers 并发对账的签名数上限
		Workers    int           `mapstructure:"workers" validate:"min=1"`
		ReadyDelay time.Duration `mapstructure:"ready_delay" validate:"min=0"`
	} `mapstructure:"app"`
	MySQL  db.MySQLConfig `mapstructure:"mysql"`
	Solana struct {
		RPCURL         string `mapstructure:"rpc_url" validate:"required,url"`
		USDCMint       string `mapstructure:"usdc_mint"`
		USDTMint       string `mapstructure:"usdt_mint"`
		PlatformWallet string `mapstructure:"platform_wallet" validate:"required"`
		FeeRateBps     int64  `mapstructure:"fee_rate_bps" validate:"min=0,max=10000"`
		// PriorityFee 单位 microlamports / CU，0 表示不加优先费
		PriorityFee      uint64 `mapstructure:"priority_fee"`
		ComputeUnitLimit uint32 `mapstructure:"compute_unit_limit"`
	} `mapstructure:"solana"`
	Redis struct {
		// Addr 为空时不启用账户缓存
		Addr       string        `mapstructure:"addr"`
		Password   string        `mapstructure:"password"`
		DB         int           `mapstructure:"db" validate:"min=0"`
		AccountTTL time.Duration `mapstructure:"account_ttl" validate:"min=0"`
	} `mapstructure:"redis"`
	Webhook struct {
		Secret          string `mapstructure:"secret"`
		SignatureHeader string `mapstructure:"signature_header" validate:"required"`
	} `mapstructure:"webhook"`
	Action struct {
		BaseURL       string   `mapstructure:"base_url" validate:"required,url"`
		IconURL       string   `mapstructure:"icon_url" validate:"omitempty,url"`
		AmountPresets []string `mapstructure:"amount_presets"`
	} `mapstructure:"action"`
	Matching struct {
		StrictMemoAmount bool `mapstructure:"strict_memo_amount"`
	} `mapstructure:"matching"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.gin_mode", "release")
	v.SetDefault("app.workers", 8)
	v.SetDefault("app.ready_delay", "0s")

	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.dbname", "blinkpay")

	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.usdc_mint", "")
	v.SetDefault("solana.usdt_mint", "")
	v.SetDefault("solana.platform_wallet", "")
	v.SetDefault("solana.fee_rate_bps", 50)
	v.SetDefault("solana.priority_fee", 0)
	v.SetDefault("solana.compute_unit_limit", 0)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.account_ttl", "10m")

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.signature_header", "helius-signature")

	v.SetDefault("action.base_url", "")
	v.SetDefault("action.icon_url", "")
	v.SetDefault("action.amount_presets", []string{})

	v.SetDefault("matching.strict_memo_amount", false)
}

// LoadConfig 读取 config.yaml，环境变量 BLINKPAY_* 覆盖同名配置
// path 为空时在当前目录查找 config.yaml，找不到则只用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
