package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env      string `mapstructure:"EUSD_ENV"`
	HTTPAddr string `mapstructure:"EUSD_HTTP_ADDR"`

	Database DBConfig       `mapstructure:",squash"`
	Cache    CacheConfig    `mapstructure:",squash"`
	Protocol ProtocolConfig `mapstructure:",squash"`
	Oracle   OracleConfig   `mapstructure:",squash"`
	Prices   PriceConfig    `mapstructure:",squash"`
	Staking  StakingConfig  `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type DBConfig struct {
	PostgresDSN string `mapstructure:"EUSD_POSTGRES_DSN"`
}

type CacheConfig struct {
	RedisAddr        string        `mapstructure:"EUSD_REDIS_ADDR"`
	SnapshotInterval time.Duration `mapstructure:"EUSD_SNAPSHOT_INTERVAL"`
}

// ProtocolConfig carries the engine parameters as decimal strings
type ProtocolConfig struct {
	EP                   string `mapstructure:"EUSD_EP"`
	MCR                  string `mapstructure:"EUSD_MCR"`
	BP                   string `mapstructure:"EUSD_BP"`
	LowerBound           string `mapstructure:"EUSD_LOWER_BOUND"`
	UpperBound           string `mapstructure:"EUSD_UPPER_BOUND"`
	IssuanceCeiling      string `mapstructure:"EUSD_ISSUANCE_CEILING"`
	FlashFee             string `mapstructure:"EUSD_FLASH_FEE"`
	OpenFee              string `mapstructure:"EUSD_OPEN_FEE"`
	DustFloor            string `mapstructure:"EUSD_DUST_FLOOR"`
	BootstrapDebt        string `mapstructure:"EUSD_BOOTSTRAP_DEBT"`
	LiquidationIncentive string `mapstructure:"EUSD_LIQUIDATION_INCENTIVE"`
}

type OracleConfig struct {
	Staleness       time.Duration `mapstructure:"EUSD_ORACLE_STALENESS"`
	Failover        time.Duration `mapstructure:"EUSD_ORACLE_FAILOVER"`
	PrimaryPubKey   string        `mapstructure:"EUSD_ORACLE_PRIMARY_PUBKEY"`   // compressed secp256k1, hex
	SecondaryPubKey string        `mapstructure:"EUSD_ORACLE_SECONDARY_PUBKEY"` // compressed secp256k1, hex
	FeederKey       string        `mapstructure:"EUSD_ORACLE_FEEDER_KEY"`       // private key the feeder job signs with, hex
}

type PriceConfig struct {
	Provider       string        `mapstructure:"EUSD_PRICE_PROVIDER"`       // "binance", "mock"
	Symbol         string        `mapstructure:"EUSD_PRICE_SYMBOL"`         // venue-independent XRD/USD pair
	RetryInterval  time.Duration `mapstructure:"EUSD_PRICE_RETRY_INTERVAL"` // Retry failed provider
	MockVolatility float64       `mapstructure:"EUSD_PRICE_MOCK_VOLATILITY"`
	MockBasePrice  float64       `mapstructure:"EUSD_PRICE_MOCK_BASE_PRICE"`
}

type StakingConfig struct {
	Rate string  `mapstructure:"EUSD_STAKING_RATE"` // redemption rate at startup
	APY  float64 `mapstructure:"EUSD_STAKING_APY"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"EUSD_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"EUSD_CORS_ALLOWED_ORIGINS"`
	CapabilitySecret   string   `mapstructure:"EUSD_CAPABILITY_SECRET"`
	AdminToken         string   `mapstructure:"EUSD_ADMIN_TOKEN"` // bearer token for /v1/admin; empty disables it
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // ignore errors; env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("EUSD_ENV", "dev")
	viper.SetDefault("EUSD_HTTP_ADDR", ":8080")
	viper.SetDefault("EUSD_POSTGRES_DSN", "")
	viper.SetDefault("EUSD_REDIS_ADDR", "127.0.0.1:6379")
	viper.SetDefault("EUSD_SNAPSHOT_INTERVAL", "30s")

	viper.SetDefault("EUSD_EP", "1.3")
	viper.SetDefault("EUSD_MCR", "1.5")
	viper.SetDefault("EUSD_BP", "2")
	viper.SetDefault("EUSD_LOWER_BOUND", "0.95")
	viper.SetDefault("EUSD_UPPER_BOUND", "1.05")
	viper.SetDefault("EUSD_ISSUANCE_CEILING", "1000000")
	viper.SetDefault("EUSD_FLASH_FEE", "1.001")
	viper.SetDefault("EUSD_OPEN_FEE", "1")
	viper.SetDefault("EUSD_DUST_FLOOR", "30")
	viper.SetDefault("EUSD_BOOTSTRAP_DEBT", "777")
	viper.SetDefault("EUSD_LIQUIDATION_INCENTIVE", "0.01")

	viper.SetDefault("EUSD_ORACLE_STALENESS", "5m")
	viper.SetDefault("EUSD_ORACLE_FAILOVER", "30m")
	viper.SetDefault("EUSD_ORACLE_PRIMARY_PUBKEY", "")
	viper.SetDefault("EUSD_ORACLE_SECONDARY_PUBKEY", "")
	viper.SetDefault("EUSD_ORACLE_FEEDER_KEY", "")

	viper.SetDefault("EUSD_PRICE_PROVIDER", "binance")
	viper.SetDefault("EUSD_PRICE_SYMBOL", "XRDUSDT")
	viper.SetDefault("EUSD_PRICE_RETRY_INTERVAL", "5s")
	viper.SetDefault("EUSD_PRICE_MOCK_VOLATILITY", 0.002)
	viper.SetDefault("EUSD_PRICE_MOCK_BASE_PRICE", 0.05)

	viper.SetDefault("EUSD_STAKING_RATE", "1")
	viper.SetDefault("EUSD_STAKING_APY", 0.07)

	viper.SetDefault("EUSD_RATE_LIMIT_RPM", 120)
	viper.SetDefault("EUSD_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	viper.SetDefault("EUSD_CAPABILITY_SECRET", "")
	viper.SetDefault("EUSD_ADMIN_TOKEN", "")

	// Handle array parsing for comma-separated values
	if origins := viper.GetString("EUSD_CORS_ALLOWED_ORIGINS"); origins != "" {
		viper.Set("EUSD_CORS_ALLOWED_ORIGINS", strings.Split(origins, ","))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.IsProd() && c.Database.PostgresDSN == "" {
		return fmt.Errorf("EUSD_POSTGRES_DSN is required in prod")
	}
	if c.IsProd() && c.Security.CapabilitySecret == "" {
		return fmt.Errorf("EUSD_CAPABILITY_SECRET is required in prod")
	}
	switch c.Prices.Provider {
	case "binance", "mock":
	default:
		return fmt.Errorf("invalid EUSD_PRICE_PROVIDER %q (must be binance or mock)", c.Prices.Provider)
	}
	if c.Staking.APY < 0 {
		return fmt.Errorf("EUSD_STAKING_APY cannot be negative")
	}
	if _, err := decimal.NewFromString(c.Staking.Rate); err != nil {
		return fmt.Errorf("invalid EUSD_STAKING_RATE %q: %w", c.Staking.Rate, err)
	}

	params, err := c.Params()
	if err != nil {
		return err
	}
	return params.Validate()
}

// Params converts the protocol section into engine parameters
func (c *Config) Params() (engine.Params, error) {
	p := engine.Params{
		OracleStaleness: c.Oracle.Staleness,
		OracleFailover:  c.Oracle.Failover,
	}

	fields := []struct {
		key   string
		value string
		dst   *decimal.Decimal
	}{
		{"EUSD_EP", c.Protocol.EP, &p.EP},
		{"EUSD_MCR", c.Protocol.MCR, &p.MCR},
		{"EUSD_BP", c.Protocol.BP, &p.BP},
		{"EUSD_LOWER_BOUND", c.Protocol.LowerBound, &p.LowerBound},
		{"EUSD_UPPER_BOUND", c.Protocol.UpperBound, &p.UpperBound},
		{"EUSD_ISSUANCE_CEILING", c.Protocol.IssuanceCeiling, &p.MaxMint},
		{"EUSD_FLASH_FEE", c.Protocol.FlashFee, &p.FlashFee},
		{"EUSD_OPEN_FEE", c.Protocol.OpenFee, &p.OpenFee},
		{"EUSD_DUST_FLOOR", c.Protocol.DustFloor, &p.DustFloor},
		{"EUSD_BOOTSTRAP_DEBT", c.Protocol.BootstrapDebt, &p.BootstrapDebt},
		{"EUSD_LIQUIDATION_INCENTIVE", c.Protocol.LiquidationIncentive, &p.Incentive},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(strings.TrimSpace(f.value))
		if err != nil {
			return engine.Params{}, fmt.Errorf("invalid %s %q: %w", f.key, f.value, err)
		}
		*f.dst = v
	}
	return p, nil
}

// StakingRate is the redemption rate the staking stand-in starts from
func (c *Config) StakingRate() decimal.Decimal {
	return decimal.RequireFromString(c.Staking.Rate)
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
