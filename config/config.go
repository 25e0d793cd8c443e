package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server configuration
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`

	// Redis configuration
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// PubNub configuration
	PubNubPublishKey   string `yaml:"pubnub_publish_key"`
	PubNubSubscribeKey string `yaml:"pubnub_subscribe_key"`
	PubNubSecretKey    string `yaml:"pubnub_secret_key"`

	// Ledger configuration
	LedgerRPCURL    string        `yaml:"ledger_rpc_url"`
	ContractAddress string        `yaml:"contract_address"`
	ChainID         int64         `yaml:"chain_id"`
	AcceptTimeout   time.Duration `yaml:"accept_timeout"`
	ReceiptTimeout  time.Duration `yaml:"receipt_timeout"`

	// Wallet custody
	WalletSecret string `yaml:"wallet_secret"`

	// Redemption
	OTPExpiry          time.Duration `yaml:"otp_expiry"`
	OTPRetention       time.Duration `yaml:"otp_retention"`
	RedeemAttemptLimit int           `yaml:"redeem_attempt_limit"`
	RedeemAttemptTTL   time.Duration `yaml:"redeem_attempt_window"`

	// Reconciler
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	IntentStaleAfter  time.Duration `yaml:"intent_stale_after"`

	// Request rate limiting, per minute
	RequestRateLimit int `yaml:"request_rate_limit"`

	// Monitoring
	EnableMetrics   bool          `yaml:"enable_metrics"`
	MetricsPort     string        `yaml:"metrics_port"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// LoadConfig reads the environment and then applies the YAML file named by
// TICKETING_CONFIG, if any. Keys present in the file win.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Ledger
		LedgerRPCURL:    getEnv("LEDGER_RPC_URL", "http://localhost:8545"),
		ContractAddress: getEnv("CONTRACT_ADDRESS", ""),
		ChainID:         int64(getEnvAsInt("CHAIN_ID", 1337)),
		AcceptTimeout:   getEnvAsDuration("LEDGER_ACCEPT_TIMEOUT", "15s"),
		ReceiptTimeout:  getEnvAsDuration("LEDGER_RECEIPT_TIMEOUT", "2m"),

		// Wallets
		WalletSecret: getEnv("WALLET_SECRET", ""),

		// Redemption
		OTPExpiry:          getEnvAsDuration("OTP_EXPIRY", "5m"),
		OTPRetention:       getEnvAsDuration("OTP_RETENTION", "1h"),
		RedeemAttemptLimit: getEnvAsInt("REDEEM_ATTEMPT_LIMIT", 5),
		RedeemAttemptTTL:   getEnvAsDuration("REDEEM_ATTEMPT_WINDOW", "10m"),

		// Reconciler
		ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", "1m"),
		IntentStaleAfter:  getEnvAsDuration("INTENT_STALE_AFTER", "5m"),

		RequestRateLimit: getEnvAsInt("REQUEST_RATE_LIMIT", 120),

		// Monitoring
		EnableMetrics:   getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:     getEnv("METRICS_PORT", "9090"),
		MetricsInterval: getEnvAsDuration("METRICS_INTERVAL", "30s"),
	}

	if path := os.Getenv("TICKETING_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.WalletSecret == "":
		return errors.New("config: wallet_secret is required")
	case c.ContractAddress == "":
		return errors.New("config: contract_address is required")
	case c.ChainID <= 0:
		return errors.New("config: chain_id must be positive")
	case c.OTPExpiry <= 0:
		return errors.New("config: otp_expiry must be positive")
	case c.OTPRetention < c.OTPExpiry:
		return errors.New("config: otp_retention must not be shorter than otp_expiry")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
