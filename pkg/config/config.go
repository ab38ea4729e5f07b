// Package config provides a reusable loader for choros node configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"choros/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a choros node. It mirrors the
// recognized options enumerated in the node's external-interfaces section,
// grouped by the subsystem that consumes them.
type Config struct {
	Router struct {
		HMACSecret            string  `mapstructure:"hmac_secret" json:"hmac_secret"`
		NonceCacheExpirySecs  int64   `mapstructure:"nonce_cache_expiry_secs" json:"nonce_cache_expiry_secs"`
		MaxMessageAgeSecs     int64   `mapstructure:"max_message_age_secs" json:"max_message_age_secs"`
		MaxFutureSkewSecs     int64   `mapstructure:"max_future_skew_secs" json:"max_future_skew_secs"`
		SubscriberBufferSize  int     `mapstructure:"subscriber_buffer_size" json:"subscriber_buffer_size"`
		PerSenderPublishRate  float64 `mapstructure:"per_sender_publish_rate" json:"per_sender_publish_rate"`
		PerSenderPublishBurst int     `mapstructure:"per_sender_publish_burst" json:"per_sender_publish_burst"`
	} `mapstructure:"router" json:"router"`

	Assembler struct {
		AssemblyTimeoutSecs  int64 `mapstructure:"assembly_timeout_secs" json:"assembly_timeout_secs"`
		MaxPendingAssemblies int   `mapstructure:"max_pending_assemblies" json:"max_pending_assemblies"`
		MinDiskSpacePercent  int   `mapstructure:"min_disk_space_percent" json:"min_disk_space_percent"`
		MaxBlockSize         int   `mapstructure:"max_block_size" json:"max_block_size"`
		PersistTxIndex       bool  `mapstructure:"persist_tx_index" json:"persist_tx_index"`
		DBPath               string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"assembler" json:"assembler"`

	Scheduler struct {
		MaxBatchSize int `mapstructure:"max_batch_size" json:"max_batch_size"`
	} `mapstructure:"scheduler" json:"scheduler"`

	Finality struct {
		EpochLength            uint64  `mapstructure:"epoch_length" json:"epoch_length"`
		MinAttestationPercent  float64 `mapstructure:"min_attestation_percent" json:"min_attestation_percent"`
		JustificationThreshold float64 `mapstructure:"justification_threshold" json:"justification_threshold"`
		MaxEpochsWithoutFinality uint64 `mapstructure:"max_epochs_without_finality" json:"max_epochs_without_finality"`
		InactivityLeakRate     float64 `mapstructure:"inactivity_leak_rate" json:"inactivity_leak_rate"`
		InactivityBasePenaltyBps  uint64 `mapstructure:"inactivity_base_penalty_bps" json:"inactivity_base_penalty_bps"`
		InactivityQuadraticFactor uint64 `mapstructure:"inactivity_quadratic_factor" json:"inactivity_quadratic_factor"`
		ReversionMaxDepth         int    `mapstructure:"reversion_max_depth" json:"reversion_max_depth"`
	} `mapstructure:"finality" json:"finality"`

	Registry struct {
		HealthPollIntervalMS int `mapstructure:"health_poll_interval_ms" json:"health_poll_interval_ms"`
		MaxSyncFailures      int `mapstructure:"max_sync_failures" json:"max_sync_failures"`
	} `mapstructure:"registry" json:"registry"`

	Mempool struct {
		MaxTxs           int   `mapstructure:"mempool_max_txs" json:"mempool_max_txs"`
		MinGasPriceGwei  int64 `mapstructure:"min_gas_price_gwei" json:"min_gas_price_gwei"`
		PerAccountLimit  int   `mapstructure:"mempool_per_account_limit" json:"mempool_per_account_limit"`
	} `mapstructure:"mempool" json:"mempool"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"metrics" json:"metrics"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up CHOROS_-prefixed overrides via .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CHOROS_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CHOROS_ENV", ""))
}

// Validate enforces the node's fatal-to-node config invariants: a zero HMAC
// secret must never start the node.
func (c *Config) Validate() error {
	if c.Router.HMACSecret == "" || c.Router.HMACSecret == "00000000000000000000000000000000000000000000000000000000000000" {
		return fmt.Errorf("router.hmac_secret must be set to a non-zero 32-byte secret")
	}
	return nil
}
