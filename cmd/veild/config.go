// config.go - Configuration management for the veil daemon
package main

import (
	"crypto/ecdsa"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/solveil/veil/internal/accumulator"
	"github.com/solveil/veil/internal/transport"
	"github.com/solveil/veil/internal/types"
)

// Config represents the daemon configuration
type Config struct {
	// Chain identity
	ChainID uint16 `yaml:"chain_id"`
	NodeID  string `yaml:"node_id"`

	// Storage
	DataDir    string `yaml:"data_dir"`
	SyncWrites bool   `yaml:"sync_writes"`

	// Proving keys
	KeyDir    string `yaml:"key_dir"`
	TreeDepth uint8  `yaml:"tree_depth"`

	// HTTP
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	EnableFaucet bool          `yaml:"enable_faucet"`

	// Logging
	LogLevel     string `yaml:"log_level"`
	LogFile      string `yaml:"log_file"`
	LogMaxSizeMB int    `yaml:"log_max_size_mb"`
	LogMaxAge    int    `yaml:"log_max_age_days"`
	EnableAudit  bool   `yaml:"enable_audit"`
	AuditLogPath string `yaml:"audit_log_path"`

	// Transport
	GuardianKey      string            `yaml:"guardian_key"`
	GuardianIndex    uint8             `yaml:"guardian_index"`
	GuardianSetIndex uint32            `yaml:"guardian_set_index"`
	Guardians        []string          `yaml:"guardians"`
	Peers            map[string]string `yaml:"peers"`

	// Events
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	// Rate limiting
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	RateLimitRefill int           `yaml:"rate_limit_refill"`
	RateLimitPeriod time.Duration `yaml:"rate_limit_period"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ChainID:         uint16(types.ChainSolana),
		NodeID:          "solana",
		DataDir:         "data",
		KeyDir:          "keys",
		TreeDepth:       20,
		ListenAddr:      ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		LogLevel:        "info",
		LogFile:         "veild.log",
		LogMaxSizeMB:    100,
		LogMaxAge:       28,
		EnableAudit:     true,
		AuditLogPath:    "audit.log",
		NATSSubject:     "veil",
		RateLimitBurst:  20,
		RateLimitRefill: 5,
		RateLimitPeriod: time.Second,
		Peers:           map[string]string{},
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		config := DefaultConfig()
		if err := yaml.Unmarshal(raw, config); err != nil {
			return nil, errors.Wrap(err, "failed to decode config file")
		}
		return config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, errors.Wrap(err, "failed to save default config")
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	raw, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return errors.Wrap(os.WriteFile(configPath, raw, 0600), "failed to write config file")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return errors.New("chain_id must be set")
	}
	if c.NodeID == "" {
		return errors.New("node_id must be set")
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.TreeDepth < accumulator.MinDepth || c.TreeDepth > accumulator.MaxDepth {
		return errors.Errorf("tree_depth must be in [%d, %d]", accumulator.MinDepth, accumulator.MaxDepth)
	}
	if c.GuardianKey != "" {
		if _, err := c.GuardianPrivateKey(); err != nil {
			return err
		}
	}
	for i, g := range c.Guardians {
		if !common.IsHexAddress(g) {
			return errors.Errorf("guardians[%d] is not an address", i)
		}
	}
	if c.RateLimitBurst <= 0 || c.RateLimitRefill <= 0 || c.RateLimitPeriod <= 0 {
		return errors.New("rate limits must be positive")
	}
	return nil
}

// GuardianPrivateKey decodes the guardian signing key.
func (c *Config) GuardianPrivateKey() (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(c.GuardianKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "guardian_key")
	}
	key, err := crypto.ToECDSA(raw)
	return key, errors.Wrap(err, "guardian_key")
}

// GuardianSet returns the configured guardian set, addresses in index order.
func (c *Config) GuardianSet() transport.GuardianSet {
	set := transport.GuardianSet{Index: c.GuardianSetIndex, Keys: make([]common.Address, len(c.Guardians))}
	for i, g := range c.Guardians {
		set.Keys[i] = common.HexToAddress(g)
	}
	return set
}

