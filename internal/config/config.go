// Package config loads the engine's file-driven operational
// configuration (spec.md §6: "all operational config is file-driven
// (YAML/TOML/JSON — the core does not care)"). Config loading itself is
// explicitly out of the core's scope (spec.md §1 Non-goals); this
// package is the thin collaborator the cmd/stratum-engine entrypoint
// uses to populate the core's session/engine constructors.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StratumConfig configures the Stratum V1 mining client session
// (spec.md §4.5/§6).
type StratumConfig struct {
	Enabled      bool   `yaml:"enabled"`
	PoolAddress  string `yaml:"pool_address"`
	UseTLS       bool   `yaml:"use_tls"`
	UserAgent    string `yaml:"user_agent"`
	Worker       string `yaml:"worker"`
	Password     string `yaml:"password"`
	Lanes        int    `yaml:"lanes"`
	SimulatedPoW bool   `yaml:"simulated_pow"`

	// AlwaysSubmitBlockCandidates is decoded from config but not read by
	// the engine: the search loop emits only hashes meeting share_target,
	// so a header meeting block_target but not share_target is dropped
	// whatever this field says.
	AlwaysSubmitBlockCandidates bool `yaml:"always_submit_block_candidates"`
}

// FeeOracleConfig points the Bitcoin P2P session's mempool ingester at
// an optional full-node RPC endpoint for fee lookups (spec.md §4.6: "an
// external UTXO oracle collaborator; if unavailable, fee is recorded as
// 0").
type FeeOracleConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// BTCP2PConfig configures the Bitcoin P2P mempool-ingest session
// (spec.md §4.6/§6).
type BTCP2PConfig struct {
	Enabled     bool            `yaml:"enabled"`
	PeerAddress string          `yaml:"peer_address"`
	Testnet     bool            `yaml:"testnet"`
	UserAgent   string          `yaml:"user_agent"`
	StartHeight int32           `yaml:"start_height"`
	FeeOracle   FeeOracleConfig `yaml:"fee_oracle"`
}

// ExchangeConfig configures one Exchange WebSocket session (spec.md
// §4.7/§6).
type ExchangeConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Path     string   `yaml:"path"`
	Channels []string `yaml:"channels"`
}

// MempoolConfig bounds the Mempool Index (spec.md §4.9).
type MempoolConfig struct {
	CapBytes int64 `yaml:"cap_bytes"`
	// RejectIncomingIfLowest selects the default eviction tie-break
	// policy spec.md §8 scenario 6 documents: reject an admitting entry
	// whose fee-rate is the lowest rather than evicting an existing one.
	RejectIncomingIfLowest bool `yaml:"reject_incoming_if_lowest"`
}

// CheckpointConfig points the Checkpointer collaborator hook at an
// optional on-disk store (spec.md §1: "checkpointing is a collaborator
// hook"). An empty Path means no on-disk checkpointing (NoopCheckpointer).
type CheckpointConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the root of the engine's file-driven configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Stratum    StratumConfig    `yaml:"stratum"`
	BTCP2P     BTCP2PConfig     `yaml:"btcp2p"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Mempool    MempoolConfig    `yaml:"mempool"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// Default returns a Config with every module disabled and sane bounds,
// suitable as a starting point before overlaying a file.
func Default() Config {
	return Config{
		LogLevel: "info",
		Stratum: StratumConfig{
			UserAgent: "stratum-engine/1.0",
			Lanes:     0, // 0 => runtime.NumCPU() at engine start
		},
		BTCP2P: BTCP2PConfig{
			UserAgent:   "/stratum-engine:1.0/",
			StartHeight: 0,
		},
		Mempool: MempoolConfig{
			CapBytes:               300 * 1024 * 1024,
			RejectIncomingIfLowest: true,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9191",
		},
	}
}

// Load reads and decodes a YAML config file at path, overlaying it onto
// Default(). A missing file is not an error: the defaults (all modules
// disabled) are returned as-is, letting an operator run the binary with
// no config to inspect flags/exit codes before wiring anything live.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field invariants Load cannot express via struct
// tags alone.
func (c Config) Validate() error {
	if !c.Stratum.Enabled && !c.BTCP2P.Enabled && !c.Exchange.Enabled {
		return fmt.Errorf("config: at least one of stratum/btcp2p/exchange must be enabled")
	}
	if c.Stratum.Enabled && c.Stratum.PoolAddress == "" {
		return fmt.Errorf("config: stratum.pool_address is required when stratum is enabled")
	}
	if c.BTCP2P.Enabled && c.BTCP2P.PeerAddress == "" {
		return fmt.Errorf("config: btcp2p.peer_address is required when btcp2p is enabled")
	}
	if c.Exchange.Enabled && (c.Exchange.Host == "" || c.Exchange.Path == "") {
		return fmt.Errorf("config: exchange.host and exchange.path are required when exchange is enabled")
	}
	if c.Mempool.CapBytes <= 0 {
		return fmt.Errorf("config: mempool.cap_bytes must be positive")
	}
	return nil
}
