package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // remote node ID
	Addr string `json:"addr"` // host:port
}

// ValidatorConfig describes one genesis validator entry.
type ValidatorConfig struct {
	PubKey  string `json:"pubkey"`  // hex ed25519 public key
	Name    string `json:"name"`
	Weight  uint64 `json:"weight"`
	Address string `json:"address"` // consensus/replication network address
}

// GenesisConfig describes the chain's initial validator set and timing.
type GenesisConfig struct {
	ChainID         string            `json:"chain_id"`
	Validators      []ValidatorConfig `json:"validators"`
	QuorumThreshold float64           `json:"quorum_threshold"` // fraction of active weight; 0 -> 2/3
	MinValidators   int               `json:"min_validators"`   // 0 -> 1
	MaxValidators   int               `json:"max_validators"`   // 0 -> 100
	BlockTimeMs     int64             `json:"block_time_ms"`    // 0 -> 2000
}

// ConsensusConfig parameterizes the BFT engine's timers (spec §4.4).
type ConsensusConfig struct {
	Enabled               bool          `json:"enabled"` // false -> single-node loopback mode
	LeaderTimeoutMs       int64         `json:"leader_timeout_ms"`
	NotarizationTimeoutMs int64         `json:"notarization_timeout_ms"`
	NullifyRetryMs        int64         `json:"nullify_retry_ms"`
	ViewTimeoutMultiplier float64       `json:"view_timeout_multiplier"`
	MaxLeaderTimeoutMs    int64         `json:"max_leader_timeout_ms"`
}

// CacheConfig parameterizes the tiered object-storage layer (spec §4.8).
type CacheConfig struct {
	HotMaxObjects    int   `json:"hot_max_objects"`
	HotMaxBytes      int64 `json:"hot_max_bytes"`
	CacheMaxObjects  int   `json:"cache_max_objects"`
	CacheMaxBytes    int64 `json:"cache_max_bytes"`
	PromoteThreshold uint32 `json:"promote_threshold"`
}

// MempoolConfig bounds pool capacity and age (spec §4.2).
type MempoolConfig struct {
	MaxTransactions         int `json:"max_transactions"`
	MaxTransactionAgeSec    int `json:"max_transaction_age_sec"`
	MaxTransactionsPerBlock int `json:"max_transactions_per_block"`
}

// Config holds all node configuration.
type Config struct {
	NodeID       string          `json:"node_id"`
	DataDir      string          `json:"data_dir"`
	HTTPPort     int             `json:"http_port"`
	P2PPort      int             `json:"p2p_port"`
	Genesis      GenesisConfig   `json:"genesis"`
	Consensus    ConsensusConfig `json:"consensus"`
	Cache        CacheConfig     `json:"cache"`
	Mempool      MempoolConfig   `json:"mempool"`
	SeedPeers    []SeedPeer      `json:"seed_peers,omitempty"`
	TLS          *TLSConfig      `json:"tls,omitempty"`           // nil -> plain TCP
	RPCAuthToken string          `json:"rpc_auth_token,omitempty"` // empty -> no auth
}

// DefaultConfig returns a single-node development configuration:
// consensus disabled (loopback mode) and an empty genesis validator list,
// which BuildValidatorSet rejects until at least one validator is listed.
func DefaultConfig() *Config {
	return &Config{
		NodeID:   "node0",
		DataDir:  "./data",
		HTTPPort: 8080,
		P2PPort:  30303,
		Genesis: GenesisConfig{
			ChainID:         "guts-dev",
			QuorumThreshold: 2.0 / 3.0,
			MinValidators:   1,
			MaxValidators:   100,
			BlockTimeMs:     2000,
		},
		Consensus: ConsensusConfig{
			Enabled:               false,
			LeaderTimeoutMs:       1000,
			NotarizationTimeoutMs: 2000,
			NullifyRetryMs:        500,
			ViewTimeoutMultiplier: 2.0,
			MaxLeaderTimeoutMs:    30000,
		},
		Cache: CacheConfig{
			HotMaxObjects:    10_000,
			HotMaxBytes:      512 << 20,
			CacheMaxObjects:  10_000,
			CacheMaxBytes:    64 << 20,
			PromoteThreshold: 3,
		},
		Mempool: MempoolConfig{
			MaxTransactions:         10_000,
			MaxTransactionAgeSec:    600,
			MaxTransactionsPerBlock: 1000,
		},
	}
}

// LeaderTimeout returns the configured leader timeout as a duration.
func (c ConsensusConfig) LeaderTimeout() time.Duration {
	return time.Duration(c.LeaderTimeoutMs) * time.Millisecond
}

// NotarizationTimeout returns the configured notarization timeout.
func (c ConsensusConfig) NotarizationTimeout() time.Duration {
	return time.Duration(c.NotarizationTimeoutMs) * time.Millisecond
}

// NullifyRetry returns the configured nullify-retry interval.
func (c ConsensusConfig) NullifyRetry() time.Duration {
	return time.Duration(c.NullifyRetryMs) * time.Millisecond
}

// MaxLeaderTimeout returns the configured leader-timeout cap.
func (c ConsensusConfig) MaxLeaderTimeout() time.Duration {
	return time.Duration(c.MaxLeaderTimeoutMs) * time.Millisecond
}

// MaxTransactionAge returns the mempool's age cutoff as a duration.
func (c MempoolConfig) MaxTransactionAge() time.Duration {
	return time.Duration(c.MaxTransactionAgeSec) * time.Second
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id must not be empty")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be 1-65535, got %d", c.HTTPPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.HTTPPort == c.P2PPort {
		return fmt.Errorf("http_port and p2p_port must not be the same (%d)", c.HTTPPort)
	}
	if c.Consensus.Enabled && len(c.Genesis.Validators) == 0 {
		return fmt.Errorf("genesis.validators must not be empty when consensus is enabled")
	}
	for i, v := range c.Genesis.Validators {
		b, err := hex.DecodeString(v.PubKey)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("genesis.validators[%d]: pubkey must be 64-char hex (32 bytes ed25519), got %q", i, v.PubKey)
		}
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
