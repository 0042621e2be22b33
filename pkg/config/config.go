// Package config loads node configuration from YAML with environment
// variable overrides, following the `${VAR_NAME:-default}` substitution
// convention used throughout this codebase's deployment tooling.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be expressed as a string like
// "250ms" or "2s" in YAML instead of a raw integer of nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// HashAlgo names a digest for domain-separated hashing. Validate accepts
// blake3 and sha256, but no component reads this setting, so it does
// not change which digest is used.
type HashAlgo string

const (
	HashAlgoBlake3  HashAlgo = "blake3"
	HashAlgoSHA256  HashAlgo = "sha256"
)

// Network tags the validator set this node participates in. Validate
// checks that it names a known network; no other component reads it,
// so it has no behavioral effect.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// KeySettings locates the validator's signing material on disk.
type KeySettings struct {
	BLSKeyPath string `yaml:"bls_key_path"`
}

// IBFTSettings holds the consensus timing and validator-set parameters.
type IBFTSettings struct {
	// BaseRoundTimeout is T_0: the round-change timer at round 0.
	// Doubles on every subsequent view-change (T_r = T_0 * 2^r).
	BaseRoundTimeout Duration `yaml:"base_round_timeout"`
	// MaxRoundTimeout must be at least BaseRoundTimeout (Validate
	// checks this). RoundTimer does not read it, so it does not cap
	// the exponential backoff.
	MaxRoundTimeout Duration `yaml:"max_round_timeout"`
	// CheckpointInterval is the number of finalized heights between
	// checkpoint artifacts (header hash plus commit certificate)
	// written to nodestate and the ZJL log; zero disables them.
	CheckpointInterval uint64 `yaml:"checkpoint_interval"`
}

// MempoolSettings bounds the auction mempool's memory footprint and the
// per-window sealing behavior.
type MempoolSettings struct {
	MaxPendingTransactions int      `yaml:"max_pending_transactions"`
	MaxWinnersPerWindow    int      `yaml:"max_winners_per_window"`
	WindowDuration         Duration `yaml:"window_duration"`
	MaxGasPerWindow        uint64   `yaml:"max_gas_per_window"`
}

// ZJLSettings configures the audit engine's on-disk file behavior.
type ZJLSettings struct {
	DataDir           string   `yaml:"data_dir"`
	ZstdLevel         int      `yaml:"zstd_level"`
	RetentionDays     int      `yaml:"retention_days"`
	EnableSignatures  bool     `yaml:"enable_signatures"`
	EnableMerkleProof bool     `yaml:"enable_merkle_proofs"`
	RotationInterval  Duration `yaml:"rotation_interval"`
	MaxSegmentBytes   uint64   `yaml:"max_segment_bytes"`
}

// NodeStateSettings locates the embedded KV store backing crash-consistent
// chain and consensus state.
type NodeStateSettings struct {
	DataDir string `yaml:"data_dir"`
	Backend string `yaml:"backend"`
}

// MetricsSettings configures the Prometheus exposition endpoint.
type MetricsSettings struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level node configuration.
type Config struct {
	Network   Network           `yaml:"network"`
	HashAlgo  HashAlgo          `yaml:"hash_algo"`
	Keys      KeySettings       `yaml:"keys"`
	IBFT      IBFTSettings      `yaml:"ibft"`
	Mempool   MempoolSettings   `yaml:"mempool"`
	ZJL       ZJLSettings       `yaml:"zjl"`
	NodeState NodeStateSettings `yaml:"nodestate"`
	Metrics   MetricsSettings   `yaml:"metrics"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} or ${VAR_NAME:-default} tokens
// in raw config bytes with the environment value, or the default if the
// variable is unset.
func substituteEnvVars(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := envVarPattern.FindSubmatch(match)
		name := string(groups[1])
		def := string(groups[3])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return []byte(def)
	})
}

// Load reads a YAML config file from path, performing ${VAR:-default}
// environment substitution before unmarshaling, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	raw = substituteEnvVars(raw)

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets a small set of operational knobs be flipped
// without editing the YAML file, for container/orchestration rollouts.
func (c *Config) applyEnvOverrides() {
	c.ZJL.ZstdLevel = getEnvInt("ZJL_ZSTD_LEVEL", c.ZJL.ZstdLevel)
	c.ZJL.EnableSignatures = getEnvBool("ZJL_ENABLE_SIGNATURES", c.ZJL.EnableSignatures)
	c.Mempool.MaxPendingTransactions = getEnvInt("MEMPOOL_MAX_PENDING", c.Mempool.MaxPendingTransactions)
}

// DefaultConfig returns a config populated with the spec's reference
// defaults, suitable as the base that Load unmarshals over.
func DefaultConfig() *Config {
	return &Config{
		Network:  NetworkTestnet,
		HashAlgo: HashAlgoBlake3,
		Keys: KeySettings{
			BLSKeyPath: "./data/validator.bls.key",
		},
		IBFT: IBFTSettings{
			BaseRoundTimeout:   Duration{2 * time.Second},
			MaxRoundTimeout:    Duration{2 * time.Minute},
			CheckpointInterval: 100,
		},
		Mempool: MempoolSettings{
			MaxPendingTransactions: 50000,
			MaxWinnersPerWindow:    2000,
			WindowDuration:         Duration{400 * time.Millisecond},
			MaxGasPerWindow:        30_000_000,
		},
		ZJL: ZJLSettings{
			DataDir:           "./data/zjl",
			ZstdLevel:         6,
			RetentionDays:     3650,
			EnableSignatures:  true,
			EnableMerkleProof: true,
			RotationInterval:  Duration{24 * time.Hour},
			MaxSegmentBytes:   256 << 20,
		},
		NodeState: NodeStateSettings{
			DataDir: "./data/nodestate",
			Backend: "goleveldb",
		},
		Metrics: MetricsSettings{
			ListenAddr: ":9464",
		},
	}
}

// Validate rejects configurations that would cause undefined behavior
// further down the stack (consensus, mempool, ZJL) instead of failing
// opaquely inside those packages.
func (c *Config) Validate() error {
	switch c.HashAlgo {
	case HashAlgoBlake3, HashAlgoSHA256:
	default:
		return fmt.Errorf("config: unknown hash_algo %q", c.HashAlgo)
	}
	switch c.Network {
	case NetworkMainnet, NetworkTestnet:
	default:
		return fmt.Errorf("config: unknown network %q", c.Network)
	}
	if c.IBFT.BaseRoundTimeout.Duration <= 0 {
		return fmt.Errorf("config: ibft.base_round_timeout must be positive")
	}
	if c.IBFT.MaxRoundTimeout.Duration < c.IBFT.BaseRoundTimeout.Duration {
		return fmt.Errorf("config: ibft.max_round_timeout must be >= base_round_timeout")
	}
	if c.Mempool.MaxPendingTransactions <= 0 {
		return fmt.Errorf("config: mempool.max_pending_transactions must be positive")
	}
	if c.Mempool.MaxWinnersPerWindow <= 0 {
		return fmt.Errorf("config: mempool.max_winners_per_window must be positive")
	}
	if c.ZJL.ZstdLevel < 1 || c.ZJL.ZstdLevel > 22 {
		return fmt.Errorf("config: zjl.zstd_level must be in [1,22]")
	}
	return nil
}

// getEnvInt reads an integer environment variable, falling back to def
// if unset or unparsable. Kept for callers that need a single override
// outside the YAML file (e.g. container orchestration probes).
func getEnvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getEnvBool reads a boolean environment variable, falling back to def
// if unset or unparsable.
func getEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
