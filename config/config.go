package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"superswap/core/types"
	"superswap/native/settlement"
)

// Config holds the daemon configuration loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`

	LogFilePath   string `toml:"LogFilePath"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`

	OTLPEndpoint string `toml:"OTLPEndpoint"`

	APIKeysFile       string `toml:"APIKeysFile"`
	AdminJWTSecretEnv string `toml:"AdminJWTSecretEnv"`
	IdempotencyDBPath string `toml:"IdempotencyDBPath"`

	Bootstrap Bootstrap `toml:"Bootstrap"`
}

// Bootstrap seeds the settlement module configuration on first start. The
// identities are hex encoded 32 byte values.
type Bootstrap struct {
	Admin          string `toml:"Admin"`
	Collector      string `toml:"Collector"`
	FeeRecipient   string `toml:"FeeRecipient"`
	SourceAsset    string `toml:"SourceAsset"`
	RoutingProgram string `toml:"RoutingProgram"`
	FeeBps         uint32 `toml:"FeeBps"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for obvious mistakes before the
// daemon starts serving.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if c.Bootstrap.FeeBps > settlement.MaxFeeBps {
		return fmt.Errorf("config: Bootstrap.FeeBps %d exceeds maximum %d", c.Bootstrap.FeeBps, settlement.MaxFeeBps)
	}
	for name, value := range map[string]string{
		"Bootstrap.Admin":          c.Bootstrap.Admin,
		"Bootstrap.Collector":      c.Bootstrap.Collector,
		"Bootstrap.FeeRecipient":   c.Bootstrap.FeeRecipient,
		"Bootstrap.SourceAsset":    c.Bootstrap.SourceAsset,
		"Bootstrap.RoutingProgram": c.Bootstrap.RoutingProgram,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := types.ParseIdentity(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// BootstrapParams converts the bootstrap section into the admin identity and
// module init parameters. It returns false when no bootstrap admin is
// configured.
func (c *Config) BootstrapParams() (types.Identity, settlement.InitParams, bool, error) {
	if strings.TrimSpace(c.Bootstrap.Admin) == "" {
		return types.Identity{}, settlement.InitParams{}, false, nil
	}
	parse := func(name, value string) (types.Identity, error) {
		id, err := types.ParseIdentity(value)
		if err != nil {
			return types.Identity{}, fmt.Errorf("config: %s: %w", name, err)
		}
		return id, nil
	}
	admin, err := parse("Bootstrap.Admin", c.Bootstrap.Admin)
	if err != nil {
		return types.Identity{}, settlement.InitParams{}, false, err
	}
	collector, err := parse("Bootstrap.Collector", c.Bootstrap.Collector)
	if err != nil {
		return types.Identity{}, settlement.InitParams{}, false, err
	}
	feeRecipient, err := parse("Bootstrap.FeeRecipient", c.Bootstrap.FeeRecipient)
	if err != nil {
		return types.Identity{}, settlement.InitParams{}, false, err
	}
	sourceAsset, err := parse("Bootstrap.SourceAsset", c.Bootstrap.SourceAsset)
	if err != nil {
		return types.Identity{}, settlement.InitParams{}, false, err
	}
	routingProgram, err := parse("Bootstrap.RoutingProgram", c.Bootstrap.RoutingProgram)
	if err != nil {
		return types.Identity{}, settlement.InitParams{}, false, err
	}
	return admin, settlement.InitParams{
		Collector:        collector,
		RoutingAuthority: routingProgram,
		SourceAsset:      sourceAsset,
		FeeRecipient:     feeRecipient,
		FeeBps:           c.Bootstrap.FeeBps,
	}, true, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./superswap-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.LogMaxSizeMB <= 0 {
		cfg.LogMaxSizeMB = 100
	}
	if cfg.LogMaxBackups <= 0 {
		cfg.LogMaxBackups = 5
	}
	if strings.TrimSpace(cfg.AdminJWTSecretEnv) == "" {
		cfg.AdminJWTSecretEnv = "SUPERSWAP_ADMIN_JWT_SECRET"
	}
	if strings.TrimSpace(cfg.IdempotencyDBPath) == "" {
		cfg.IdempotencyDBPath = filepath.Join(cfg.DataDir, "gateway.db")
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./superswap-data",
		Environment:   "local",
		LogMaxSizeMB:  100,
		LogMaxBackups: 5,
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
