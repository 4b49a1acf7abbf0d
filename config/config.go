package config

import (
	"os"
	"path/filepath"
	"strings"

	"evergreen/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress        string       `toml:"RPCAddress"`
	DataDir           string       `toml:"DataDir"`
	Environment       string       `toml:"Environment"`
	OwnerAddress      string       `toml:"OwnerAddress"`
	OwnerKeystorePath string       `toml:"OwnerKeystorePath,omitempty"`
	CustodyAddress    string       `toml:"CustodyAddress,omitempty"`
	TokenSymbol       string       `toml:"TokenSymbol"`
	TokenName         string       `toml:"TokenName"`
	TokenDecimals     uint8        `toml:"TokenDecimals"`
	CatalogFile       string       `toml:"CatalogFile,omitempty"`
	FeeBps            uint32       `toml:"FeeBps"`
	MaxCascadeDepth   uint32       `toml:"MaxCascadeDepth"`
	MaxUplineDepth    uint32       `toml:"MaxUplineDepth"`
	Paused            bool         `toml:"Paused"`
	RateLimit         RateLimit    `toml:"RateLimit"`
	Telemetry         Telemetry    `toml:"Telemetry"`
	Log               Log          `toml:"Log"`
	Genesis           []Allocation `toml:"Genesis"`
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

	if strings.TrimSpace(cfg.OwnerAddress) == "" {
		if err := ensureOwnerKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./evergreen-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.TokenSymbol) == "" {
		cfg.TokenSymbol = "USDT"
		if cfg.TokenName == "" {
			cfg.TokenName = "Tether USD"
		}
		if cfg.TokenDecimals == 0 {
			cfg.TokenDecimals = 6
		}
	}
	if cfg.MaxCascadeDepth == 0 {
		cfg.MaxCascadeDepth = 32
	}
	if cfg.MaxUplineDepth == 0 {
		cfg.MaxUplineDepth = 256
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Genesis == nil {
		cfg.Genesis = []Allocation{}
	}
}

// ensureOwnerKeystore fills OwnerAddress from the owner keystore, creating
// the key on first start.
func ensureOwnerKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}
	key, _, err := crypto.LoadOrCreateKeystore(keystorePath, "")
	if err != nil {
		return err
	}
	cfg.OwnerKeystorePath = keystorePath
	cfg.OwnerAddress = key.Address().Hex()
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:        ":8545",
		DataDir:           "./evergreen-data",
		Environment:       "local",
		OwnerAddress:      key.Address().Hex(),
		OwnerKeystorePath: keystorePath,
		TokenSymbol:       "USDT",
		TokenName:         "Tether USD",
		TokenDecimals:     6,
		FeeBps:            1_000,
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

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
