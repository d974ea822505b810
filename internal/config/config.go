package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env      string `mapstructure:"LP_ENV"`
	HTTPAddr string `mapstructure:"LP_HTTP_ADDR"`
	LogLevel string `mapstructure:"LP_LOG_LEVEL"`

	Sui      SuiConfig      `mapstructure:",squash"`
	Registry RegistryConfig `mapstructure:",squash"`
	Walrus   WalrusConfig   `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`

	// ConfirmTimeout bounds every ledger submission wait.
	ConfirmTimeout time.Duration `mapstructure:"LP_CONFIRM_TIMEOUT"`
}

type SuiConfig struct {
	RPCURL         string `mapstructure:"LP_SUI_RPC_URL"`
	Network        string `mapstructure:"LP_SUI_NETWORK"`
	Mnemonic       string `mapstructure:"LP_SUI_MNEMONIC"`
	GasBudget      uint64 `mapstructure:"LP_SUI_GAS_BUDGET"`
	DeploymentPath string `mapstructure:"LP_DEPLOYMENT_PATH"`

	// Loaded from deployment.json
	PackageID string
}

type RegistryConfig struct {
	Backend  string `mapstructure:"LP_REGISTRY_BACKEND"` // "memory", "redis"
	RedisURL string `mapstructure:"LP_REDIS_URL"`
}

// WalrusConfig selects the metadata blob store. An empty publisher URL keeps
// uploads in process memory.
type WalrusConfig struct {
	PublisherURL  string `mapstructure:"LP_WALRUS_PUBLISHER_URL"`
	AggregatorURL string `mapstructure:"LP_WALRUS_AGGREGATOR_URL"`
	Epochs        int    `mapstructure:"LP_WALRUS_EPOCHS"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"LP_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"LP_CORS_ALLOWED_ORIGINS"`
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
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("LP_ENV", "dev")
	v.SetDefault("LP_HTTP_ADDR", ":8080")
	v.SetDefault("LP_LOG_LEVEL", "")
	setSuiDefaults(v)
	v.SetDefault("LP_REGISTRY_BACKEND", "memory")
	v.SetDefault("LP_REDIS_URL", "")
	v.SetDefault("LP_WALRUS_PUBLISHER_URL", "")
	v.SetDefault("LP_WALRUS_AGGREGATOR_URL", "")
	v.SetDefault("LP_WALRUS_EPOCHS", 5)
	v.SetDefault("LP_CONFIRM_TIMEOUT", "60s")
	v.SetDefault("LP_RATE_LIMIT_RPM", 120)
	v.SetDefault("LP_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")

	if origins := v.GetString("LP_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("LP_CORS_ALLOWED_ORIGINS", splitList(origins))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyNetworkDefaults()

	if err := cfg.loadDeployment(); err != nil {
		return nil, fmt.Errorf("failed to load deployment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setSuiDefaults(v *viper.Viper) {
	v.SetDefault("LP_SUI_NETWORK", "localnet")
	v.SetDefault("LP_SUI_RPC_URL", "http://localhost:9000")
	v.SetDefault("LP_SUI_MNEMONIC", "")
	v.SetDefault("LP_SUI_GAS_BUDGET", 0)
	v.SetDefault("LP_DEPLOYMENT_PATH", "")
}

// DeployConfig configures cmd/deploy, which publishes the Move package and
// writes deployment.json.
type DeployConfig struct {
	Sui       SuiConfig `mapstructure:",squash"`
	MovePath  string    `mapstructure:"LP_MOVE_PATH"`
	FaucetURL string    `mapstructure:"LP_SUI_FAUCET_URL"`
}

func LoadDeploy() (*DeployConfig, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()
	setSuiDefaults(v)
	v.SetDefault("LP_MOVE_PATH", "./move")
	v.SetDefault("LP_SUI_FAUCET_URL", "")

	var cfg DeployConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	base := Config{Sui: cfg.Sui}
	base.applyNetworkDefaults()
	cfg.Sui = base.Sui
	if cfg.Sui.DeploymentPath == "" {
		cfg.Sui.DeploymentPath = filepath.Join(cfg.MovePath, "deployment.json")
	}

	if cfg.Sui.Mnemonic == "" {
		return nil, fmt.Errorf("invalid config: LP_SUI_MNEMONIC is required")
	}
	if cfg.MovePath == "" {
		return nil, fmt.Errorf("invalid config: LP_MOVE_PATH is required")
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadDeployment resolves the launchpad package id from deployment.json.
func (c *Config) loadDeployment() error {
	paths := []string{
		"./deployment.json",
		"./move/deployment.json",
		"../move/deployment.json",
	}
	if c.Sui.DeploymentPath != "" {
		paths = []string{c.Sui.DeploymentPath}
	}

	for _, path := range paths {
		d, err := ReadDeployment(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading deployment at %s: %w", path, err)
		}
		if d.LaunchpadPackageId != nil {
			c.Sui.PackageID = d.LaunchpadPackageId.String()
		}
		return nil
	}
	return fmt.Errorf("deployment.json not found in any of the expected locations: %v", paths)
}

func (c *Config) validate() error {
	if c.Sui.RPCURL == "" {
		return fmt.Errorf("LP_SUI_RPC_URL is required")
	}
	switch c.Sui.Network {
	case "localnet", "testnet", "mainnet":
	default:
		return fmt.Errorf("invalid LP_SUI_NETWORK %q (must be localnet, testnet, or mainnet)", c.Sui.Network)
	}
	if c.Sui.Mnemonic == "" {
		return fmt.Errorf("LP_SUI_MNEMONIC is required")
	}
	if c.Sui.PackageID == "" {
		return fmt.Errorf("launchpad_package_id missing from deployment.json")
	}
	switch c.Registry.Backend {
	case "memory":
	case "redis":
		if c.Registry.RedisURL == "" {
			return fmt.Errorf("LP_REDIS_URL is required when LP_REGISTRY_BACKEND is redis")
		}
	default:
		return fmt.Errorf("invalid LP_REGISTRY_BACKEND %q (must be memory or redis)", c.Registry.Backend)
	}
	if c.Walrus.PublisherURL != "" && c.Walrus.AggregatorURL == "" {
		return fmt.Errorf("LP_WALRUS_AGGREGATOR_URL is required with LP_WALRUS_PUBLISHER_URL")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("LP_CONFIRM_TIMEOUT must be positive")
	}
	if c.IsProd() && c.Registry.Backend == "memory" {
		return fmt.Errorf("LP_REGISTRY_BACKEND=memory is not allowed in prod")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// applyNetworkDefaults normalizes the network name and points a local RPC
// default at the public fullnode of the selected network.
func (c *Config) applyNetworkDefaults() {
	net := strings.ToLower(strings.TrimSpace(c.Sui.Network))
	rpc := strings.TrimSpace(c.Sui.RPCURL)

	if net == "" || net == "localnet" {
		net = "localnet"
		if inferred := inferNetworkFromRPC(rpc); inferred != "" {
			net = inferred
		}
	}

	switch net {
	case "testnet", "mainnet":
		if rpc == "" || isLocalEndpoint(rpc) {
			rpc = "https://fullnode." + net + ".sui.io"
		}
	case "localnet":
		if rpc == "" {
			rpc = "http://localhost:9000"
		}
	}

	c.Sui.Network = net
	c.Sui.RPCURL = rpc
}

func inferNetworkFromRPC(endpoint string) string {
	ep := strings.ToLower(endpoint)
	switch {
	case strings.Contains(ep, "testnet"):
		return "testnet"
	case strings.Contains(ep, "mainnet"):
		return "mainnet"
	default:
		return ""
	}
}

func isLocalEndpoint(endpoint string) bool {
	ep := strings.ToLower(endpoint)
	return strings.Contains(ep, "localhost") || strings.Contains(ep, "127.0.0.1") || strings.Contains(ep, "0.0.0.0")
}
