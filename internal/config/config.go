// Package config resolves the network, endpoints, program id and keypair for
// a run from the TOML registry, an optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solanarpc"
)

const (
	EnvNetwork   = "D2D_NETWORK"
	EnvRPCURL    = "D2D_RPC_URL"
	EnvSolanaRPC = "SOLANA_RPC_URL"
	EnvAPIURL    = "D2D_API_URL"
	EnvProgramID = "D2D_PROGRAM_ID"
	EnvKeypair   = "D2D_KEYPAIR"
	EnvConfig    = "D2D_CONFIG"

	DefaultNetwork = "devnet"
)

var (
	ErrMissingAPIURL    = errors.New("missing backend url: set api_url or " + EnvAPIURL)
	ErrMissingProgramID = errors.New("missing program id: set program_id or " + EnvProgramID)
)

type Config struct {
	Network   string
	Cluster   string
	RPCURL    string
	APIURL    string
	ProgramID solana.Pubkey
	Keypair   string
}

type LoadOptions struct {
	// RegistryPath defaults to $D2D_CONFIG, then <config dir>/d2d/networks.toml
	// when that file exists.
	RegistryPath string
	// Network selects a registry entry; defaults to $D2D_NETWORK, then devnet.
	Network string
	// EnvFile is loaded before the environment is read. A missing default
	// ".env" is not an error.
	EnvFile string
}

func DefaultRegistryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "d2d", "networks.toml")
}

// Load resolves a Config. Environment variables override the registry entry.
func Load(opts LoadOptions) (Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return Config{}, err
	}

	name := firstNonEmpty(opts.Network, os.Getenv(EnvNetwork), DefaultNetwork)
	cfg := Config{Network: name}

	path, explicit := registryPath(opts.RegistryPath)
	if path != "" {
		reg, err := LoadRegistry(path)
		switch {
		case err == nil:
			if err := cfg.applyRegistry(reg, explicit); err != nil {
				return Config{}, err
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, err
		}
	}

	if v := firstNonEmpty(os.Getenv(EnvRPCURL), os.Getenv(EnvSolanaRPC)); v != "" {
		cfg.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvKeypair)); v != "" {
		cfg.Keypair = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvProgramID)); v != "" {
		pk, err := solana.ParsePubkey(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvProgramID, err)
		}
		cfg.ProgramID = pk
	}

	if cfg.Cluster == "" {
		cfg.Cluster = clusterFor(name)
	}
	if cfg.RPCURL == "" {
		u, err := solanarpc.ClusterURL(cfg.Cluster)
		if err != nil {
			return Config{}, fmt.Errorf("network %s: %w", name, err)
		}
		cfg.RPCURL = u
	}
	return cfg, nil
}

// applyRegistry copies the selected network's entry. A network missing from
// the default registry is not an error; the environment may supply it.
func (c *Config) applyRegistry(reg Registry, explicit bool) error {
	n, err := reg.FindByName(c.Network)
	if err != nil {
		if explicit {
			return err
		}
		return nil
	}
	c.Cluster = n.Cluster
	c.RPCURL = n.RPCURL
	c.APIURL = n.APIURL
	c.Keypair = n.Keypair
	if n.ProgramID != "" {
		pk, err := solana.ParsePubkey(n.ProgramID)
		if err != nil {
			return fmt.Errorf("network %s: program_id: %w", c.Network, err)
		}
		c.ProgramID = pk
	}
	return nil
}

// RequireBackend checks the fields every backend call needs.
func (c Config) RequireBackend() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return ErrMissingAPIURL
	}
	return nil
}

// RequireProgram checks the fields payment building needs.
func (c Config) RequireProgram() error {
	if c.ProgramID.IsZero() {
		return ErrMissingProgramID
	}
	return nil
}

func loadEnvFile(path string) error {
	if strings.TrimSpace(path) != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func registryPath(flag string) (string, bool) {
	if p := strings.TrimSpace(flag); p != "" {
		return p, true
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfig)); p != "" {
		return p, true
	}
	return DefaultRegistryPath(), false
}

func clusterFor(network string) string {
	switch strings.ToLower(network) {
	case "mainnet", "mainnet-beta":
		return solanarpc.ClusterMainnet
	case "testnet":
		return solanarpc.ClusterTestnet
	default:
		return solanarpc.ClusterDevnet
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
