package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

var ErrNetworkNotFound = errors.New("network not found")

const registrySchemaVersion = 1

// Registry lists the networks a d2d program is deployed on.
type Registry struct {
	SchemaVersion int       `toml:"schema_version"`
	Networks      []Network `toml:"networks"`
}

type Network struct {
	Name      string `toml:"name"`
	Cluster   string `toml:"cluster,omitempty"`
	RPCURL    string `toml:"rpc_url,omitempty"`
	APIURL    string `toml:"api_url"`
	ProgramID string `toml:"program_id"`
	Keypair   string `toml:"keypair,omitempty"`
}

func LoadRegistry(path string) (Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Registry{}, errors.New("path required")
	}
	var out Registry
	md, err := toml.DecodeFile(path, &out)
	if err != nil {
		return Registry{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Registry{}, fmt.Errorf("parse %s: unknown key %s", path, undecoded[0])
	}
	if out.SchemaVersion > registrySchemaVersion {
		return Registry{}, fmt.Errorf("parse %s: unsupported schema_version %d", path, out.SchemaVersion)
	}
	return out, nil
}

func WriteRegistry(path string, r Registry) error {
	if r.SchemaVersion == 0 {
		r.SchemaVersion = registrySchemaVersion
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(r)
}

func (r Registry) FindByName(name string) (Network, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Network{}, errors.New("name required")
	}
	for _, n := range r.Networks {
		if n.Name == name {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("%w: %s", ErrNetworkNotFound, name)
}
