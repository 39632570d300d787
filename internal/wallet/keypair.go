package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
)

var ErrInvalidKeypairFile = errors.New("invalid keypair file")

// DefaultKeypairPath is where the Solana CLI keeps its default signer.
func DefaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

// LoadKeypair reads a Solana CLI keypair file: a JSON array of the 64 bytes
// seed || public key.
func LoadKeypair(path string) (ed25519.PrivateKey, solana.Pubkey, error) {
	var pub solana.Pubkey
	if path == "" {
		return nil, pub, errors.New("keypair path required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, pub, err
	}

	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, pub, ErrInvalidKeypairFile
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, pub, ErrInvalidKeypairFile
	}

	key := make([]byte, ed25519.PrivateKeySize)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, pub, ErrInvalidKeypairFile
		}
		key[i] = byte(v)
	}

	// The trailing half must be the key derived from the seed.
	priv := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !priv.Equal(ed25519.PrivateKey(key)) {
		return nil, pub, fmt.Errorf("%w: public key does not match seed", ErrInvalidKeypairFile)
	}
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return priv, pub, nil
}

// GenerateKeypairFile writes a fresh keypair to path with mode 0600. An
// existing file is only replaced when force is set.
func GenerateKeypairFile(path string, force bool) (solana.Pubkey, error) {
	var pub solana.Pubkey
	path = filepath.Clean(path)
	if path == "." || path == "" {
		return pub, errors.New("keypair path required")
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return pub, fmt.Errorf("keypair already exists: %s", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return pub, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return pub, err
	}

	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return pub, err
	}
	copy(pub[:], pk)

	ints := make([]int, 0, ed25519.PrivateKeySize)
	for _, b := range sk {
		ints = append(ints, int(b))
	}
	raw, err := json.Marshal(ints)
	if err != nil {
		return pub, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-keypair-*.json")
	if err != nil {
		return pub, err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return pub, err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return pub, err
	}
	if err := tmp.Close(); err != nil {
		return pub, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return pub, err
	}
	return pub, os.Chmod(path, 0o600)
}
