// Package pools derives the d2d program's pool addresses and decodes the
// treasury account. The on-chain accounting itself lives in the program.
package pools

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
)

const (
	SeedTreasuryPool = "treasury_pool"
	SeedRewardPool   = "reward_pool"
	SeedPlatformPool = "platform_pool"
)

var ErrInvalidSeed = errors.New("invalid seed")

// Addresses are the program-owned accounts the payment transfers target.
type Addresses struct {
	ProgramID    solana.Pubkey
	TreasuryPool solana.Pubkey
	RewardPool   solana.Pubkey
	PlatformPool solana.Pubkey
}

// Derive maps (programID, seed) to its program-derived address.
func Derive(programID solana.Pubkey, seed string) (solana.Pubkey, error) {
	if seed == "" || len(seed) > solana.MaxSeedLength || strings.TrimSpace(seed) != seed {
		return solana.Pubkey{}, fmt.Errorf("%w: %q", ErrInvalidSeed, seed)
	}
	pda, _, err := solana.FindProgramAddress([][]byte{[]byte(seed)}, programID)
	if err != nil {
		return solana.Pubkey{}, fmt.Errorf("derive %s: %w", seed, err)
	}
	return pda, nil
}

var cache sync.Map // solana.Pubkey -> Addresses

// For returns the pool addresses of programID. Results are memoized; the
// derivation is pure so cached and fresh values are always equal.
func For(programID solana.Pubkey) (Addresses, error) {
	if v, ok := cache.Load(programID); ok {
		return v.(Addresses), nil
	}
	out := Addresses{ProgramID: programID}
	var err error
	if out.TreasuryPool, err = Derive(programID, SeedTreasuryPool); err != nil {
		return Addresses{}, err
	}
	if out.RewardPool, err = Derive(programID, SeedRewardPool); err != nil {
		return Addresses{}, err
	}
	if out.PlatformPool, err = Derive(programID, SeedPlatformPool); err != nil {
		return Addresses{}, err
	}
	cache.Store(programID, out)
	return out, nil
}
