package solana

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"
)

const (
	MaxSeeds      = 16
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	ErrInvalidSeeds = errors.New("invalid seeds")
	ErrOnCurve      = errors.New("derived address is on-curve")
	ErrNoViableBump = errors.New("no viable program address found")
)

// FindProgramAddress walks bumps from 255 down and returns the first
// off-curve address. The result only depends on seeds and programID.
func FindProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, uint8, error) {
	if err := validateSeeds(seeds, MaxSeeds-1); err != nil {
		return Pubkey{}, 0, err
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		pda, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return pda, uint8(bump), nil
		}
	}
	return Pubkey{}, 0, ErrNoViableBump
}

func CreateProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, error) {
	if err := validateSeeds(seeds, MaxSeeds); err != nil {
		return Pubkey{}, err
	}

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var out Pubkey
	copy(out[:], h.Sum(nil))
	if isOnCurve(out) {
		return Pubkey{}, ErrOnCurve
	}
	return out, nil
}

func validateSeeds(seeds [][]byte, max int) error {
	if len(seeds) > max {
		return ErrInvalidSeeds
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return ErrInvalidSeeds
		}
	}
	return nil
}

func isOnCurve(pk Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}
