package pools

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
)

// TreasuryPoolLen is discriminator(8) + admin(32) + reward_per_share(16) +
// 4 x u64 balances + 3 bumps.
const TreasuryPoolLen = 8 + 32 + 16 + 8*4 + 3

var ErrInvalidTreasuryPool = errors.New("invalid treasury pool account")

var treasuryPoolDiscriminator = accountDiscriminator("TreasuryPool")

type TreasuryPool struct {
	Admin solana.Pubkey

	// RewardPerShare is a u128 fixed-point accumulator.
	RewardPerShare *big.Int

	TotalDeposited      uint64
	LiquidBalance       uint64
	RewardPoolBalance   uint64
	PlatformPoolBalance uint64

	TreasuryBump     uint8
	RewardPoolBump   uint8
	PlatformPoolBump uint8
}

func DecodeTreasuryPool(data []byte) (TreasuryPool, error) {
	var out TreasuryPool
	if len(data) < TreasuryPoolLen {
		return out, ErrInvalidTreasuryPool
	}
	if !bytes.Equal(data[0:8], treasuryPoolDiscriminator[:]) {
		return out, ErrInvalidTreasuryPool
	}

	copy(out.Admin[:], data[8:40])
	out.RewardPerShare = decodeU128(data[40:56])
	out.TotalDeposited = binary.LittleEndian.Uint64(data[56:64])
	out.LiquidBalance = binary.LittleEndian.Uint64(data[64:72])
	out.RewardPoolBalance = binary.LittleEndian.Uint64(data[72:80])
	out.PlatformPoolBalance = binary.LittleEndian.Uint64(data[80:88])
	out.TreasuryBump = data[88]
	out.RewardPoolBump = data[89]
	out.PlatformPoolBump = data[90]
	return out, nil
}

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

func decodeU128(le []byte) *big.Int {
	be := make([]byte, len(le))
	for i := range le {
		be[len(le)-1-i] = le[i]
	}
	return new(big.Int).SetBytes(be)
}
