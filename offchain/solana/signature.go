package solana

import (
	"errors"
	"strings"

	"github.com/mr-tron/base58"
)

type Signature [64]byte

var ErrInvalidSignature = errors.New("invalid signature")

func ParseSignature(s string) (Signature, error) {
	var out Signature
	b, err := base58.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != 64 {
		return out, ErrInvalidSignature
	}
	copy(out[:], b)
	return out, nil
}

func (s Signature) Base58() string {
	return base58.Encode(s[:])
}

func (s Signature) String() string { return s.Base58() }

func (s Signature) IsZero() bool { return s == Signature{} }

// Blockhash is the recent-blockhash freshness token carried by a message.
type Blockhash [32]byte

func ParseBlockhash(s string) (Blockhash, error) {
	pk, err := ParseBase58Pubkey(s)
	if err != nil {
		return Blockhash{}, errors.New("invalid blockhash")
	}
	return Blockhash(pk), nil
}

func (h Blockhash) Base58() string { return base58.Encode(h[:]) }

func (h Blockhash) IsZero() bool { return h == Blockhash{} }
