package solana

import (
	"errors"
	"fmt"
)

type ParsedInstruction struct {
	ProgramID Pubkey
	Accounts  []uint8
	Data      []byte
}

type ParsedLegacyTransaction struct {
	Signatures      []Signature
	Header          MessageHeader
	AccountKeys     []Pubkey
	RecentBlockhash Blockhash
	Instructions    []ParsedInstruction
}

// Transfer is a decoded system transfer.
type Transfer struct {
	From     Pubkey
	To       Pubkey
	Lamports uint64
}

func (p ParsedLegacyTransaction) FeePayer() Pubkey {
	if len(p.AccountKeys) == 0 {
		return Pubkey{}
	}
	return p.AccountKeys[0]
}

// Transfers returns every system transfer in instruction order. Other
// instructions are skipped.
func (p ParsedLegacyTransaction) Transfers() []Transfer {
	var out []Transfer
	for _, ix := range p.Instructions {
		if ix.ProgramID != SystemProgramID || len(ix.Accounts) < 2 {
			continue
		}
		lamports, err := DecodeSystemTransferLamports(ix.Data)
		if err != nil {
			continue
		}
		out = append(out, Transfer{
			From:     p.AccountKeys[ix.Accounts[0]],
			To:       p.AccountKeys[ix.Accounts[1]],
			Lamports: lamports,
		})
	}
	return out
}

func ParseLegacyTransaction(tx []byte) (ParsedLegacyTransaction, error) {
	var out ParsedLegacyTransaction
	if len(tx) == 0 {
		return out, errors.New("empty tx")
	}

	off := 0
	sigCount, newOff, err := decodeShortVecLenAt(tx, off)
	if err != nil {
		return out, fmt.Errorf("decode signature count: %w", err)
	}
	off = newOff
	if off+sigCount*64 > len(tx) {
		return out, errors.New("invalid signature section")
	}
	out.Signatures = make([]Signature, sigCount)
	for i := range out.Signatures {
		copy(out.Signatures[i][:], tx[off:off+64])
		off += 64
	}

	if off+3 > len(tx) {
		return out, errors.New("message header truncated")
	}
	out.Header = MessageHeader{
		NumRequiredSignatures:       tx[off],
		NumReadonlySignedAccounts:   tx[off+1],
		NumReadonlyUnsignedAccounts: tx[off+2],
	}
	off += 3
	if int(out.Header.NumRequiredSignatures) != sigCount {
		return out, ErrSignatureCount
	}

	nKeys, newOff, err := decodeShortVecLenAt(tx, off)
	if err != nil {
		return out, fmt.Errorf("decode account keys count: %w", err)
	}
	off = newOff
	if off+(nKeys*32) > len(tx) {
		return out, errors.New("account keys truncated")
	}
	out.AccountKeys = make([]Pubkey, 0, nKeys)
	for i := 0; i < nKeys; i++ {
		var pk Pubkey
		copy(pk[:], tx[off:off+32])
		out.AccountKeys = append(out.AccountKeys, pk)
		off += 32
	}

	if off+32 > len(tx) {
		return out, errors.New("recent blockhash truncated")
	}
	copy(out.RecentBlockhash[:], tx[off:off+32])
	off += 32

	nIxs, newOff, err := decodeShortVecLenAt(tx, off)
	if err != nil {
		return out, fmt.Errorf("decode instruction count: %w", err)
	}
	off = newOff

	out.Instructions = make([]ParsedInstruction, 0, nIxs)
	for i := 0; i < nIxs; i++ {
		if off >= len(tx) {
			return out, errors.New("instruction truncated")
		}
		pidIndex := int(tx[off])
		off++
		if pidIndex >= len(out.AccountKeys) {
			return out, errors.New("invalid program id index")
		}

		acctCount, newOff, err := decodeShortVecLenAt(tx, off)
		if err != nil {
			return out, fmt.Errorf("decode instruction accounts count: %w", err)
		}
		off = newOff
		if off+acctCount > len(tx) {
			return out, errors.New("instruction accounts truncated")
		}
		accounts := make([]uint8, acctCount)
		copy(accounts, tx[off:off+acctCount])
		off += acctCount
		for _, a := range accounts {
			if int(a) >= len(out.AccountKeys) {
				return out, errors.New("invalid account index")
			}
		}

		dataLen, newOff, err := decodeShortVecLenAt(tx, off)
		if err != nil {
			return out, fmt.Errorf("decode instruction data len: %w", err)
		}
		off = newOff
		if off+dataLen > len(tx) {
			return out, errors.New("instruction data truncated")
		}
		data := make([]byte, dataLen)
		copy(data, tx[off:off+dataLen])
		off += dataLen

		out.Instructions = append(out.Instructions, ParsedInstruction{
			ProgramID: out.AccountKeys[pidIndex],
			Accounts:  accounts,
			Data:      data,
		})
	}
	if off != len(tx) {
		return out, errors.New("trailing bytes after message")
	}

	return out, nil
}
