package solana

import (
	"encoding/binary"
	"errors"
)

var (
	SystemProgramID        = MustParsePubkey("11111111111111111111111111111111")
	ComputeBudgetProgramID = MustParsePubkey("ComputeBudget111111111111111111111111111111")
)

const systemTransferIndex = 2

var ErrNotSystemTransfer = errors.New("not a system transfer instruction")

// SystemTransfer moves lamports between two system-owned accounts.
func SystemTransfer(from, to Pubkey, lamports uint64) Instruction {
	var data [12]byte
	binary.LittleEndian.PutUint32(data[0:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsSigner: false, IsWritable: true},
		},
		Data: data[:],
	}
}

// DecodeSystemTransferLamports returns the amount of a system transfer
// instruction's data.
func DecodeSystemTransferLamports(data []byte) (uint64, error) {
	if len(data) != 12 || binary.LittleEndian.Uint32(data[0:4]) != systemTransferIndex {
		return 0, ErrNotSystemTransfer
	}
	return binary.LittleEndian.Uint64(data[4:12]), nil
}

func ComputeBudgetSetComputeUnitLimit(limit uint32) Instruction {
	var data [5]byte
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], limit)
	return Instruction{
		ProgramID: ComputeBudgetProgramID,
		Accounts:  nil,
		Data:      data[:],
	}
}

func ComputeBudgetSetComputeUnitPrice(microLamports uint64) Instruction {
	var data [9]byte
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return Instruction{
		ProgramID: ComputeBudgetProgramID,
		Accounts:  nil,
		Data:      data[:],
	}
}
