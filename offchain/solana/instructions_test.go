package solana

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSystemTransfer_Layout(t *testing.T) {
	from := Pubkey{0x01}
	to := Pubkey{0x02}

	ix := SystemTransfer(from, to, 35_000_000)
	require.Equal(t, SystemProgramID, ix.ProgramID)
	require.Len(t, ix.Accounts, 2)
	require.Equal(t, AccountMeta{Pubkey: from, IsSigner: true, IsWritable: true}, ix.Accounts[0])
	require.Equal(t, AccountMeta{Pubkey: to, IsSigner: false, IsWritable: true}, ix.Accounts[1])
	require.Len(t, ix.Data, 12)
	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(ix.Data[0:4]))

	lamports, err := DecodeSystemTransferLamports(ix.Data)
	require.NoError(t, err)
	require.Equal(t, uint64(35_000_000), lamports)
}

func TestDecodeSystemTransferLamports_RejectsOtherData(t *testing.T) {
	_, err := DecodeSystemTransferLamports([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrNotSystemTransfer)

	ix := ComputeBudgetSetComputeUnitPrice(10)
	_, err = DecodeSystemTransferLamports(ix.Data)
	require.ErrorIs(t, err, ErrNotSystemTransfer)
}

func TestComputeBudgetInstructions(t *testing.T) {
	limit := ComputeBudgetSetComputeUnitLimit(200_000)
	require.Equal(t, byte(2), limit.Data[0])
	require.Equal(t, uint32(200_000), binary.LittleEndian.Uint32(limit.Data[1:]))

	price := ComputeBudgetSetComputeUnitPrice(5_000)
	require.Equal(t, byte(3), price.Data[0])
	require.Equal(t, uint64(5_000), binary.LittleEndian.Uint64(price.Data[1:]))
}
