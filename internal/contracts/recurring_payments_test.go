package contracts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackPayInstallment_Selector(t *testing.T) {
	data, err := PackPayInstallment(7)
	require.NoError(t, err)
	require.Len(t, data, 4+32)

	selector := crypto.Keccak256([]byte("payInstallment(uint256)"))[:4]
	assert.Equal(t, selector, data[:4])
	assert.Equal(t, int64(7), new(big.Int).SetBytes(data[4:]).Int64())

	id, err := UnpackPayInstallment(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)
}

func TestUnpackPayInstallment_RejectsOtherMethods(t *testing.T) {
	data, err := PackGetRecord(3)
	require.NoError(t, err)

	_, err = UnpackPayInstallment(data)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = UnpackPayInstallment([]byte{0x01})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeCall(t *testing.T) {
	data, err := PackGetAllRecordIDs()
	require.NoError(t, err)
	method, id, err := DecodeCall(data)
	require.NoError(t, err)
	assert.Equal(t, MethodGetAllRecordIDs, method)
	assert.Zero(t, id)

	data, err = PackGetRecord(42)
	require.NoError(t, err)
	method, id, err = DecodeCall(data)
	require.NoError(t, err)
	assert.Equal(t, MethodGetRecord, method)
	assert.Equal(t, uint64(42), id)

	_, _, err = DecodeCall([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRecordIDsResult(t *testing.T) {
	data, err := PackRecordIDsResult([]uint64{1, 2, 3})
	require.NoError(t, err)

	ids, err := UnpackRecordIDs(data)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	data, err = PackRecordIDsResult(nil)
	require.NoError(t, err)
	ids, err = UnpackRecordIDs(data)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUnpackRecordIDs_Malformed(t *testing.T) {
	_, err := UnpackRecordIDs([]byte{0x00, 0x01})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnpackRecordIDs_OutOfRange(t *testing.T) {
	parsed, err := ABI()
	require.NoError(t, err)
	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	data, err := parsed.Methods[MethodGetAllRecordIDs].Outputs.Pack([]*big.Int{huge})
	require.NoError(t, err)

	_, err = UnpackRecordIDs(data)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRecordResult(t *testing.T) {
	in := RecordData{
		Sender:            common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Receiver:          common.HexToAddress("0x247004302ad03c945aa0497ac7557e355ebbd313"),
		Amount:            big.NewInt(9_990_000),
		Interval:          big.NewInt(2_592_000),
		NextPayment:       big.NewInt(1_760_000_000),
		InstallmentsPaid:  big.NewInt(3),
		TotalInstallments: big.NewInt(12),
		IsActive:          true,
	}
	data, err := PackRecordResult(in)
	require.NoError(t, err)

	out, err := UnpackRecord(data)
	require.NoError(t, err)
	assert.Equal(t, in.Sender, out.Sender)
	assert.Equal(t, in.Receiver, out.Receiver)
	assert.Equal(t, 0, in.Amount.Cmp(out.Amount))
	assert.Equal(t, 0, in.InstallmentsPaid.Cmp(out.InstallmentsPaid))
	assert.Equal(t, 0, in.TotalInstallments.Cmp(out.TotalInstallments))
	assert.True(t, out.IsActive)
}

func TestUnpackRecord_Truncated(t *testing.T) {
	data, err := PackRecordResult(RecordData{IsActive: true})
	require.NoError(t, err)

	_, err = UnpackRecord(data[:64])
	assert.ErrorIs(t, err, ErrMalformed)
}
