package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysweep/internal/contracts"
	"paysweep/internal/report"
)

var contractAddr = common.HexToAddress("0x00000000000000000000000000000000000c0ffe")

func agreement(paid, total int64, active bool) contracts.RecordData {
	return contracts.RecordData{
		Sender:            common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Receiver:          common.HexToAddress("0x00000000000000000000000000000000000000b2"),
		Amount:            big.NewInt(1_000),
		Interval:          big.NewInt(60),
		NextPayment:       big.NewInt(1_000_000),
		InstallmentsPaid:  big.NewInt(paid),
		TotalInstallments: big.NewInt(total),
		IsActive:          active,
	}
}

func signedPay(t *testing.T, id uint64) report.Report {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload, err := contracts.PackPayInstallment(id)
	require.NoError(t, err)
	rep, err := report.NewECDSASigner(key).Sign(context.Background(), payload)
	require.NoError(t, err)
	return rep
}

func TestFakeLedger_Reads(t *testing.T) {
	f := NewFakeLedger(contractAddr)
	f.Put(5, agreement(1, 3, true))
	f.Put(2, agreement(3, 3, false))
	ctx := context.Background()

	data, err := contracts.PackGetAllRecordIDs()
	require.NoError(t, err)
	out, err := f.Read(ctx, Call{To: contractAddr, Data: data})
	require.NoError(t, err)
	ids, err := contracts.UnpackRecordIDs(out)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 2}, ids)

	data, err = contracts.PackGetRecord(2)
	require.NoError(t, err)
	out, err = f.Read(ctx, Call{To: contractAddr, Data: data})
	require.NoError(t, err)
	rec, err := contracts.UnpackRecord(out)
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
	assert.Equal(t, int64(3), rec.InstallmentsPaid.Int64())
}

func TestFakeLedger_ReadErrors(t *testing.T) {
	f := NewFakeLedger(contractAddr)
	f.Put(1, agreement(0, 1, true))
	f.RecordErrs[1] = errors.New("boom")
	ctx := context.Background()

	data, err := contracts.PackGetRecord(1)
	require.NoError(t, err)
	_, err = f.Read(ctx, Call{To: contractAddr, Data: data})
	assert.EqualError(t, err, "boom")

	data, err = contracts.PackGetRecord(99)
	require.NoError(t, err)
	_, err = f.Read(ctx, Call{To: contractAddr, Data: data})
	assert.ErrorContains(t, err, "not found")

	_, err = f.Read(ctx, Call{To: common.Address{}, Data: data})
	assert.ErrorContains(t, err, "no contract")

	pay, err := contracts.PackPayInstallment(1)
	require.NoError(t, err)
	_, err = f.Read(ctx, Call{To: contractAddr, Data: pay})
	assert.ErrorContains(t, err, "not a view")
}

func TestFakeLedger_WriteAppliesInstallment(t *testing.T) {
	f := NewFakeLedger(contractAddr)
	f.Put(1, agreement(0, 2, true))

	receipt, err := f.Write(context.Background(), WriteRequest{
		Receiver: contractAddr,
		Report:   signedPay(t, 1),
		GasLimit: 500_000,
	})
	require.NoError(t, err)
	assert.True(t, receipt.Confirmed)
	assert.Len(t, receipt.TxHash, 66)
	want := crypto.Keccak256Hash(signedPayPayload(t, 1), []byte{1, 0})
	assert.Equal(t, want.Hex(), receipt.TxHash)

	rec, ok := f.Record(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.InstallmentsPaid.Int64())
	assert.Equal(t, int64(1_000_060), rec.NextPayment.Int64())
	assert.Len(t, f.Writes(), 1)
}

func TestFakeLedger_WriteRejectsBadReports(t *testing.T) {
	f := NewFakeLedger(contractAddr)
	f.Put(1, agreement(0, 2, true))
	ctx := context.Background()

	rep := signedPay(t, 1)
	rep.Signature = []byte{0x01}
	_, err := f.Write(ctx, WriteRequest{Receiver: contractAddr, Report: rep, GasLimit: 1})
	assert.ErrorIs(t, err, report.ErrInvalidSignature)

	_, err = f.Write(ctx, WriteRequest{Receiver: contractAddr, Report: signedPay(t, 1)})
	assert.ErrorContains(t, err, "gas limit")

	f.WriteErrs[1] = errors.New("nonce too low")
	_, err = f.Write(ctx, WriteRequest{Receiver: contractAddr, Report: signedPay(t, 1), GasLimit: 1})
	assert.EqualError(t, err, "nonce too low")
	assert.Len(t, f.Writes(), 1)
}

func signedPayPayload(t *testing.T, id uint64) []byte {
	t.Helper()
	payload, err := contracts.PackPayInstallment(id)
	require.NoError(t, err)
	return payload
}
