// Package contracts holds the ABI of the RecurringPayments contract and the
// call/result codecs the sweep needs.
package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// RecurringPaymentsABI is the subset of the contract interface the sweep calls.
const RecurringPaymentsABI = `[
  {"type":"function","name":"payInstallment","stateMutability":"nonpayable",
   "inputs":[{"internalType":"uint256","name":"id","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getRecord","stateMutability":"view",
   "inputs":[{"internalType":"uint256","name":"id","type":"uint256"}],
   "outputs":[
     {"internalType":"address","name":"sender","type":"address"},
     {"internalType":"address","name":"receiver","type":"address"},
     {"internalType":"uint256","name":"amount","type":"uint256"},
     {"internalType":"uint256","name":"interval","type":"uint256"},
     {"internalType":"uint256","name":"nextPayment","type":"uint256"},
     {"internalType":"uint256","name":"installmentsPaid","type":"uint256"},
     {"internalType":"uint256","name":"totalInstallments","type":"uint256"},
     {"internalType":"bool","name":"isActive","type":"bool"}]},
  {"type":"function","name":"getAllRecordIds","stateMutability":"view",
   "inputs":[],"outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}]}
]`

const (
	MethodPayInstallment  = "payInstallment"
	MethodGetRecord       = "getRecord"
	MethodGetAllRecordIDs = "getAllRecordIds"
)

// ErrMalformed is returned when call data or return data does not decode.
var ErrMalformed = errors.New("malformed contract data")

var (
	parsedOnce sync.Once
	parsedABI  abi.ABI
	parseErr   error
)

// ABI returns the parsed RecurringPayments ABI.
func ABI() (abi.ABI, error) {
	parsedOnce.Do(func() {
		parsedABI, parseErr = abi.JSON(strings.NewReader(RecurringPaymentsABI))
	})
	return parsedABI, parseErr
}

// RecordData is the decoded getRecord tuple.
type RecordData struct {
	Sender            common.Address
	Receiver          common.Address
	Amount            *big.Int
	Interval          *big.Int
	NextPayment       *big.Int
	InstallmentsPaid  *big.Int
	TotalInstallments *big.Int
	IsActive          bool
}

func PackGetAllRecordIDs() ([]byte, error) {
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}
	return parsed.Pack(MethodGetAllRecordIDs)
}

// UnpackRecordIDs decodes the getAllRecordIds return data. Ids that do not fit
// in uint64 are rejected as malformed.
func UnpackRecordIDs(data []byte) ([]uint64, error) {
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}
	out, err := parsed.Unpack(MethodGetAllRecordIDs, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, MethodGetAllRecordIDs, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s: expected 1 value, got %d", ErrMalformed, MethodGetAllRecordIDs, len(out))
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s: unexpected type %T", ErrMalformed, MethodGetAllRecordIDs, out[0])
	}
	ids := make([]uint64, 0, len(raw))
	for _, id := range raw {
		if !id.IsUint64() {
			return nil, fmt.Errorf("%w: record id %s out of range", ErrMalformed, id)
		}
		ids = append(ids, id.Uint64())
	}
	return ids, nil
}

func PackGetRecord(id uint64) ([]byte, error) {
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}
	return parsed.Pack(MethodGetRecord, new(big.Int).SetUint64(id))
}

func UnpackRecord(data []byte) (RecordData, error) {
	parsed, err := ABI()
	if err != nil {
		return RecordData{}, err
	}
	out, err := parsed.Unpack(MethodGetRecord, data)
	if err != nil {
		return RecordData{}, fmt.Errorf("%w: %s: %v", ErrMalformed, MethodGetRecord, err)
	}
	if len(out) != 8 {
		return RecordData{}, fmt.Errorf("%w: %s: expected 8 values, got %d", ErrMalformed, MethodGetRecord, len(out))
	}

	var rec RecordData
	var ok bool
	if rec.Sender, ok = out[0].(common.Address); !ok {
		return RecordData{}, fmt.Errorf("%w: sender", ErrMalformed)
	}
	if rec.Receiver, ok = out[1].(common.Address); !ok {
		return RecordData{}, fmt.Errorf("%w: receiver", ErrMalformed)
	}
	ints := make([]*big.Int, 5)
	for i := range ints {
		if ints[i], ok = out[2+i].(*big.Int); !ok {
			return RecordData{}, fmt.Errorf("%w: field %d", ErrMalformed, 2+i)
		}
	}
	rec.Amount, rec.Interval, rec.NextPayment = ints[0], ints[1], ints[2]
	rec.InstallmentsPaid, rec.TotalInstallments = ints[3], ints[4]
	if rec.IsActive, ok = out[7].(bool); !ok {
		return RecordData{}, fmt.Errorf("%w: isActive", ErrMalformed)
	}
	return rec, nil
}

func PackPayInstallment(id uint64) ([]byte, error) {
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}
	return parsed.Pack(MethodPayInstallment, new(big.Int).SetUint64(id))
}

// UnpackPayInstallment extracts the record id from payInstallment call data.
func UnpackPayInstallment(calldata []byte) (uint64, error) {
	method, args, err := decodeCall(calldata)
	if err != nil {
		return 0, err
	}
	if method != MethodPayInstallment {
		return 0, fmt.Errorf("%w: expected %s call, got %s", ErrMalformed, MethodPayInstallment, method)
	}
	return uint256Arg(args)
}

// DecodeCall returns the method name of calldata and, for single-id methods, the id.
func DecodeCall(calldata []byte) (string, uint64, error) {
	method, args, err := decodeCall(calldata)
	if err != nil {
		return "", 0, err
	}
	if len(args) == 0 {
		return method, 0, nil
	}
	id, err := uint256Arg(args)
	return method, id, err
}

func decodeCall(calldata []byte) (string, []interface{}, error) {
	parsed, err := ABI()
	if err != nil {
		return "", nil, err
	}
	if len(calldata) < 4 {
		return "", nil, fmt.Errorf("%w: calldata shorter than selector", ErrMalformed)
	}
	method, err := parsed.MethodById(calldata[:4])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	args, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s args: %v", ErrMalformed, method.Name, err)
	}
	return method.Name, args, nil
}

func uint256Arg(args []interface{}) (uint64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: expected 1 argument, got %d", ErrMalformed, len(args))
	}
	id, ok := args[0].(*big.Int)
	if !ok || !id.IsUint64() {
		return 0, fmt.Errorf("%w: id argument", ErrMalformed)
	}
	return id.Uint64(), nil
}

// PackRecordIDsResult encodes a getAllRecordIds return value. Used by fakes
// that stand in for the contract.
func PackRecordIDsResult(ids []uint64) ([]byte, error) {
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}
	vals := make([]*big.Int, len(ids))
	for i, id := range ids {
		vals[i] = new(big.Int).SetUint64(id)
	}
	return parsed.Methods[MethodGetAllRecordIDs].Outputs.Pack(vals)
}

// PackRecordResult encodes a getRecord return value.
func PackRecordResult(rec RecordData) ([]byte, error) {
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}
	return parsed.Methods[MethodGetRecord].Outputs.Pack(
		rec.Sender,
		rec.Receiver,
		orZero(rec.Amount),
		orZero(rec.Interval),
		orZero(rec.NextPayment),
		orZero(rec.InstallmentsPaid),
		orZero(rec.TotalInstallments),
		rec.IsActive,
	)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
