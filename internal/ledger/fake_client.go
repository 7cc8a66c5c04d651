package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"paysweep/internal/contracts"
	"paysweep/internal/report"
)

// FakeLedger is an in-memory RecurringPayments contract. It answers ABI-encoded
// reads and applies payInstallment reports, so callers exercise the real codecs.
type FakeLedger struct {
	Address common.Address

	mu      sync.Mutex
	order   []uint64
	records map[uint64]contracts.RecordData
	writes  []WriteRequest

	// ListErr fails getAllRecordIds; RecordErrs and WriteErrs fail per id.
	ListErr    error
	RecordErrs map[uint64]error
	WriteErrs  map[uint64]error
	// ListData, when set, is returned verbatim for getAllRecordIds.
	ListData []byte
}

func NewFakeLedger(address common.Address) *FakeLedger {
	return &FakeLedger{
		Address:    address,
		records:    make(map[uint64]contracts.RecordData),
		RecordErrs: make(map[uint64]error),
		WriteErrs:  make(map[uint64]error),
	}
}

// Put adds or replaces an agreement. Ids are listed in first-insertion order.
func (f *FakeLedger) Put(id uint64, rec contracts.RecordData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		f.order = append(f.order, id)
	}
	f.records[id] = rec
}

// Record returns the current state of an agreement.
func (f *FakeLedger) Record(id uint64) (contracts.RecordData, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	return rec, ok
}

// Writes returns every accepted or attempted write, in order.
func (f *FakeLedger) Writes() []WriteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WriteRequest, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *FakeLedger) Read(ctx context.Context, call Call) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call.To != f.Address {
		return nil, fmt.Errorf("no contract at %s", call.To.Hex())
	}
	method, id, err := contracts.DecodeCall(call.Data)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch method {
	case contracts.MethodGetAllRecordIDs:
		if f.ListErr != nil {
			return nil, f.ListErr
		}
		if f.ListData != nil {
			return f.ListData, nil
		}
		return contracts.PackRecordIDsResult(f.order)
	case contracts.MethodGetRecord:
		if err := f.RecordErrs[id]; err != nil {
			return nil, err
		}
		rec, ok := f.records[id]
		if !ok {
			return nil, fmt.Errorf("execution reverted: record %d not found", id)
		}
		return contracts.PackRecordResult(rec)
	default:
		return nil, fmt.Errorf("method %s is not a view", method)
	}
}

func (f *FakeLedger) Write(ctx context.Context, req WriteRequest) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if req.Receiver != f.Address {
		return Receipt{}, fmt.Errorf("no contract at %s", req.Receiver.Hex())
	}
	if req.GasLimit == 0 {
		return Receipt{}, fmt.Errorf("gas limit is required")
	}
	if _, err := report.Verify(req.Report); err != nil {
		return Receipt{}, fmt.Errorf("verify report: %w", err)
	}
	id, err := contracts.UnpackPayInstallment(req.Report.Payload)
	if err != nil {
		return Receipt{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes = append(f.writes, req)
	if err := f.WriteErrs[id]; err != nil {
		return Receipt{}, err
	}
	rec, ok := f.records[id]
	if !ok {
		return Receipt{}, fmt.Errorf("execution reverted: record %d not found", id)
	}
	if rec.InstallmentsPaid != nil && rec.TotalInstallments != nil && rec.InstallmentsPaid.Cmp(rec.TotalInstallments) < 0 {
		rec.InstallmentsPaid = new(big.Int).Add(rec.InstallmentsPaid, big.NewInt(1))
		if rec.NextPayment != nil && rec.Interval != nil {
			rec.NextPayment = new(big.Int).Add(rec.NextPayment, rec.Interval)
		}
		f.records[id] = rec
	}

	return Receipt{
		TxHash:      fakeHash(req.Report.Payload, len(f.writes)),
		BlockNumber: uint64(len(f.writes)),
		Confirmed:   true,
	}, nil
}

func (f *FakeLedger) Ping(ctx context.Context) error {
	return ctx.Err()
}

func fakeHash(payload []byte, nonce int) string {
	return crypto.Keccak256Hash(payload, []byte{byte(nonce), byte(nonce >> 8)}).Hex()
}

var _ Ledger = (*FakeLedger)(nil)
var _ HealthChecker = (*FakeLedger)(nil)
