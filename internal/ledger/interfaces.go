package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"paysweep/internal/report"
)

// Ledger abstracts the on-chain RecurringPayments interaction: read-only calls
// and signed-report submission.
type Ledger interface {
	Read(ctx context.Context, call Call) ([]byte, error)
	Write(ctx context.Context, req WriteRequest) (Receipt, error)
}

// HealthChecker is implemented by ledgers backed by a remote node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Call is a read-only contract call evaluated at the last finalized block.
type Call struct {
	To   common.Address
	Data []byte
}

type WriteRequest struct {
	Receiver common.Address
	Report   report.Report
	GasLimit uint64
}

type Receipt struct {
	TxHash      string
	BlockNumber uint64
	// Confirmed is false when the transaction was broadcast but not waited on.
	Confirmed bool
}
