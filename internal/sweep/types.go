package sweep

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	// ErrConfiguration aborts a run before any ledger call.
	ErrConfiguration = errors.New("configuration error")
	// ErrRead marks a failed or undecodable read-only call.
	ErrRead = errors.New("read error")
	// ErrSubmission marks a signing or write-path failure for one record.
	ErrSubmission = errors.New("submission error")
)

// Record is one recurring-payment agreement as stored on the ledger.
type Record struct {
	ID                uint64
	Sender            string
	Receiver          string
	Amount            *big.Int
	Interval          uint64
	NextPayment       uint64
	InstallmentsPaid  *big.Int
	TotalInstallments *big.Int
	IsActive          bool
}

// TimesRemaining is TotalInstallments minus InstallmentsPaid. It can be
// negative if the ledger ever breaks its own paid <= total invariant.
func (r Record) TimesRemaining() *big.Int {
	return new(big.Int).Sub(bigOrZero(r.TotalInstallments), bigOrZero(r.InstallmentsPaid))
}

// Outcome reasons.
const (
	ReasonExecuted     = "executed"
	ReasonInstallments = "installments_remaining"
	ReasonCompleted    = "installments_completed"
	ReasonInactive     = "inactive"
	ReasonReadFailed   = "read_failed"
	ReasonSignFailed   = "sign_failed"
	ReasonSubmitFailed = "submit_failed"
)

type Outcome struct {
	ID       uint64 `json:"id"`
	Executed bool   `json:"executed"`
	Reason   string `json:"reason,omitempty"`
	TxHash   string `json:"txHash,omitempty"`
}

// Result summarizes one sweep. Outcomes has one entry per record id, in the
// order the ledger returned them.
type Result struct {
	RunID            string    `json:"runId"`
	Chain            string    `json:"chain,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
	ProcessedRecords int       `json:"processedRecords"`
	ExecutedPayments int       `json:"executedPayments"`
	Outcomes         []Outcome `json:"perRecordOutcome"`
}

func (r *Result) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.Executed {
		r.ExecutedPayments++
	}
}

// Policy decides whether a record gets an installment submitted this run.
type Policy string

const (
	// PolicyCompleted submits only for active records whose installment count
	// has reached the total (timesRemaining == 0).
	PolicyCompleted Policy = "completed"
	// PolicyDue submits for active records with installments still owed.
	PolicyDue Policy = "due"
	// PolicyContract submits every record and leaves enforcement to the contract.
	PolicyContract Policy = "contract"
)

func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicyCompleted, nil
	case PolicyCompleted, PolicyDue, PolicyContract:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown eligibility policy %q", ErrConfiguration, raw)
	}
}

// Eligible reports whether rec should be executed and, if not, why.
func (p Policy) Eligible(rec Record) (bool, string) {
	switch p {
	case PolicyContract:
		return true, ""
	case PolicyDue:
		if rec.TimesRemaining().Sign() <= 0 {
			return false, ReasonCompleted
		}
	default:
		if rec.TimesRemaining().Sign() > 0 {
			return false, ReasonInstallments
		}
	}
	if !rec.IsActive {
		return false, ReasonInactive
	}
	return true, ""
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
