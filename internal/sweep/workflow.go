// Package sweep scans the RecurringPayments contract and submits signed
// payInstallment reports for eligible agreements.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"paysweep/internal/config"
	"paysweep/internal/contracts"
	"paysweep/internal/ledger"
	"paysweep/internal/network"
	"paysweep/internal/report"
)

// amountDecimals renders wei amounts in whole token units for the trace.
const amountDecimals = 18

// Workflow is one sweep definition. It keeps no state between runs.
type Workflow struct {
	evms     []config.EVMConfig
	policy   Policy
	ledger   ledger.Ledger
	signer   report.Signer
	registry *network.Registry
	log      logrus.FieldLogger
	now      func() time.Time
	newRunID func() string
}

// Option customizes a Workflow built by NewWorkflow.
type Option func(*Workflow)

// WithRegistry replaces the default chain registry used to resolve chainName.
func WithRegistry(r *network.Registry) Option {
	return func(w *Workflow) { w.registry = r }
}

// WithClock sets the time source for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithRunIDs sets the run id generator; the default is a random UUID.
func WithRunIDs(next func() string) Option {
	return func(w *Workflow) { w.newRunID = next }
}

func NewWorkflow(wf config.WorkflowConfig, policy Policy, l ledger.Ledger, s report.Signer, log logrus.FieldLogger, opts ...Option) *Workflow {
	w := &Workflow{
		evms:     wf.EVMs,
		policy:   policy,
		ledger:   l,
		signer:   s,
		registry: network.Default,
		log:      log,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.policy == "" {
		w.policy = PolicyCompleted
	}
	return w
}

// Target is the resolved chain context of a run.
type Target struct {
	Network  network.Network
	Contract common.Address
	GasLimit uint64
}

// Resolve validates the first EVM entry against the network registry.
func (w *Workflow) Resolve() (Target, error) {
	if len(w.evms) == 0 {
		return Target{}, fmt.Errorf("%w: no evm configured", ErrConfiguration)
	}
	evm := w.evms[0]

	n, err := w.registry.Lookup(evm.ChainName)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if !common.IsHexAddress(evm.RecurringPaymentsAddress) {
		return Target{}, fmt.Errorf("%w: invalid contract address %q", ErrConfiguration, evm.RecurringPaymentsAddress)
	}
	gas, err := evm.GasLimitValue()
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return Target{
		Network:  n,
		Contract: common.HexToAddress(evm.RecurringPaymentsAddress),
		GasLimit: gas,
	}, nil
}

// Run performs one sweep. Only configuration and id-list failures are returned;
// per-record failures are logged and reported as non-executed outcomes.
func (w *Workflow) Run(ctx context.Context) (Result, error) {
	res := Result{
		RunID:     w.newRunID(),
		StartedAt: w.now().UTC(),
		Outcomes:  []Outcome{},
	}
	log := w.log.WithField("run_id", res.RunID)
	log.Info("sweep triggered, processing all recurring payment records")

	tgt, err := w.Resolve()
	if err != nil {
		log.WithError(err).Error("sweep aborted")
		res.FinishedAt = w.now().UTC()
		return res, err
	}
	res.Chain = tgt.Network.Name
	log = log.WithFields(logrus.Fields{
		"chain":    tgt.Network.Name,
		"contract": tgt.Contract.Hex(),
	})

	ids, err := w.recordIDs(ctx, tgt)
	if err != nil {
		log.WithError(err).Error("sweep aborted")
		res.FinishedAt = w.now().UTC()
		return res, err
	}
	log.WithField("count", len(ids)).Info("found records to process")
	res.ProcessedRecords = len(ids)

	for _, id := range ids {
		res.add(w.process(ctx, log.WithField("record_id", id), tgt, id))
	}

	res.FinishedAt = w.now().UTC()
	log.WithFields(logrus.Fields{
		"processed_records": res.ProcessedRecords,
		"executed_payments": res.ExecutedPayments,
	}).Info("sweep summary")
	return res, nil
}

func (w *Workflow) process(ctx context.Context, log logrus.FieldLogger, tgt Target, id uint64) Outcome {
	rec, err := w.record(ctx, tgt, id)
	if err != nil {
		log.WithError(err).Warn("skipping record, read failed")
		return Outcome{ID: id, Reason: ReasonReadFailed}
	}

	log.WithFields(logrus.Fields{
		"sender":             rec.Sender,
		"receiver":           rec.Receiver,
		"amount":             rec.Amount.String(),
		"amount_units":       decimal.NewFromBigInt(rec.Amount, -amountDecimals).String(),
		"interval_seconds":   rec.Interval,
		"next_payment":       rec.NextPayment,
		"installments_paid":  rec.InstallmentsPaid.String(),
		"total_installments": rec.TotalInstallments.String(),
		"times_remaining":    rec.TimesRemaining().String(),
		"is_active":          rec.IsActive,
	}).Info("record fetched")

	if ok, reason := w.policy.Eligible(rec); !ok {
		log.WithFields(logrus.Fields{"reason": reason, "policy": string(w.policy)}).Info("skipping record")
		return Outcome{ID: id, Reason: reason}
	}

	log.Info("executing installment")
	receipt, reason, err := w.execute(ctx, log, tgt, id)
	if err != nil {
		log.WithError(err).Error("installment not submitted")
		return Outcome{ID: id, Reason: reason, TxHash: receipt.TxHash}
	}

	fields := logrus.Fields{"tx_hash": receipt.TxHash, "confirmed": receipt.Confirmed}
	if url := tgt.Network.TxURL(receipt.TxHash); url != "" {
		fields["explorer_url"] = url
	}
	log.WithFields(fields).Info("installment submitted")
	return Outcome{ID: id, Executed: true, Reason: ReasonExecuted, TxHash: receipt.TxHash}
}

func (w *Workflow) execute(ctx context.Context, log logrus.FieldLogger, tgt Target, id uint64) (ledger.Receipt, string, error) {
	payload, err := contracts.PackPayInstallment(id)
	if err != nil {
		return ledger.Receipt{}, ReasonSignFailed, fmt.Errorf("%w: encode payInstallment(%d): %w", ErrSubmission, id, err)
	}
	log.WithField("calldata", hexutil.Encode(payload)).Debug("prepared payInstallment call")

	rep, err := w.signer.Sign(ctx, payload)
	if err != nil {
		return ledger.Receipt{}, ReasonSignFailed, fmt.Errorf("%w: sign report for record %d: %w", ErrSubmission, id, err)
	}
	log.WithField("digest", rep.Digest.Hex()).Debug("report signed")

	receipt, err := w.ledger.Write(ctx, ledger.WriteRequest{
		Receiver: tgt.Contract,
		Report:   rep,
		GasLimit: tgt.GasLimit,
	})
	if err != nil {
		return receipt, ReasonSubmitFailed, fmt.Errorf("%w: write report for record %d: %w", ErrSubmission, id, err)
	}
	return receipt, ReasonExecuted, nil
}

func (w *Workflow) recordIDs(ctx context.Context, tgt Target) ([]uint64, error) {
	data, err := contracts.PackGetAllRecordIDs()
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", ErrRead, contracts.MethodGetAllRecordIDs, err)
	}
	out, err := w.ledger.Read(ctx, ledger.Call{To: tgt.Contract, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRead, contracts.MethodGetAllRecordIDs, err)
	}
	ids, err := contracts.UnpackRecordIDs(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return ids, nil
}

func (w *Workflow) record(ctx context.Context, tgt Target, id uint64) (Record, error) {
	data, err := contracts.PackGetRecord(id)
	if err != nil {
		return Record{}, fmt.Errorf("%w: encode %s(%d): %w", ErrRead, contracts.MethodGetRecord, id, err)
	}
	out, err := w.ledger.Read(ctx, ledger.Call{To: tgt.Contract, Data: data})
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s(%d): %w", ErrRead, contracts.MethodGetRecord, id, err)
	}
	raw, err := contracts.UnpackRecord(out)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrRead, err)
	}
	if !raw.Interval.IsUint64() || !raw.NextPayment.IsUint64() {
		return Record{}, fmt.Errorf("%w: %s(%d): timing fields out of range", ErrRead, contracts.MethodGetRecord, id)
	}
	return Record{
		ID:                id,
		Sender:            raw.Sender.Hex(),
		Receiver:          raw.Receiver.Hex(),
		Amount:            raw.Amount,
		Interval:          raw.Interval.Uint64(),
		NextPayment:       raw.NextPayment.Uint64(),
		InstallmentsPaid:  raw.InstallmentsPaid,
		TotalInstallments: raw.TotalInstallments,
		IsActive:          raw.IsActive,
	}, nil
}
