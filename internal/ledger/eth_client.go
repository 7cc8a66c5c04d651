package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"paysweep/internal/report"
)

var (
	ErrReadOnly        = errors.New("ledger is read-only")
	ErrReverted        = errors.New("transaction reverted")
	ErrSignerMismatch  = errors.New("report signer does not match submitting account")
	ErrChainIDMismatch = errors.New("node chain id does not match configured network")
)

// Backend is the node surface EthLedger needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	ethereum.TransactionReader
	ethereum.ChainIDReader
	ethereum.BlockNumberReader
}

// EthLedger reads RecurringPayments state from a node and submits signed reports
// as transactions from the configured account.
type EthLedger struct {
	backend        Backend
	closer         func()
	chainID        *big.Int
	from           common.Address
	transacts      *bind.TransactOpts
	confirm        bool
	rpcTimeout     time.Duration
	receiptTimeout time.Duration
}

const defaultReceiptTimeout = 2 * time.Minute

type EthLedgerConfig struct {
	RPCURL        string
	PrivateKeyHex string
	// ExpectedChainID, when set, must match the node's chain id.
	ExpectedChainID *big.Int
	ConfirmReceipts bool
	RPCTimeout      time.Duration
	// ReceiptTimeout bounds the wait for a mined receipt; defaults to two minutes.
	ReceiptTimeout time.Duration
}

func NewEthLedger(ctx context.Context, cfg EthLedgerConfig) (*EthLedger, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	l, err := NewEthLedgerWithBackend(ctx, cli, cfg)
	if err != nil {
		cli.Close()
		return nil, err
	}
	l.closer = cli.Close
	return l, nil
}

// NewEthLedgerWithBackend builds a ledger on an existing backend, e.g. a simulated chain.
func NewEthLedgerWithBackend(ctx context.Context, backend Backend, cfg EthLedgerConfig) (*EthLedger, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if cfg.ExpectedChainID != nil && cfg.ExpectedChainID.Cmp(chainID) != 0 {
		return nil, fmt.Errorf("%w: node %s, configured %s", ErrChainIDMismatch, chainID, cfg.ExpectedChainID)
	}

	l := &EthLedger{
		backend:        backend,
		chainID:        chainID,
		confirm:        cfg.ConfirmReceipts,
		rpcTimeout:     cfg.RPCTimeout,
		receiptTimeout: cfg.ReceiptTimeout,
	}
	if l.receiptTimeout <= 0 {
		l.receiptTimeout = defaultReceiptTimeout
	}

	if cfg.PrivateKeyHex != "" {
		pk, err := report.ParsePrivateKey(cfg.PrivateKeyHex)
		if err != nil {
			return nil, err
		}
		txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
		if err != nil {
			return nil, fmt.Errorf("transactor: %w", err)
		}
		txOpts.Context = ctx
		txOpts.GasPrice = nil
		txOpts.Nonce = nil
		l.transacts = txOpts
		l.from = txOpts.From
	}
	return l, nil
}

// From is the submitting account, zero for read-only ledgers.
func (l *EthLedger) From() common.Address {
	return l.from
}

func (l *EthLedger) ChainID() *big.Int {
	return new(big.Int).Set(l.chainID)
}

func (l *EthLedger) Close() {
	if l.closer != nil {
		l.closer()
	}
}

var finalizedBlock = big.NewInt(int64(rpc.FinalizedBlockNumber))

func (l *EthLedger) Read(ctx context.Context, call Call) ([]byte, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	to := call.To
	out, err := l.backend.CallContract(ctx, ethereum.CallMsg{
		From: common.Address{},
		To:   &to,
		Data: call.Data,
	}, finalizedBlock)
	if err != nil {
		return nil, fmt.Errorf("call contract %s: %w", to.Hex(), err)
	}
	return out, nil
}

func (l *EthLedger) Write(ctx context.Context, req WriteRequest) (Receipt, error) {
	if l.transacts == nil {
		return Receipt{}, ErrReadOnly
	}
	if req.GasLimit == 0 {
		return Receipt{}, fmt.Errorf("gas limit is required")
	}

	signer, err := report.Verify(req.Report)
	if err != nil {
		return Receipt{}, fmt.Errorf("verify report: %w", err)
	}
	if signer != l.from {
		return Receipt{}, fmt.Errorf("%w: report %s, account %s", ErrSignerMismatch, signer.Hex(), l.from.Hex())
	}

	opts := *l.transacts
	opts.Context = ctx
	opts.GasLimit = req.GasLimit

	bound := bind.NewBoundContract(req.Receiver, abi.ABI{}, l.backend, l.backend, l.backend)
	tx, err := bound.RawTransact(&opts, req.Report.Payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit report tx: %w", err)
	}

	if !l.confirm {
		return Receipt{TxHash: tx.Hash().Hex()}, nil
	}

	// WaitMined keeps polling through transient node errors such as
	// "transaction indexing is in progress".
	waitCtx, cancel := context.WithTimeout(ctx, l.receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, l.backend, tx)
	if err != nil {
		return Receipt{TxHash: tx.Hash().Hex()}, fmt.Errorf("wait for receipt %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return Receipt{TxHash: tx.Hash().Hex()}, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return Receipt{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: block,
		Confirmed:   true,
	}, nil
}

func (l *EthLedger) Ping(ctx context.Context) error {
	if l.backend == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := l.backend.BlockNumber(ctx)
	return err
}

func (l *EthLedger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.rpcTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.rpcTimeout)
}

var _ Ledger = (*EthLedger)(nil)
var _ HealthChecker = (*EthLedger)(nil)
