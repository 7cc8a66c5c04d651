package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"paysweep/internal/config"
	"paysweep/internal/events"
	"paysweep/internal/journal"
	"paysweep/internal/ledger"
	"paysweep/internal/logging"
	"paysweep/internal/network"
	"paysweep/internal/report"
	"paysweep/internal/scheduler"
	"paysweep/internal/server"
	"paysweep/internal/sweep"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	policy, err := sweep.ParsePolicy(cfg.Service.EligibilityPolicy)
	if err != nil {
		log.WithError(err).Fatal("invalid eligibility policy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l, closeLedger, err := buildLedger(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("ledger error")
	}
	defer closeLedger()

	signer, err := buildSigner(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("signer error")
	}

	store, closeStore, err := buildJournal(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("journal store error")
	}
	defer closeStore()

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.WithError(err).Fatal("event publisher error")
		}
		publisher = kp
	}
	defer publisher.Close()

	workflow := sweep.NewWorkflow(cfg.Workflow, policy, l, signer, log.WithField("component", "sweep"))
	if _, err := workflow.Resolve(); err != nil {
		log.WithError(err).Fatal("workflow configuration error")
	}

	metrics := server.NewMetrics()
	sched, err := scheduler.New(scheduler.Config{
		Schedule:   cfg.Workflow.Schedule,
		RunTimeout: cfg.Service.RunTimeout,
	}, workflow, log.WithField("component", "scheduler"),
		metrics,
		journal.Recorder{Store: store, Retention: cfg.Journal.Retention},
		events.Notifier{Publisher: publisher},
	)
	if err != nil {
		log.WithError(err).Fatal("scheduler error")
	}

	if *once {
		res, err := sched.RunOnce(ctx)
		if err != nil {
			log.WithError(err).Fatal("sweep failed")
		}
		log.WithFields(logrus.Fields{
			"run_id":            res.RunID,
			"processed_records": res.ProcessedRecords,
			"executed_payments": res.ExecutedPayments,
		}).Info("single sweep complete")
		return
	}

	apiServer := server.NewServer(cfg.Service, sched, store, l, metrics, log.WithField("component", "api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("sweeper stopped with error")
		os.Exit(1)
	}
	log.Info("sweeper stopped")
}

// buildLedger picks the ledger backend: a node when CHAIN_RPC_URL is set
// (read-only without a key), otherwise an empty in-memory contract.
func buildLedger(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger) (ledger.Ledger, func(), error) {
	if cfg.Chain.RPCURL == "" {
		log.Warn("CHAIN_RPC_URL not set, using in-memory ledger")
		addr := common.Address{}
		if len(cfg.Workflow.EVMs) > 0 {
			addr = common.HexToAddress(cfg.Workflow.EVMs[0].RecurringPaymentsAddress)
		}
		return ledger.NewFakeLedger(addr), func() {}, nil
	}

	var expected *network.Network
	if len(cfg.Workflow.EVMs) > 0 {
		n, err := network.Lookup(cfg.Workflow.EVMs[0].ChainName)
		if err != nil {
			return nil, nil, err
		}
		expected = &n
	}

	ethCfg := ledger.EthLedgerConfig{
		RPCURL:          cfg.Chain.RPCURL,
		PrivateKeyHex:   cfg.Chain.PrivateKey,
		ConfirmReceipts: cfg.Chain.ConfirmReceipts,
		RPCTimeout:      cfg.Chain.RPCTimeout,
		ReceiptTimeout:  cfg.Chain.ReceiptTimeout,
	}
	if expected != nil {
		ethCfg.ExpectedChainID = expected.ChainID
	}
	eth, err := ledger.NewEthLedger(ctx, ethCfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Chain.PrivateKey == "" {
		log.Warn("CHAIN_PRIVATE_KEY not set, submissions will be rejected")
	} else {
		log.WithField("from", eth.From().Hex()).Info("submitting from account")
	}
	return eth, eth.Close, nil
}

func buildSigner(cfg *config.AppConfig, log logrus.FieldLogger) (*report.ECDSASigner, error) {
	if cfg.Chain.PrivateKey != "" {
		return report.NewECDSASignerFromHex(cfg.Chain.PrivateKey)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	s := report.NewECDSASigner(key)
	log.WithField("address", s.Address().Hex()).Warn("using ephemeral report signer")
	return s, nil
}

func buildJournal(ctx context.Context, cfg *config.AppConfig) (journal.Store, func(), error) {
	if cfg.Journal.PostgresDSN != "" {
		pg, err := journal.NewPostgresStore(ctx, cfg.Journal.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	fs, err := journal.NewFileStore(cfg.Journal.StorePath)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}
