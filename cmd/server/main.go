// Command server wires the settlement engine: stores (Postgres or memory),
// the audit pipeline (Kafka-backed when configured), the domain services
// and the HTTP surface. Business logic lives in the internal services.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"fundgate/internal/buffer"
	bufferstore "fundgate/internal/buffer/store"
	"fundgate/internal/capacity"
	capacityhandler "fundgate/internal/capacity/handler"
	capacitymetrics "fundgate/internal/capacity/metrics"
	capacitystore "fundgate/internal/capacity/store"
	"fundgate/internal/intent"
	intentstore "fundgate/internal/intent/store"
	"fundgate/internal/issuance"
	issuancehandler "fundgate/internal/issuance/handler"
	issuancemetrics "fundgate/internal/issuance/metrics"
	"fundgate/internal/oracle"
	oraclehandler "fundgate/internal/oracle/handler"
	oraclemetrics "fundgate/internal/oracle/metrics"
	oraclestore "fundgate/internal/oracle/store"
	"fundgate/internal/platform/config"
	"fundgate/internal/platform/db"
	"fundgate/internal/platform/httpserver"
	"fundgate/internal/platform/logger"
	platformmetrics "fundgate/internal/platform/metrics"
	platformredis "fundgate/internal/platform/redis"
	"fundgate/internal/platform/token"
	"fundgate/internal/ports/fake"
	httptransport "fundgate/internal/transport/http"
	"fundgate/internal/window"
	windowhandler "fundgate/internal/window/handler"
	windowmetrics "fundgate/internal/window/metrics"
	windowstore "fundgate/internal/window/store"
	id "fundgate/pkg/domain"
	"fundgate/pkg/fixedpoint"
	"fundgate/pkg/platform/audit/kafka"
	"fundgate/pkg/platform/audit/publisher"
	auditmemory "fundgate/pkg/platform/audit/store/memory"
	auditpostgres "fundgate/pkg/platform/audit/store/postgres"
	auditworker "fundgate/pkg/platform/audit/worker"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("fundgate exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.Open(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if dbConn != nil {
		defer dbConn.Close()
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()

	// Audit pipeline. With Postgres the outbox is the durable path and the
	// worker forwards to Kafka; without it the producer is a direct
	// best-effort sink.
	var (
		pub    *publisher.Publisher
		worker *auditworker.Worker
	)
	pubOpts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithAsyncBuffer(1024),
	}
	if dbConn != nil {
		outbox := auditpostgres.New(dbConn)
		if len(cfg.Kafka.Brokers) > 0 {
			producer, err := newAuditProducer(ctx, cfg)
			if err != nil {
				return err
			}
			defer producer.Close()
			worker = auditworker.NewWorker(outbox, producer, log)
		}
		pub = publisher.NewPublisher(outbox, pubOpts...)
	} else {
		if len(cfg.Kafka.Brokers) > 0 {
			producer, err := newAuditProducer(ctx, cfg)
			if err != nil {
				return err
			}
			defer producer.Close()
			pubOpts = append(pubOpts, publisher.WithSink(producer))
		}
		pub = publisher.NewPublisher(auditmemory.NewInMemoryStore(), pubOpts...)
	}
	defer pub.Close()

	feedKeyring, err := parseSigners(cfg.Oracle.FeedSigners)
	if err != nil {
		return fmt.Errorf("feed signers: %w", err)
	}
	emergencyKeyring, err := parseSigners(cfg.Oracle.EmergencySigners)
	if err != nil {
		return fmt.Errorf("emergency signers: %w", err)
	}

	var oracleStore oracle.Store = oraclestore.NewMemory()
	if dbConn != nil {
		oracleStore = oraclestore.NewPostgres(dbConn)
	}
	oracleSvc, err := oracle.New(oracleStore, oracle.Params{
		StaleAfter:          cfg.Oracle.StaleAfter,
		DegradedAfter:       cfg.Oracle.DegradedAfter,
		EmergencyAfter:      cfg.Oracle.EmergencyAfter,
		StaleHaircutBps:     cfg.Oracle.StaleHaircutBps,
		DegradedHaircutBps:  cfg.Oracle.DegradedHaircutBps,
		EmergencyHaircutBps: cfg.Oracle.EmergencyHaircutBps,
		MaxGrowthBpsPerDay:  cfg.Oracle.MaxGrowthBpsPerDay,
		BandBps:             cfg.Oracle.BandBps,
		MaxJumpBps:          cfg.Oracle.MaxJumpBps,
		Quorum:              cfg.Oracle.Quorum,
		Domain:              cfg.Oracle.Domain,
		ChainID:             cfg.Oracle.ChainID,
	}, oracle.Keyring(feedKeyring), oracle.Keyring(emergencyKeyring),
		oracle.WithLogger(log),
		oracle.WithAuditPublisher(pub),
		oracle.WithMetrics(oraclemetrics.New(registry)),
	)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	var capacityStore capacity.Store = capacitystore.NewMemory()
	if dbConn != nil {
		capacityStore = capacitystore.NewPostgres(dbConn)
	}
	capacitySvc, err := capacity.New(capacityStore, cfg.Capacity.SlopeBps,
		capacity.WithLogger(log),
		capacity.WithAuditPublisher(pub),
		capacity.WithMetrics(capacitymetrics.New(registry)),
	)
	if err != nil {
		return fmt.Errorf("capacity: %w", err)
	}

	// External collaborators. Until real ledger/custody integrations are
	// configured the in-process implementations serve single-node
	// deployments.
	ledger := fake.NewLedger()
	custodial := fake.NewCustodial(new(big.Int))
	bufferCapital, err := fixedpoint.ParseAmount(cfg.Issuance.BufferCapital)
	if err != nil {
		return fmt.Errorf("buffer capital: %w", err)
	}
	instantBuffer := fake.NewBuffer(bufferCapital)
	members := fake.NewRegistry()
	for _, raw := range cfg.Members {
		account, err := id.ParseAccount(raw)
		if err != nil {
			return fmt.Errorf("member %q: %w", raw, err)
		}
		members.Add(account)
	}
	eligibility := fake.NewConfig()

	var windowStore window.Store = windowstore.NewMemory()
	if dbConn != nil {
		windowStore = windowstore.NewPostgres(dbConn)
	}
	windowSvc, err := window.New(windowStore, oracleSvc, custodial, window.Params{
		MinDuration:   cfg.Window.MinDuration,
		SettleDelay:   cfg.Window.SettlementDelay,
		MaxClaimBatch: cfg.Window.MaxClaimBatch,
	},
		window.WithLogger(log),
		window.WithAuditPublisher(pub),
		window.WithMetrics(windowmetrics.New(registry)),
	)
	if err != nil {
		return fmt.Errorf("window: %w", err)
	}

	var allowanceStore buffer.AllowanceStore = bufferstore.NewMemory()
	if redisClient != nil {
		allowanceStore = bufferstore.NewRedis(redisClient)
	}
	dailyCap, err := fixedpoint.ParseAmount(cfg.Issuance.DailyInstantCap)
	if err != nil {
		return fmt.Errorf("daily instant cap: %w", err)
	}
	allowance, err := buffer.New(allowanceStore, dailyCap, buffer.WithLogger(log))
	if err != nil {
		return fmt.Errorf("allowance: %w", err)
	}

	issuanceOpts := []issuance.Option{
		issuance.WithLogger(log),
		issuance.WithAuditPublisher(pub),
		issuance.WithMetrics(issuancemetrics.New(registry)),
		issuance.WithAllowance(allowance),
	}
	if len(cfg.Issuance.MintSigners) > 0 {
		mintKeyring, err := parseSigners(cfg.Issuance.MintSigners)
		if err != nil {
			return fmt.Errorf("mint signers: %w", err)
		}
		var nonceStore intent.NonceStore = intentstore.NewMemory()
		if dbConn != nil {
			nonceStore = intentstore.NewPostgres(dbConn)
		}
		verifier, err := intent.NewVerifier(nonceStore, intent.Keyring(mintKeyring), intent.Params{
			Domain:  cfg.Oracle.Domain,
			ChainID: cfg.Oracle.ChainID,
		}, intent.WithLogger(log))
		if err != nil {
			return fmt.Errorf("intent verifier: %w", err)
		}
		issuanceOpts = append(issuanceOpts, issuance.WithIntentVerifier(verifier))
	}

	var capTokens *big.Int
	if cfg.Issuance.CapTokens != "" {
		capTokens, err = fixedpoint.ParseAmount(cfg.Issuance.CapTokens)
		if err != nil {
			return fmt.Errorf("token cap: %w", err)
		}
	}
	issuanceSvc, err := issuance.New(issuance.Deps{
		Oracle:    oracleSvc,
		Capacity:  capacitySvc,
		Windows:   windowSvc,
		Ledger:    ledger,
		Custodial: custodial,
		Buffer:    instantBuffer,
		Registry:  members,
		Elig:      eligibility,
	}, issuance.Params{
		CapTokens:       capTokens,
		RequireIntent:   cfg.Issuance.RequireIntent,
		HaltAtEmergency: cfg.Issuance.HaltAtEmergency,
	}, issuanceOpts...)
	if err != nil {
		return fmt.Errorf("issuance: %w", err)
	}

	tokens := token.NewService(cfg.JWTSigningKey, "fundgate")
	var oracleHandlerOpts []oraclehandler.Option
	if cfg.Oracle.ResponseSigningKey != "" {
		seed, err := hex.DecodeString(cfg.Oracle.ResponseSigningKey)
		if err != nil || len(seed) != ed25519.SeedSize {
			return fmt.Errorf("oracle response signing key is not a hex ed25519 seed")
		}
		oracleHandlerOpts = append(oracleHandlerOpts, oraclehandler.WithResponseSigner(ed25519.NewKeyFromSeed(seed)))
	}

	router := httptransport.NewRouter(httptransport.Handlers{
		Oracle:   oraclehandler.New(oracleSvc, log, oracleHandlerOpts...),
		Capacity: capacityhandler.New(capacitySvc, log),
		Window:   windowhandler.New(windowSvc, log),
		Issuance: issuancehandler.New(issuanceSvc, log),
	}, tokens, registry, platformmetrics.NewHTTP(registry), log)

	srv := httpserver.New(cfg.Addr, router.Build())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("fundgate listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if worker != nil {
		g.Go(func() error {
			if err := worker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("fundgate stopped")
	return err
}

// newAuditProducer connects to the configured brokers and makes sure the
// audit topic exists before the first event is produced.
func newAuditProducer(ctx context.Context, cfg config.Config) (*kafka.Producer, error) {
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}
	topicCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := producer.EnsureTopic(topicCtx, 1, 1); err != nil {
		producer.Close()
		return nil, err
	}
	return producer, nil
}

// parseSigners turns hex-encoded Ed25519 public keys into a keyring. The
// signer ID is the hex key itself.
func parseSigners(raw []string) (map[id.SignerID]ed25519.PublicKey, error) {
	keyring := make(map[id.SignerID]ed25519.PublicKey, len(raw))
	for _, s := range raw {
		signerID, err := id.ParseSignerID(s)
		if err != nil {
			return nil, err
		}
		key, err := hex.DecodeString(s)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("signer %q is not a hex ed25519 public key", s)
		}
		keyring[signerID] = key
	}
	return keyring, nil
}
