package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/paywall/verifier/internal/api"
	"github.com/paywall/verifier/internal/config"
	"github.com/paywall/verifier/internal/currency"
	"github.com/paywall/verifier/internal/ingestion"
	"github.com/paywall/verifier/internal/paymail"
	"github.com/paywall/verifier/internal/reconciliation"
	"github.com/paywall/verifier/internal/repository"
	"github.com/paywall/verifier/internal/txbuilder"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) {
			// Already printed by the parser.
			if flagErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		}
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	var rates reconciliation.RateSource
	if cfg.FixedRates != "" {
		fixed, err := currency.ParseFixedRates(cfg.FixedRates)
		if err != nil {
			log.Fatal("invalid fixed rates", zap.Error(err))
		}
		rates = fixed
		log.Info("using fixed rates", zap.String("rates", cfg.FixedRates))
	} else {
		rates = currency.NewQuoteClient(cfg.RateURL, cfg.RateTimeout, log)
		log.Info("using rate endpoint", zap.String("url", cfg.RateURL))
	}

	params := &chaincfg.MainNetParams
	verifier := reconciliation.NewVerifier(rates, ingestion.NewTxDecoder(params), cfg.BaseCurrency, log)

	resolver := paymail.NewClient(paymail.Config{
		SenderHandle: cfg.PaymailSender,
		Nameserver:   cfg.PaymailNameserver,
	}, log)
	builder := txbuilder.New(verifier, resolver, params, log)

	var verdicts *repository.VerdictRepo
	if cfg.DBPath != "" {
		log.Info("initializing audit log", zap.String("path", cfg.DBPath))
		db, err := repository.InitDB(cfg.DBPath)
		if err != nil {
			log.Fatal("failed to init DB", zap.Error(err))
		}
		defer db.Close()
		verdicts = repository.NewVerdictRepo(db)
	}

	router := api.NewRouter(verifier, builder, verdicts, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	log.Info("paywall verifier listening",
		zap.String("addr", "http://localhost:"+cfg.Port),
		zap.String("api_base", "/api/v1"),
		zap.String("base_currency", cfg.BaseCurrency),
		zap.Bool("audit_log", verdicts != nil),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
