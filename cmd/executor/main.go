// Command executor is the process entrypoint for the Hyperliquid-style
// execution core: it wires the Persistent State Store, Safety Supervisor,
// Signer/Sender clients, Confirmer, and Executor Coordinator, then serves
// Handle() calls until a shutdown signal arrives. Grounded on the
// teacher's cmd/polybot/main.go (logger setup, godotenv, config.Load,
// signal-based graceful shutdown).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ordersys/hlexec/alert"
	"github.com/ordersys/hlexec/eventlog"
	"github.com/ordersys/hlexec/executor"
	"github.com/ordersys/hlexec/internal/config"
	"github.com/ordersys/hlexec/safety"
	"github.com/ordersys/hlexec/sender"
	"github.com/ordersys/hlexec/signer"
	"github.com/ordersys/hlexec/store"
	"github.com/ordersys/hlexec/tradelog"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("version", version).Str("mode", cfg.Mode).Msg("executor starting")

	st, err := store.Open(cfg.StateFilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open persistent state store")
	}
	defer st.Close()

	events, err := eventlog.Open(cfg.EventLogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open event log")
	}
	defer events.Close()

	trades, err := tradelog.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open trade log")
	}
	defer trades.Close()

	telegramSink, err := alert.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Warn().Err(err).Msg("telegram alert sink disabled")
	}

	var sup *safety.Supervisor
	if telegramSink != nil {
		sup = safety.New(telegramSink, events)
	} else {
		sup = safety.New(nil, events)
	}

	signerCfg := signer.Config{
		AdapterURL: cfg.SignerAdapterURL,
		Timeout:    cfg.SignerTimeout,
		MaxRetries: cfg.SignerMaxRetries,
		RetryDelay: cfg.SignerRetryDelay,
	}
	signerClient := signer.New(signerCfg, st, sup, events, os.Getenv("AGENT_ADDRESS"), cfg.CoinEnabled, cfg.DryRun)

	senderCfg := sender.Config{
		BaseURL:       cfg.ExchangeBaseURL(),
		Timeout:       cfg.HLExchangeTimeout,
		MaxRetries:    cfg.HLExchangeRetries,
		RetryDelay:    cfg.SignerRetryDelay,
		IsFatalReject: sender.DefaultIsFatalReject,
	}
	senderClient := sender.New(senderCfg, cfg.DryRun)

	// coordinator.Handle is the one entry point this process exists to
	// serve. No in-tree caller invokes it: SPEC_FULL.md §1 defines the
	// upstream decision/signal loop that produces DecisionPayloads as an
	// out-of-scope external collaborator, and names no request-ingestion
	// API (HTTP/gRPC/queue) for wiring it to this Coordinator. A caller
	// embedding this process is expected to obtain it the same way this
	// function does, via executor.New, and to drive it directly (e.g. as a
	// library import) rather than through a transport this binary opens.
	coordinator := executor.New(st, sup, signerClient, senderClient, events, trades, cfg.PartialLockTTL)
	_ = coordinator

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	log.Info().Msg("executor ready")

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}
}
