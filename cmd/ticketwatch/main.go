// ticketwatch polls a mailbox, mirrors conversation threads into a
// spreadsheet as ticket rows, and keeps thread labels in step with ticket
// status.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/ticketwatch/internal/autoreply"
	"github.com/nhle/ticketwatch/internal/driver"
	"github.com/nhle/ticketwatch/internal/engine"
	"github.com/nhle/ticketwatch/internal/mailbox/gmail"
	"github.com/nhle/ticketwatch/internal/model"
	"github.com/nhle/ticketwatch/internal/sheet/gsheets"
	"github.com/nhle/ticketwatch/internal/state"
	"github.com/nhle/ticketwatch/internal/ticketstore"
	"github.com/nhle/ticketwatch/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ticketwatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateStore, err := state.NewStore(cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("opening state db: %w", err)
	}
	defer stateStore.Close()

	mb, err := gmail.NewService(ctx, cfg.CredentialDir)
	if err != nil {
		return fmt.Errorf("connecting to mailbox: %w", err)
	}

	sheetSvc, err := gsheets.NewService(ctx, cfg.CredentialDir, cfg.Sheet.SpreadsheetID)
	if err != nil {
		return fmt.Errorf("connecting to spreadsheet: %w", err)
	}
	tickets := ticketstore.NewStore(sheetSvc, cfg.Sheet)

	var responder *autoreply.Responder
	if cfg.AutoReply.Enabled {
		responder = autoreply.NewResponder(mb, logger)
	}

	eng := engine.New(mb, tickets, stateStore, responder, engine.Config{
		AdminEmails:      cfg.AdminEmails,
		LookbackDays:     cfg.Sync.LookbackDays,
		CursorSkew:       time.Duration(cfg.Sync.CursorSkewSec) * time.Second,
		MapRefreshEvery:  cfg.Sync.MapRefreshEvery,
		StateBackupEvery: cfg.Sync.StateBackupEvery,
		AutoClose:        cfg.AutoClose,
	}, logger)

	runner := driver.New(eng, cfg.PollInterval(), cfg.MisfireGrace(), logger)

	srv := web.New(cfg.Web.ListenAddr, runner, logger)
	webErr := srv.Start()

	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx) }()

	logger.Info().
		Str("config", *configPath).
		Str("spreadsheet", cfg.Sheet.SpreadsheetID).
		Msg("ticketwatch started")

	select {
	case err := <-webErr:
		stop()
		<-runErr
		return fmt.Errorf("status server: %w", err)
	case err := <-runErr:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if sdErr := srv.Shutdown(shutdownCtx); sdErr != nil {
			logger.Warn().Err(sdErr).Msg("status server shutdown")
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	logger.Info().Msg("ticketwatch stopped")
	return nil
}
