// Command ledgerctl runs the ledger's scheduled jobs and operator chores.
//
//	ledgerctl reconcile-all [-date YYYY-MM-DD]
//	ledgerctl reconcile -account <uuid>
//	ledgerctl realign -account <uuid> -delta <amount> -operator <id> [-note text]
//	ledgerctl sweep
//	ledgerctl token -subject <id> -role operator|terminal [-ttl 24h]
//	ledgerctl device-key -device <id>
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/app"
	"github.com/josh-kwaku/campus-ledger/internal/auth"
	"github.com/josh-kwaku/campus-ledger/internal/config"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
	"github.com/josh-kwaku/campus-ledger/internal/service/offline"
)

type command func(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error

var commands = map[string]command{
	"reconcile-all": reconcileAll,
	"reconcile":     reconcileOne,
	"realign":       realign,
	"sweep":         sweep,
	"token":         token,
	"device-key":    deviceKey,
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.InitTo(os.Stderr, "ledgerctl", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, cfg, logger, os.Args[2:]); err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		stop()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ledgerctl <reconcile-all|reconcile|realign|sweep|token|device-key> [flags]")
}

func reconcileAll(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("reconcile-all", flag.ContinueOnError)
	date := fs.String("date", "", "run date (YYYY-MM-DD), defaults to today in UTC")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runDate := time.Now().UTC()
	if *date != "" {
		d, err := time.Parse(time.DateOnly, *date)
		if err != nil {
			return fmt.Errorf("reconcileAll: invalid -date: %w", err)
		}
		runDate = d
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("reconcileAll: %w", err)
	}
	defer a.Close()

	run, err := a.Reconciler.ReconcileAll(ctx, runDate)
	if err != nil {
		return fmt.Errorf("reconcileAll: %w", err)
	}
	return printJSON(run)
}

func reconcileOne(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	account := fs.String("account", "", "account id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	accountID, err := uuid.Parse(*account)
	if err != nil {
		return fmt.Errorf("reconcileOne: invalid -account: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("reconcileOne: %w", err)
	}
	defer a.Close()

	res, err := a.Reconciler.Reconcile(ctx, accountID)
	if err != nil {
		return fmt.Errorf("reconcileOne: %w", err)
	}
	return printJSON(res)
}

// realign applies an operator-reviewed correction for a drift above the
// auto-adjust threshold. -delta is the drift the last reconcile reported.
func realign(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("realign", flag.ContinueOnError)
	account := fs.String("account", "", "account id")
	delta := fs.String("delta", "", "reviewed drift (stored minus computed)")
	operator := fs.String("operator", "", "operator id recorded in the audit trail")
	note := fs.String("note", "", "reason for the correction")
	if err := fs.Parse(args); err != nil {
		return err
	}
	accountID, err := uuid.Parse(*account)
	if err != nil {
		return fmt.Errorf("realign: invalid -account: %w", err)
	}
	expected, err := decimal.NewFromString(*delta)
	if err != nil {
		return fmt.Errorf("realign: invalid -delta: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("realign: %w", err)
	}
	defer a.Close()

	res, err := a.Reconciler.Realign(ctx, accountID, expected, *operator, *note)
	if err != nil {
		return fmt.Errorf("realign: %w", err)
	}
	return printJSON(res)
}

// sweep expires abandoned PENDING reservations and, when a retention window
// is configured, purges old completed entries.
func sweep(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	defer a.Close()

	now := time.Now().UTC()
	expired, err := a.Idempotency.ExpirePending(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	var purged int64
	if cfg.IdempotencyRetention > 0 {
		purged, err = a.Idempotency.PurgeCompleted(ctx, now.Add(-cfg.IdempotencyRetention))
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
	}

	logger.Info("idempotency sweep finished", "expired", expired, "purged", purged)
	return nil
}

func token(_ context.Context, cfg *config.Config, _ *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "operator id or device id")
	role := fs.String("role", string(auth.RoleOperator), "operator or terminal")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tok, err := auth.GenerateToken(*subject, auth.Role(*role), cfg.JWTSecret, *ttl)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Println(tok)
	return nil
}

// deviceKey prints the hex signing key a terminal needs as DEVICE_KEY.
func deviceKey(_ context.Context, cfg *config.Config, _ *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("device-key", flag.ContinueOnError)
	device := fs.String("device", "", "device id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *device == "" {
		return fmt.Errorf("deviceKey: -device is required")
	}
	fmt.Println(hex.EncodeToString(offline.DeviceKey([]byte(cfg.DeviceSigningSecret), *device)))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
