// Command terminal is the device agent: it caches the whitelist, authorizes
// purchases while offline and flushes buffered records to the ledger.
//
//	terminal refresh
//	terminal authorize -account <uuid> -amount 4.50
//	terminal flush
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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/config"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
	"github.com/josh-kwaku/campus-ledger/internal/service/offline"
	"github.com/josh-kwaku/campus-ledger/internal/terminal"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadTerminal()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.InitTo(os.Stderr, "campus-ledger-terminal", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("command failed", "command", os.Args[1], "device_id", cfg.DeviceID, "error", err)
		stop()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: terminal <refresh|authorize|flush> [flags]")
}

func run(ctx context.Context, cfg *config.TerminalConfig, name string, args []string) error {
	key, err := hex.DecodeString(cfg.DeviceKey)
	if err != nil {
		return fmt.Errorf("run: DEVICE_KEY must be hex: %w", err)
	}

	store, err := terminal.OpenStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer store.Close()

	authz := terminal.NewOfflineAuthorizer(store, key, offline.AuthorizerConfig{
		MaxSnapshotAge: cfg.WhitelistMaxSnapshotAge,
		LookupTimeout:  cfg.WhitelistLookupTimeout,
	})
	client := terminal.NewClient(cfg.LedgerURL, cfg.DeviceToken, cfg.SyncTimeout)
	agent := terminal.NewAgent(cfg.DeviceID, store, client, authz, cfg.SyncBatchSize, nil)

	switch name {
	case "refresh":
		snap, err := agent.Refresh(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"device_id": snap.DeviceID,
			"issued_at": snap.IssuedAt,
			"entries":   len(snap.Entries),
			"checksum":  snap.Checksum,
		})

	case "authorize":
		fs := flag.NewFlagSet("authorize", flag.ContinueOnError)
		account := fs.String("account", "", "account id")
		amount := fs.String("amount", "", "purchase amount, e.g. 4.50")
		if err := fs.Parse(args); err != nil {
			return err
		}
		accountID, err := uuid.Parse(*account)
		if err != nil {
			return fmt.Errorf("authorize: invalid -account: %w", err)
		}
		amt, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("authorize: invalid -amount: %w", err)
		}
		rec, err := agent.Authorize(ctx, accountID, amt)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"txn_id":      rec.TxnID,
			"amount":      rec.Amount.StringFixed(2),
			"occurred_at": rec.OccurredAt,
		})

	case "flush":
		report, err := agent.Flush(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)

	default:
		usage()
		return fmt.Errorf("run: unknown command %q", name)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
