package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"BlinkPay/internal/db"
	"BlinkPay/internal/models"
	"BlinkPay/internal/services"
	"BlinkPay/utils"
)

var sweepFlags struct {
	merchant  string
	minSlot   uint64
	sinceLast bool
	limit     int
	pageSize  int
	pageDelay time.Duration
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Replay merchant wallet history from RPC through the reconciler",
	Long: `Sweep pages through confirmed transactions of merchant wallets (newest
first) and reconciles them. Legs already recorded are skipped, so a sweep
can be repeated safely after lost or failed webhook deliveries.`,
	RunE: runSweep,
}

func init() {
	f := sweepCmd.Flags()
	f.StringVar(&sweepFlags.merchant, "merchant", "", "merchant id (default: every merchant)")
	f.Uint64Var(&sweepFlags.minSlot, "min-slot", 0, "stop at signatures older than this slot")
	f.BoolVar(&sweepFlags.sinceLast, "since-last", false, "use the highest settled slot as --min-slot")
	f.IntVar(&sweepFlags.limit, "limit", services.DefaultSweepLimit, "max signatures examined per wallet")
	f.IntVar(&sweepFlags.pageSize, "page-size", services.DefaultSweepPageSize, "signatures fetched per RPC call")
	f.DurationVar(&sweepFlags.pageDelay, "page-delay", 200*time.Millisecond, "pause between RPC pages")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := utils.NewLogger(cfg.App.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(cfg.MySQL)
	if err != nil {
		return err
	}
	store := db.NewStore(conn)

	registry, err := services.NewTokenRegistry(cfg.Solana.USDCMint, cfg.Solana.USDTMint)
	if err != nil {
		return err
	}
	chain, err := services.NewRPCChain(cfg.Solana.RPCURL)
	if err != nil {
		return err
	}
	matcher := services.NewMatcher(cfg.Matching.StrictMemoAmount, log.With("component", "matcher"))
	reconciler := services.NewReconciler(store, matcher, services.ReconcilerConfig{
		Workers:        cfg.App.Workers,
		PlatformWallet: cfg.Solana.PlatformWallet,
	}, nil, log.With("component", "reconciler"))
	sweeper := services.NewSweeper(chain, registry, reconciler, log.With("component", "sweep"))

	merchants, err := sweepTargets(ctx, store)
	if err != nil {
		return err
	}

	opts := services.SweepOptions{
		MinSlot:   sweepFlags.minSlot,
		Limit:     sweepFlags.limit,
		PageSize:  sweepFlags.pageSize,
		PageDelay: sweepFlags.pageDelay,
	}
	if sweepFlags.sinceLast {
		slot, err := store.LatestSettledSlot(ctx)
		if err != nil {
			return err
		}
		opts.MinSlot = slot
	}

	var failed int
	for _, m := range merchants {
		report, err := sweeper.Sweep(ctx, m.WalletAddress, opts)
		if err != nil {
			log.Error("sweep failed", "merchant", m.ID, "err", err)
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s scanned=%d events=%d processed=%d skipped=%d failed=%d\n",
			m.ID, report.Scanned, report.Events,
			report.Reconcile.Processed(), report.Reconcile.Skipped(), report.Reconcile.Failed())
		failed += report.Reconcile.Failed()
	}
	if failed > 0 {
		return fmt.Errorf("sweep finished with %d failures, rerun to retry", failed)
	}
	return nil
}

func sweepTargets(ctx context.Context, store *db.Store) ([]models.Merchant, error) {
	if sweepFlags.merchant != "" {
		m, err := store.Merchant(ctx, sweepFlags.merchant)
		if err != nil {
			return nil, err
		}
		return []models.Merchant{*m}, nil
	}
	return store.Merchants(ctx)
}
