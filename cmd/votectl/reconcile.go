package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/fatih/color"

	"campusvote.org/internal/election"
	"campusvote.org/internal/store/pg"
)

func runReconcile(args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	dsn := fs.String("dsn", envOr("CAMPUSVOTE_POSTGRES_DSN", ""), "PostgreSQL DSN")
	workers := fs.Int("workers", 4, "elections reconciled in parallel")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dsn == "" {
		return errors.New("missing DSN: provide via -dsn or CAMPUSVOTE_POSTGRES_DSN")
	}

	store, err := pg.Open(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc := election.NewService(store, store, election.WithReconcilerOptions(election.WithWorkers(*workers)))
	reports, err := svc.Reconciler().ReconcileAll(ctx)
	printReports(reports)
	return err
}

func printReports(reports []election.Report) {
	drifted := 0
	for _, rep := range reports {
		if !rep.Drifted() {
			continue
		}
		drifted++
		color.Yellow("election %s: %d counter(s) repaired", rep.ElectionID, len(rep.Repairs))
		for _, r := range rep.Repairs {
			color.White("  participant %s: counter %d -> ledger %d", r.ParticipantID, r.Counter, r.Ledger)
		}
	}
	if drifted == 0 {
		color.Green("✓ %d election(s) checked, no drift", len(reports))
		return
	}
	color.Cyan("%d of %d election(s) repaired", drifted, len(reports))
}
