package election

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"campusvote.org/internal/obs"
)

const reconcilerLockName = "campusvote/reconciler"

// Repair describes one counter rewritten to match the ledger.
type Repair struct {
	ParticipantID string `json:"participantId"`
	Counter       int64  `json:"counter"`
	Ledger        int64  `json:"ledger"`
}

// Report is the outcome of reconciling one election.
type Report struct {
	ElectionID string    `json:"electionId"`
	Repairs    []Repair  `json:"repairs"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Drifted reports whether any counter had to be rewritten.
func (r Report) Drifted() bool { return len(r.Repairs) > 0 }

// Reconciler recomputes participant counters from the vote ledger.
type Reconciler struct {
	store     Reconcilable
	elections ElectionStore
	pending   *pendingSet
	locker    Locker
	onRepair  func(ctx context.Context, electionID string)
	now       func() time.Time
	interval  time.Duration
	workers   int
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithLocker makes each periodic round conditional on holding a shared lock.
func WithLocker(l Locker) ReconcilerOption {
	return func(r *Reconciler) { r.locker = l }
}

// WithInterval sets the period used by Run.
func WithInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithWorkers bounds the number of elections reconciled concurrently.
func WithWorkers(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.workers = n
		}
	}
}

func newReconciler(store Reconcilable, elections ElectionStore, pending *pendingSet, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:     store,
		elections: elections,
		pending:   pending,
		now:       time.Now,
		interval:  time.Minute,
		workers:   4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile repairs the counters of one election.
func (r *Reconciler) Reconcile(ctx context.Context, electionID string) (Report, error) {
	cleared := r.pending.keys(electionID)
	repairs, err := r.store.ReconcileCounters(ctx, electionID)
	if err != nil {
		return Report{}, err
	}
	r.pending.remove(cleared)

	report := Report{ElectionID: electionID, Repairs: repairs, CheckedAt: r.now().UTC()}
	if report.Drifted() {
		obs.RecordDriftRepairs(len(repairs))
		for _, rep := range repairs {
			obs.Logger().WithFields(logrus.Fields{
				"election_id":    electionID,
				"participant_id": rep.ParticipantID,
				"counter":        rep.Counter,
				"ledger":         rep.Ledger,
			}).Warn("tally drift repaired")
		}
		if r.onRepair != nil {
			r.onRepair(ctx, electionID)
		}
	}
	return report, nil
}

// ReconcileAll reconciles every stored election. Elections deleted mid-run are skipped.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]Report, error) {
	electionIDs, err := r.elections.ListElectionIDs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		reports = make([]Report, 0, len(electionIDs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, id := range electionIDs {
		g.Go(func() error {
			rep, err := r.Reconcile(gctx, id)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			reports = append(reports, rep)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

// Run reconciles all elections every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.round(ctx); err != nil && ctx.Err() == nil {
				obs.Logger().WithError(err).Error("reconciliation round failed")
			}
		}
	}
}

func (r *Reconciler) round(ctx context.Context) error {
	if r.locker != nil {
		ok, err := r.locker.TryLock(ctx, reconcilerLockName)
		if err != nil {
			return err
		}
		if !ok {
			obs.Logger().Debug("reconciler lock held elsewhere; skipping round")
			return nil
		}
		defer func() {
			if err := r.locker.Unlock(context.WithoutCancel(ctx), reconcilerLockName); err != nil {
				obs.Logger().WithError(err).Warn("release reconciler lock")
			}
		}()
	}

	reports, err := r.ReconcileAll(ctx)
	drifted := 0
	for _, rep := range reports {
		if rep.Drifted() {
			drifted++
		}
	}
	obs.Logger().WithFields(logrus.Fields{
		"elections": len(reports),
		"drifted":   drifted,
	}).Debug("reconciliation round complete")
	return err
}
