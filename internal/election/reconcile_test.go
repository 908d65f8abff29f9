package election

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusvote.org/internal/identity"
)

// twoStepStore hides CommitVote so the service records and increments separately.
type twoStepStore struct {
	mem           *InMemory
	mu            sync.Mutex
	failIncrement error
}

func (s *twoStepStore) setFailure(err error) {
	s.mu.Lock()
	s.failIncrement = err
	s.mu.Unlock()
}

func (s *twoStepStore) CreateElection(ctx context.Context, e Election) error {
	return s.mem.CreateElection(ctx, e)
}
func (s *twoStepStore) GetElection(ctx context.Context, id string) (Election, error) {
	return s.mem.GetElection(ctx, id)
}
func (s *twoStepStore) ListElectionsByAdmin(ctx context.Context, adminID string) ([]Election, error) {
	return s.mem.ListElectionsByAdmin(ctx, adminID)
}
func (s *twoStepStore) ListElectionsByEnrollment(ctx context.Context, key identity.Enrollment) ([]Election, error) {
	return s.mem.ListElectionsByEnrollment(ctx, key)
}
func (s *twoStepStore) ListElectionIDs(ctx context.Context) ([]string, error) {
	return s.mem.ListElectionIDs(ctx)
}
func (s *twoStepStore) CloseElection(ctx context.Context, id, adminID string) (Election, bool, error) {
	return s.mem.CloseElection(ctx, id, adminID)
}
func (s *twoStepStore) DeleteElection(ctx context.Context, id, adminID string) error {
	return s.mem.DeleteElection(ctx, id, adminID)
}
func (s *twoStepStore) IncrementParticipantVote(ctx context.Context, electionID, participantID string) error {
	s.mu.Lock()
	err := s.failIncrement
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.mem.IncrementParticipantVote(ctx, electionID, participantID)
}
func (s *twoStepStore) HasVoted(ctx context.Context, electionID, voterID string) (bool, error) {
	return s.mem.HasVoted(ctx, electionID, voterID)
}
func (s *twoStepStore) RecordVote(ctx context.Context, v Vote) error {
	return s.mem.RecordVote(ctx, v)
}
func (s *twoStepStore) CountVotes(ctx context.Context, electionID string) (map[string]int64, error) {
	return s.mem.CountVotes(ctx, electionID)
}
func (s *twoStepStore) ReconcileCounters(ctx context.Context, electionID string) ([]Repair, error) {
	return s.mem.ReconcileCounters(ctx, electionID)
}

type recordingPublisher struct {
	mu         sync.Mutex
	casts      []Vote
	reconciles []string
}

func (p *recordingPublisher) PublishVoteCast(_ context.Context, v Vote) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.casts = append(p.casts, v)
	return nil
}

func (p *recordingPublisher) PublishReconcileRequest(_ context.Context, electionID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconciles = append(p.reconciles, electionID)
	return nil
}

func TestPartialCommitIsSurfacedAndRepairedOnRead(t *testing.T) {
	store := &twoStepStore{mem: NewInMemory()}
	pub := &recordingPublisher{}
	svc := NewService(store, store, WithPublisher(pub))
	ctx := context.Background()

	e, err := svc.CreateElection(ctx, admin, validSpec())
	require.NoError(t, err)
	pid := e.Participants[0].ID

	store.setFailure(errors.New("connection reset"))
	_, err = svc.CastVote(ctx, studentB2, e.ID, pid)
	var pce *PartialCommitError
	require.ErrorAs(t, err, &pce)
	assert.False(t, pce.Pending)
	assert.Equal(t, KindPartialCommit, KindOf(err))
	assert.Equal(t, []string{e.ID}, pub.reconciles)
	assert.Empty(t, pub.casts)

	store.setFailure(nil)
	_, err = svc.CastVote(ctx, studentB2, e.ID, pid)
	require.ErrorAs(t, err, &pce)
	assert.True(t, pce.Pending, "retry should report pending reconciliation")

	res, err := svc.Results(ctx, studentB2, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TotalVotes)

	_, err = svc.CastVote(ctx, studentB2, e.ID, pid)
	require.ErrorIs(t, err, ErrDuplicateVote)
	assert.NotErrorIs(t, err, ErrPartialCommit)
}

func TestReconcileAllRepairsDrift(t *testing.T) {
	store := &twoStepStore{mem: NewInMemory()}
	svc := NewService(store, store)
	ctx := context.Background()

	e, err := svc.CreateElection(ctx, admin, validSpec())
	require.NoError(t, err)
	store.setFailure(errors.New("timeout"))
	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := svc.CastVote(ctx, identity.Student{UserID: id, Section: "B", Year: "2"}, e.ID, e.Participants[1].ID)
		require.ErrorIs(t, err, ErrPartialCommit)
	}
	store.setFailure(nil)

	reports, err := svc.Reconciler().ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.True(t, reports[0].Drifted())
	assert.Equal(t, Repair{ParticipantID: e.Participants[1].ID, Counter: 0, Ledger: 3}, reports[0].Repairs[0])

	again, err := svc.Reconciler().ReconcileAll(ctx)
	require.NoError(t, err)
	assert.False(t, again[0].Drifted())
}

func TestReconcileRequiresOwner(t *testing.T) {
	svc, _ := newTestService(t)
	e := mustCreate(t, svc)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, otherAdmin, e.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Reconcile(ctx, studentB2, e.ID)
	require.ErrorIs(t, err, ErrForbidden)

	rep, err := svc.Reconcile(ctx, admin, e.ID)
	require.NoError(t, err)
	assert.False(t, rep.Drifted())
}

type stubLocker struct {
	grant    bool
	acquired int
	released int
}

func (l *stubLocker) TryLock(context.Context, string) (bool, error) {
	l.acquired++
	return l.grant, nil
}

func (l *stubLocker) Unlock(context.Context, string) error {
	l.released++
	return nil
}

func TestReconcilerRoundHonoursLock(t *testing.T) {
	store := &twoStepStore{mem: NewInMemory()}
	held := &stubLocker{grant: false}
	svc := NewService(store, store, WithReconcilerOptions(WithLocker(held)))
	ctx := context.Background()

	e, err := svc.CreateElection(ctx, admin, validSpec())
	require.NoError(t, err)
	store.setFailure(errors.New("boom"))
	_, err = svc.CastVote(ctx, studentB2, e.ID, e.Participants[0].ID)
	require.ErrorIs(t, err, ErrPartialCommit)
	store.setFailure(nil)

	require.NoError(t, svc.Reconciler().round(ctx))
	got, _ := store.GetElection(ctx, e.ID)
	assert.Zero(t, got.Participants[0].Votes, "round must not run without the lock")
	assert.Zero(t, held.released)

	held.grant = true
	require.NoError(t, svc.Reconciler().round(ctx))
	got, _ = store.GetElection(ctx, e.ID)
	assert.Equal(t, int64(1), got.Participants[0].Votes)
	assert.Equal(t, 1, held.released)
}

func TestHandleReconcileRequestIgnoresDeletedElections(t *testing.T) {
	svc, _ := newTestService(t)
	require.NoError(t, svc.HandleReconcileRequest(context.Background(), "gone"))
}
