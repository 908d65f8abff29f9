package election

import (
	"context"

	"campusvote.org/internal/identity"
)

// ElectionStore persists elections with their embedded participants.
// Close and Delete are scoped to the owning admin and report ErrNotFound otherwise.
type ElectionStore interface {
	CreateElection(ctx context.Context, e Election) error
	GetElection(ctx context.Context, id string) (Election, error)
	ListElectionsByAdmin(ctx context.Context, adminID string) ([]Election, error)
	ListElectionsByEnrollment(ctx context.Context, key identity.Enrollment) ([]Election, error)
	ListElectionIDs(ctx context.Context) ([]string, error)
	// CloseElection returns the closed election and whether this call changed it.
	CloseElection(ctx context.Context, id, adminID string) (Election, bool, error)
	DeleteElection(ctx context.Context, id, adminID string) error
	// IncrementParticipantVote adds one to the counter as a single storage-level operation.
	IncrementParticipantVote(ctx context.Context, electionID, participantID string) error
}

// VoteLedger is the source of truth for who voted where.
type VoteLedger interface {
	HasVoted(ctx context.Context, electionID, voterID string) (bool, error)
	// RecordVote fails with ErrDuplicateVote when (ElectionID, VoterID) exists.
	RecordVote(ctx context.Context, v Vote) error
	// CountVotes returns ledger counts keyed by participant id.
	CountVotes(ctx context.Context, electionID string) (map[string]int64, error)
}

// Committer records a vote and increments its participant counter atomically.
type Committer interface {
	CommitVote(ctx context.Context, v Vote) error
}

// Reconcilable rewrites counters that drifted from ledger counts, serialized
// against concurrent commits for the same election.
type Reconcilable interface {
	ReconcileCounters(ctx context.Context, electionID string) ([]Repair, error)
}

// Cache holds derived results and voter markers. Every method is advisory.
type Cache interface {
	GetResults(ctx context.Context, electionID string) (Results, bool, error)
	SetResults(ctx context.Context, r Results) error
	InvalidateResults(ctx context.Context, electionID string) error
	MarkVoted(ctx context.Context, electionID, voterID string) error
	HasVoted(ctx context.Context, electionID, voterID string) (bool, error)
	ForgetElection(ctx context.Context, electionID string) error
}

// Publisher emits domain events to other processes.
type Publisher interface {
	PublishVoteCast(ctx context.Context, v Vote) error
	PublishReconcileRequest(ctx context.Context, electionID, reason string) error
}

// Locker guards work that only one instance should run at a time.
type Locker interface {
	TryLock(ctx context.Context, name string) (bool, error)
	Unlock(ctx context.Context, name string) error
}

type nopCache struct{}

func (nopCache) GetResults(context.Context, string) (Results, bool, error) { return Results{}, false, nil }
func (nopCache) SetResults(context.Context, Results) error                  { return nil }
func (nopCache) InvalidateResults(context.Context, string) error            { return nil }
func (nopCache) MarkVoted(context.Context, string, string) error            { return nil }
func (nopCache) HasVoted(context.Context, string, string) (bool, error)     { return false, nil }
func (nopCache) ForgetElection(context.Context, string) error               { return nil }

type nopPublisher struct{}

func (nopPublisher) PublishVoteCast(context.Context, Vote) error                  { return nil }
func (nopPublisher) PublishReconcileRequest(context.Context, string, string) error { return nil }
