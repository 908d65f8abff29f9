package election

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrDuplicateVote    = errors.New("already voted")
	ErrInvalidCandidate = errors.New("invalid candidate")
	ErrPartialCommit    = errors.New("vote recorded but tally not updated")

	// ErrReconcileUnsupported is returned when the store cannot recount votes.
	ErrReconcileUnsupported = errors.New("reconciliation not supported by store")
)

// Kind is the stable, client-facing name of an error class.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindDuplicateVote    Kind = "duplicate_vote"
	KindInvalidCandidate Kind = "invalid_candidate"
	KindPartialCommit    Kind = "partial_commit"
	KindInternal         Kind = "internal"
)

// KindOf classifies err. Partial commits are checked first since they may wrap other kinds.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPartialCommit):
		return KindPartialCommit
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrDuplicateVote):
		return KindDuplicateVote
	case errors.Is(err, ErrInvalidCandidate):
		return KindInvalidCandidate
	default:
		return KindInternal
	}
}

// PartialCommitError reports a vote that is in the ledger but not yet reflected
// in its participant counter. Pending is set when the error is returned for a
// retry by the same voter while reconciliation has not run yet.
type PartialCommitError struct {
	ElectionID    string
	VoterID       string
	ParticipantID string
	VoteID        string
	Pending       bool
	Cause         error
}

func (e *PartialCommitError) Error() string {
	if e.Pending {
		return fmt.Sprintf("vote %s already recorded in election %s; tally reconciliation pending", e.VoteID, e.ElectionID)
	}
	return fmt.Sprintf("vote %s recorded in election %s but counter for participant %s was not incremented: %v",
		e.VoteID, e.ElectionID, e.ParticipantID, e.Cause)
}

func (e *PartialCommitError) Unwrap() error { return e.Cause }

func (e *PartialCommitError) Is(target error) bool { return target == ErrPartialCommit }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
