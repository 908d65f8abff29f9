package election

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"campusvote.org/internal/audit"
	"campusvote.org/internal/identity"
	"campusvote.org/internal/ids"
	"campusvote.org/internal/obs"
)

// CastVote records caller's vote for participantID and counts it.
//
// The election and participant are resolved first, then eligibility is checked.
// The ledger's uniqueness on (election, voter) is the only duplicate guard that
// matters; the cache and HasVoted lookups merely fail fast. When the ledger
// implements Committer the record and the increment happen atomically.
// Otherwise a failed increment after a successful record returns a
// *PartialCommitError and schedules reconciliation.
func (s *Service) CastVote(ctx context.Context, caller identity.Identity, electionID, participantID string) (Vote, error) {
	v, err := s.castVote(ctx, caller, electionID, participantID)
	if err != nil {
		obs.RecordVoteRejected(string(KindOf(err)))
		return Vote{}, err
	}
	obs.RecordVoteCast()
	return v, nil
}

func (s *Service) castVote(ctx context.Context, caller identity.Identity, electionID, participantID string) (Vote, error) {
	if caller == nil {
		return Vote{}, forbiddenf("caller identity is required")
	}
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return Vote{}, validationf("participantId is required")
	}

	e, err := s.elections.GetElection(ctx, electionID)
	if err != nil {
		return Vote{}, err
	}
	if _, ok := e.Participant(participantID); !ok {
		return Vote{}, fmt.Errorf("%w: participant %s is not part of election %s", ErrInvalidCandidate, participantID, e.ID)
	}
	if !CanVote(caller, e) {
		if CanView(caller, e) {
			return Vote{}, forbiddenf("election %s is closed", e.ID)
		}
		return Vote{}, forbiddenf("not eligible to vote in election %s", e.ID)
	}

	voterID := caller.ID()
	if err := s.precheck(ctx, e.ID, voterID); err != nil {
		return Vote{}, err
	}

	v := Vote{
		ID:            ids.New(),
		ElectionID:    e.ID,
		VoterID:       voterID,
		ParticipantID: participantID,
		CastAt:        s.now().UTC(),
	}
	if c, ok := s.votes.(Committer); ok {
		if err := c.CommitVote(ctx, v); err != nil {
			return Vote{}, s.duplicateOrPending(err, e.ID, voterID)
		}
	} else {
		if err := s.votes.RecordVote(ctx, v); err != nil {
			return Vote{}, s.duplicateOrPending(err, e.ID, voterID)
		}
		if err := s.elections.IncrementParticipantVote(ctx, e.ID, participantID); err != nil {
			return Vote{}, s.partialCommit(ctx, v, err)
		}
	}

	s.afterCast(ctx, v)
	return v, nil
}

func (s *Service) precheck(ctx context.Context, electionID, voterID string) error {
	marked, err := s.cache.HasVoted(ctx, electionID, voterID)
	if err != nil {
		obs.Logger().WithError(err).Warn("voter marker lookup")
	}
	if !marked {
		if marked, err = s.votes.HasVoted(ctx, electionID, voterID); err != nil {
			obs.Logger().WithError(err).Warn("ledger pre-check")
			return nil
		}
	}
	if marked {
		return s.duplicateOrPending(ErrDuplicateVote, electionID, voterID)
	}
	return nil
}

// duplicateOrPending tells a retry after a partial commit apart from a real duplicate.
func (s *Service) duplicateOrPending(err error, electionID, voterID string) error {
	if !errors.Is(err, ErrDuplicateVote) {
		return err
	}
	if pce, ok := s.pending.lookup(electionID, voterID); ok {
		return pce
	}
	return fmt.Errorf("%w: voter %s in election %s", ErrDuplicateVote, voterID, electionID)
}

func (s *Service) partialCommit(ctx context.Context, v Vote, cause error) error {
	pce := &PartialCommitError{
		ElectionID:    v.ElectionID,
		VoterID:       v.VoterID,
		ParticipantID: v.ParticipantID,
		VoteID:        v.ID,
		Cause:         cause,
	}
	s.pending.add(pce)
	obs.RecordPartialCommit()

	bg := context.WithoutCancel(ctx)
	obs.Logger().WithFields(logrus.Fields{
		"election_id":    v.ElectionID,
		"participant_id": v.ParticipantID,
		"vote_id":        v.ID,
		"error":          cause.Error(),
	}).Error("vote recorded without counter increment")
	_ = audit.LogEvent(bg, "vote.partial_commit", map[string]any{
		"election_id":    v.ElectionID,
		"participant_id": v.ParticipantID,
		"vote_id":        v.ID,
	})
	if err := s.cache.MarkVoted(bg, v.ElectionID, v.VoterID); err != nil {
		obs.Logger().WithError(err).Warn("mark voter after partial commit")
	}
	if err := s.events.PublishReconcileRequest(bg, v.ElectionID, "partial_commit"); err != nil {
		obs.Logger().WithError(err).WithField("election_id", v.ElectionID).Warn("publish reconcile request")
	}
	return pce
}

func (s *Service) afterCast(ctx context.Context, v Vote) {
	bg := context.WithoutCancel(ctx)
	if err := s.cache.MarkVoted(bg, v.ElectionID, v.VoterID); err != nil {
		obs.Logger().WithError(err).Warn("mark voter")
	}
	s.dropCachedResults(bg, v.ElectionID)
	if err := s.events.PublishVoteCast(bg, v); err != nil {
		obs.Logger().WithError(err).WithField("election_id", v.ElectionID).Warn("publish vote cast")
	}
	_ = audit.LogEvent(ctx, "vote.cast", map[string]any{
		"election_id":    v.ElectionID,
		"participant_id": v.ParticipantID,
		"vote_id":        v.ID,
	})
}
