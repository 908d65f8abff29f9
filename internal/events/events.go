// Package events carries vote and reconciliation events over Kafka.
package events

import (
	"time"

	"campusvote.org/internal/election"
)

const (
	TypeVoteCast         = "vote.cast"
	TypeReconcileRequest = "election.reconcile_requested"
)

// VoteCast is emitted after a vote is recorded and counted.
type VoteCast struct {
	Type          string    `json:"type"`
	VoteID        string    `json:"voteId"`
	ElectionID    string    `json:"electionId"`
	VoterID       string    `json:"voterId"`
	ParticipantID string    `json:"participantId"`
	CastAt        time.Time `json:"castAt"`
}

func voteCastFrom(v election.Vote) VoteCast {
	return VoteCast{
		Type:          TypeVoteCast,
		VoteID:        v.ID,
		ElectionID:    v.ElectionID,
		VoterID:       v.VoterID,
		ParticipantID: v.ParticipantID,
		CastAt:        v.CastAt,
	}
}

// ReconcileRequest asks any instance to repair an election's counters.
type ReconcileRequest struct {
	Type        string    `json:"type"`
	ElectionID  string    `json:"electionId"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requestedAt"`
}
