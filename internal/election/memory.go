package election

import (
	"context"
	"sort"
	"sync"

	"campusvote.org/internal/identity"
)

type voteKey struct {
	electionID string
	voterID    string
}

// InMemory implements ElectionStore, VoteLedger, Committer and Reconcilable
// with in-process concurrency safety.
type InMemory struct {
	mu        sync.RWMutex
	elections map[string]*Election
	votes     map[voteKey]Vote
}

var (
	_ ElectionStore = (*InMemory)(nil)
	_ VoteLedger    = (*InMemory)(nil)
	_ Committer     = (*InMemory)(nil)
	_ Reconcilable  = (*InMemory)(nil)
)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		elections: make(map[string]*Election),
		votes:     make(map[voteKey]Vote),
	}
}

func (s *InMemory) CreateElection(ctx context.Context, e Election) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.elections[e.ID]; ok {
		return validationf("election %s already exists", e.ID)
	}
	c := e.clone()
	s.elections[e.ID] = &c
	return nil
}

func (s *InMemory) GetElection(ctx context.Context, id string) (Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elections[id]
	if !ok {
		return Election{}, notFoundf("election %s", id)
	}
	return e.clone(), nil
}

func (s *InMemory) ListElectionsByAdmin(ctx context.Context, adminID string) ([]Election, error) {
	return s.filter(func(e *Election) bool { return e.CreatedBy == adminID }), nil
}

func (s *InMemory) ListElectionsByEnrollment(ctx context.Context, key identity.Enrollment) ([]Election, error) {
	return s.filter(func(e *Election) bool { return e.Enrollment().Matches(key) }), nil
}

func (s *InMemory) ListElectionIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.elections))
	for id := range s.elections {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemory) filter(keep func(*Election) bool) []Election {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Election
	for _, e := range s.elections {
		if keep(e) {
			out = append(out, e.clone())
		}
	}
	return out
}

func (s *InMemory) CloseElection(ctx context.Context, id, adminID string) (Election, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[id]
	if !ok || e.CreatedBy != adminID {
		return Election{}, false, notFoundf("election %s", id)
	}
	changed := e.IsActive
	e.IsActive = false
	return e.clone(), changed, nil
}

// DeleteElection removes the election only; its votes stay in the ledger.
func (s *InMemory) DeleteElection(ctx context.Context, id, adminID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[id]
	if !ok || e.CreatedBy != adminID {
		return notFoundf("election %s", id)
	}
	delete(s.elections, id)
	return nil
}

func (s *InMemory) IncrementParticipantVote(ctx context.Context, electionID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.participantLocked(electionID, participantID)
	if err != nil {
		return err
	}
	p.Votes++
	return nil
}

func (s *InMemory) participantLocked(electionID, participantID string) (*Participant, error) {
	e, ok := s.elections[electionID]
	if !ok {
		return nil, notFoundf("election %s", electionID)
	}
	for i := range e.Participants {
		if e.Participants[i].ID == participantID {
			return &e.Participants[i], nil
		}
	}
	return nil, ErrInvalidCandidate
}

func (s *InMemory) HasVoted(ctx context.Context, electionID, voterID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.votes[voteKey{electionID, voterID}]
	return ok, nil
}

func (s *InMemory) RecordVote(ctx context.Context, v Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := voteKey{v.ElectionID, v.VoterID}
	if _, ok := s.votes[k]; ok {
		return ErrDuplicateVote
	}
	s.votes[k] = v
	return nil
}

// CommitVote records v and increments its participant under one lock.
// Closed elections are rechecked under the same lock.
func (s *InMemory) CommitVote(ctx context.Context, v Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := voteKey{v.ElectionID, v.VoterID}
	if _, ok := s.votes[k]; ok {
		return ErrDuplicateVote
	}
	p, err := s.participantLocked(v.ElectionID, v.ParticipantID)
	if err != nil {
		return err
	}
	if !s.elections[v.ElectionID].IsActive {
		return forbiddenf("election %s is closed", v.ElectionID)
	}
	s.votes[k] = v
	p.Votes++
	return nil
}

func (s *InMemory) CountVotes(ctx context.Context, electionID string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(electionID), nil
}

func (s *InMemory) countLocked(electionID string) map[string]int64 {
	counts := make(map[string]int64)
	for k, v := range s.votes {
		if k.electionID == electionID {
			counts[v.ParticipantID]++
		}
	}
	return counts
}

func (s *InMemory) ReconcileCounters(ctx context.Context, electionID string) ([]Repair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[electionID]
	if !ok {
		return nil, notFoundf("election %s", electionID)
	}
	counts := s.countLocked(electionID)
	var repairs []Repair
	for i := range e.Participants {
		p := &e.Participants[i]
		if want := counts[p.ID]; p.Votes != want {
			repairs = append(repairs, Repair{ParticipantID: p.ID, Counter: p.Votes, Ledger: want})
			p.Votes = want
		}
	}
	return repairs, nil
}
