package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"campusvote.org/internal/election"
)

func (s *Store) HasVoted(ctx context.Context, electionID, voterID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from votes where election_id=$1 and voter_id=$2)
	`, electionID, voterID).Scan(&exists)
	return exists, err
}

// RecordVote inserts v; the (election_id, voter_id) unique constraint rejects a second vote.
func (s *Store) RecordVote(ctx context.Context, v election.Vote) error {
	_, err := s.db.ExecContext(ctx, `
		insert into votes(id, election_id, voter_id, participant_id, cast_at)
		values ($1,$2,$3,$4,$5)
	`, v.ID, v.ElectionID, v.VoterID, v.ParticipantID, v.CastAt)
	if isDuplicateVote(err) {
		return election.ErrDuplicateVote
	}
	return err
}

// CommitVote records v and bumps its participant counter in one transaction.
// The election row is share-locked so a concurrent close waits for, or
// excludes, the cast.
func (s *Store) CommitVote(ctx context.Context, v election.Vote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var active bool
	err = tx.QueryRowContext(ctx, `select is_active from elections where id=$1 for share`, v.ElectionID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: election %s", election.ErrNotFound, v.ElectionID)
	}
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("%w: election %s is closed", election.ErrForbidden, v.ElectionID)
	}

	if _, err := tx.ExecContext(ctx, `
		insert into votes(id, election_id, voter_id, participant_id, cast_at)
		values ($1,$2,$3,$4,$5)
	`, v.ID, v.ElectionID, v.VoterID, v.ParticipantID, v.CastAt); err != nil {
		if isDuplicateVote(err) {
			return election.ErrDuplicateVote
		}
		return err
	}

	res, err := tx.ExecContext(ctx, `
		update election_participants set votes = votes + 1
		where election_id=$1 and id=$2
	`, v.ElectionID, v.ParticipantID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: participant %s is not part of election %s", election.ErrInvalidCandidate, v.ParticipantID, v.ElectionID)
	}
	return tx.Commit()
}

func (s *Store) CountVotes(ctx context.Context, electionID string) (map[string]int64, error) {
	return countVotes(ctx, s.db, electionID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func countVotes(ctx context.Context, q queryer, electionID string) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx, `
		select participant_id, count(*) from votes where election_id=$1 group by participant_id
	`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var pid string
		var n int64
		if err := rows.Scan(&pid, &n); err != nil {
			return nil, err
		}
		counts[pid] = n
	}
	return counts, rows.Err()
}

// ReconcileCounters locks the election's participant rows before counting, so
// casts that already incremented are visible and casts still in flight apply
// their increment on top of the repaired value.
func (s *Store) ReconcileCounters(ctx context.Context, electionID string) ([]election.Repair, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `select 1 from elections where id=$1 for share`, electionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: election %s", election.ErrNotFound, electionID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		select id, votes from election_participants
		where election_id=$1 order by position for update
	`, electionID)
	if err != nil {
		return nil, err
	}
	type counter struct {
		id    string
		votes int64
	}
	var counters []counter
	for rows.Next() {
		var c counter
		if err := rows.Scan(&c.id, &c.votes); err != nil {
			rows.Close()
			return nil, err
		}
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	counts, err := countVotes(ctx, tx, electionID)
	if err != nil {
		return nil, err
	}

	var repairs []election.Repair
	for _, c := range counters {
		want := counts[c.id]
		if c.votes == want {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			update election_participants set votes=$3 where election_id=$1 and id=$2
		`, electionID, c.id, want); err != nil {
			return nil, err
		}
		repairs = append(repairs, election.Repair{ParticipantID: c.id, Counter: c.votes, Ledger: want})
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return repairs, nil
}
