package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"campusvote.org/internal/election"
	"campusvote.org/internal/identity"
	"campusvote.org/internal/ids"
)

const selectElections = `
	select e.id, e.title, e.section, e.year, e.start_time, e.end_time, e.is_active, e.created_by, e.created_at,
	       p.id, p.candidate_id, p.name, p.votes
	from elections e
	left join election_participants p on p.election_id = e.id`

const orderElections = `
	order by e.created_at desc, e.id desc, p.position asc`

func (s *Store) CreateElection(ctx context.Context, e election.Election) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into elections(id, title, section, year, start_time, end_time, is_active, created_by, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.Title, e.Section, e.Year, e.StartTime, e.EndTime, e.IsActive, e.CreatedBy, e.CreatedAt); err != nil {
		return err
	}
	for i, p := range e.Participants {
		if _, err := tx.ExecContext(ctx, `
			insert into election_participants(election_id, id, position, candidate_id, name, votes)
			values ($1,$2,$3,$4,$5,$6)
		`, e.ID, p.ID, i, p.CandidateID, p.Name, p.Votes); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetElection(ctx context.Context, id string) (election.Election, error) {
	if !ids.Valid(id) {
		return election.Election{}, fmt.Errorf("%w: election %s", election.ErrNotFound, id)
	}
	out, err := s.queryElections(ctx, selectElections+` where e.id = $1`+orderElections, id)
	if err != nil {
		return election.Election{}, err
	}
	if len(out) == 0 {
		return election.Election{}, fmt.Errorf("%w: election %s", election.ErrNotFound, id)
	}
	return out[0], nil
}

func (s *Store) ListElectionsByAdmin(ctx context.Context, adminID string) ([]election.Election, error) {
	return s.queryElections(ctx, selectElections+` where e.created_by = $1`+orderElections, adminID)
}

func (s *Store) ListElectionsByEnrollment(ctx context.Context, key identity.Enrollment) ([]election.Election, error) {
	return s.queryElections(ctx, selectElections+` where e.section = $1 and e.year = $2`+orderElections, key.Section, key.Year)
}

func (s *Store) ListElectionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select id from elections order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// queryElections folds the election/participant join into elections, keeping row order.
func (s *Store) queryElections(ctx context.Context, query string, args ...any) ([]election.Election, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []election.Election
	index := make(map[string]int)
	for rows.Next() {
		var (
			e                       election.Election
			pid, candidateID, pname sql.NullString
			pvotes                  sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Section, &e.Year, &e.StartTime, &e.EndTime, &e.IsActive,
			&e.CreatedBy, &e.CreatedAt, &pid, &candidateID, &pname, &pvotes); err != nil {
			return nil, err
		}
		i, seen := index[e.ID]
		if !seen {
			e.Participants = []election.Participant{}
			out = append(out, e)
			i = len(out) - 1
			index[e.ID] = i
		}
		if pid.Valid {
			out[i].Participants = append(out[i].Participants, election.Participant{
				ID:          pid.String,
				CandidateID: candidateID.String,
				Name:        pname.String,
				Votes:       pvotes.Int64,
			})
		}
	}
	return out, rows.Err()
}

func (s *Store) CloseElection(ctx context.Context, id, adminID string) (election.Election, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return election.Election{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var active bool
	err = tx.QueryRowContext(ctx, `select is_active from elections where id=$1 and created_by=$2 for update`, id, adminID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return election.Election{}, false, fmt.Errorf("%w: election %s", election.ErrNotFound, id)
	}
	if err != nil {
		return election.Election{}, false, err
	}
	if active {
		if _, err := tx.ExecContext(ctx, `update elections set is_active = false where id=$1`, id); err != nil {
			return election.Election{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return election.Election{}, false, err
	}

	e, err := s.GetElection(ctx, id)
	if err != nil {
		return election.Election{}, false, err
	}
	return e, active, nil
}

// DeleteElection removes the election and its participants. Votes are left in place.
func (s *Store) DeleteElection(ctx context.Context, id, adminID string) error {
	res, err := s.db.ExecContext(ctx, `delete from elections where id=$1 and created_by=$2`, id, adminID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: election %s", election.ErrNotFound, id)
	}
	return nil
}

func (s *Store) IncrementParticipantVote(ctx context.Context, electionID, participantID string) error {
	res, err := s.db.ExecContext(ctx, `
		update election_participants set votes = votes + 1
		where election_id=$1 and id=$2
	`, electionID, participantID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.missingParticipant(ctx, s.db, electionID, participantID)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) missingParticipant(ctx context.Context, q queryRower, electionID, participantID string) error {
	var one int
	err := q.QueryRowContext(ctx, `select 1 from elections where id=$1`, electionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: election %s", election.ErrNotFound, electionID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: participant %s is not part of election %s", election.ErrInvalidCandidate, participantID, electionID)
}
