package pg

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusvote.org/internal/election"
	"campusvote.org/internal/ids"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

func sampleVote() election.Vote {
	return election.Vote{
		ID:            ids.New(),
		ElectionID:    ids.New(),
		VoterID:       "stu-1",
		ParticipantID: ids.New(),
		CastAt:        time.Now().UTC(),
	}
}

func TestCommitVote(t *testing.T) {
	store, mock := newMockStore(t)
	v := sampleVote()

	mock.ExpectBegin()
	mock.ExpectQuery("select is_active from elections where id=\\$1 for share").
		WithArgs(v.ElectionID).
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))
	mock.ExpectExec("insert into votes").
		WithArgs(v.ID, v.ElectionID, v.VoterID, v.ParticipantID, v.CastAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update election_participants set votes = votes \\+ 1").
		WithArgs(v.ElectionID, v.ParticipantID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.CommitVote(context.Background(), v))
}

func TestCommitVoteDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	v := sampleVote()

	mock.ExpectBegin()
	mock.ExpectQuery("select is_active from elections").
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))
	mock.ExpectExec("insert into votes").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: votesUniqueVoter})
	mock.ExpectRollback()

	assert.ErrorIs(t, store.CommitVote(context.Background(), v), election.ErrDuplicateVote)
}

func TestCommitVoteClosedOrMissingElection(t *testing.T) {
	store, mock := newMockStore(t)
	v := sampleVote()

	mock.ExpectBegin()
	mock.ExpectQuery("select is_active from elections").
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(false))
	mock.ExpectRollback()
	assert.ErrorIs(t, store.CommitVote(context.Background(), v), election.ErrForbidden, "closed election")

	mock.ExpectBegin()
	mock.ExpectQuery("select is_active from elections").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()
	assert.ErrorIs(t, store.CommitVote(context.Background(), v), election.ErrNotFound)
}

func TestCommitVoteUnknownParticipantRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	v := sampleVote()

	mock.ExpectBegin()
	mock.ExpectQuery("select is_active from elections").
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))
	mock.ExpectExec("insert into votes").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update election_participants").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, store.CommitVote(context.Background(), v), election.ErrInvalidCandidate)
}

func TestRecordVoteDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into votes").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: votesUniqueVoter})

	assert.ErrorIs(t, store.RecordVote(context.Background(), sampleVote()), election.ErrDuplicateVote)
}

func TestRecordVoteOtherUniqueViolationIsNotDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into votes").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "votes_pkey"})

	err := store.RecordVote(context.Background(), sampleVote())
	require.Error(t, err)
	assert.NotErrorIs(t, err, election.ErrDuplicateVote, "primary key clash is not a duplicate vote")
}

var electionColumns = []string{
	"id", "title", "section", "year", "start_time", "end_time", "is_active", "created_by", "created_at",
	"id", "candidate_id", "name", "votes",
}

func TestGetElectionFoldsParticipants(t *testing.T) {
	store, mock := newMockStore(t)
	id := ids.New()
	now := time.Now().UTC()

	mock.ExpectQuery("from elections e\\s+left join election_participants p").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(electionColumns).
			AddRow(id, "Rep", "A", "2", now, now.Add(time.Hour), true, "admin-1", now, "p1", "c1", "Ada", int64(3)).
			AddRow(id, "Rep", "A", "2", now, now.Add(time.Hour), true, "admin-1", now, "p2", "c2", "Grace", int64(1)))

	e, err := store.GetElection(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, e.Participants, 2)
	assert.Equal(t, "Ada", e.Participants[0].Name)
	assert.EqualValues(t, 1, e.Participants[1].Votes)
	assert.True(t, e.IsActive)
	assert.Equal(t, "admin-1", e.CreatedBy)
}

func TestGetElectionWithoutParticipants(t *testing.T) {
	store, mock := newMockStore(t)
	id := ids.New()
	now := time.Now().UTC()

	mock.ExpectQuery("from elections e").
		WillReturnRows(sqlmock.NewRows(electionColumns).
			AddRow(id, "Empty", "A", "2", now, now, true, "admin-1", now, nil, nil, nil, nil))

	e, err := store.GetElection(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, e.Participants)
	assert.Empty(t, e.Participants)
}

func TestGetElectionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	_, err := store.GetElection(context.Background(), "not-a-ulid")
	assert.ErrorIs(t, err, election.ErrNotFound, "malformed id")

	mock.ExpectQuery("from elections e").WillReturnRows(sqlmock.NewRows(electionColumns))
	_, err = store.GetElection(context.Background(), ids.New())
	assert.ErrorIs(t, err, election.ErrNotFound)
}

func TestCloseElection(t *testing.T) {
	store, mock := newMockStore(t)
	id := ids.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("select is_active from elections where id=\\$1 and created_by=\\$2 for update").
		WithArgs(id, "admin-1").
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))
	mock.ExpectExec("update elections set is_active = false").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("from elections e").
		WillReturnRows(sqlmock.NewRows(electionColumns).
			AddRow(id, "Rep", "A", "2", now, now, false, "admin-1", now, "p1", "c1", "Ada", int64(0)))

	e, changed, err := store.CloseElection(context.Background(), id, "admin-1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, e.IsActive)
}

func TestCloseElectionNotOwned(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select is_active from elections").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := store.CloseElection(context.Background(), ids.New(), "admin-2")
	assert.ErrorIs(t, err, election.ErrNotFound)
}

func TestDeleteElectionNotOwned(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("delete from elections where id=\\$1 and created_by=\\$2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.DeleteElection(context.Background(), ids.New(), "admin-2"), election.ErrNotFound)
}

func TestIncrementParticipantVoteUnknownParticipant(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update election_participants set votes = votes \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from elections where id=\\$1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	err := store.IncrementParticipantVote(context.Background(), ids.New(), "ghost")
	assert.ErrorIs(t, err, election.ErrInvalidCandidate)
}

func TestReconcileCountersRewritesDrift(t *testing.T) {
	store, mock := newMockStore(t)
	id := ids.New()

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from elections where id=\\$1 for share").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("select id, votes from election_participants").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "votes"}).
			AddRow("p1", int64(2)).
			AddRow("p2", int64(0)).
			AddRow("p3", int64(4)))
	mock.ExpectQuery("select participant_id, count\\(\\*\\) from votes").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"participant_id", "count"}).
			AddRow("p1", int64(1)).
			AddRow("p2", int64(1)).
			AddRow("p3", int64(4)))
	mock.ExpectExec("update election_participants set votes=\\$3").
		WithArgs(id, "p1", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update election_participants set votes=\\$3").
		WithArgs(id, "p2", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repairs, err := store.ReconcileCounters(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, repairs, 2)
	assert.Equal(t, election.Repair{ParticipantID: "p1", Counter: 2, Ledger: 1}, repairs[0])
}
