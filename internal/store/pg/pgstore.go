package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"campusvote.org/internal/election"
)

// Migrations holds the schema for elections, participants and votes.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Seeds holds optional demo data.
//
//go:embed seeds/*.sql
var Seeds embed.FS

const (
	pgErrUniqueViolation = "23505"
	votesUniqueVoter     = "votes_election_voter_key"
)

// Store persists elections and the vote ledger in Postgres.
type Store struct {
	db *sql.DB
}

var (
	_ election.ElectionStore = (*Store)(nil)
	_ election.VoteLedger    = (*Store)(nil)
	_ election.Committer     = (*Store)(nil)
	_ election.Reconcilable  = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Check pings the database; used as the readiness probe.
func (s *Store) Check(ctx context.Context) error { return s.db.PingContext(ctx) }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isDuplicateVote(err error) bool {
	pgErr, ok := maybePgError(err)
	if !ok || pgErr.Code != pgErrUniqueViolation {
		return false
	}
	return pgErr.ConstraintName == "" || pgErr.ConstraintName == votesUniqueVoter
}
