package graph

import (
	"context"
	"math"
	"time"

	graphql "github.com/graph-gophers/graphql-go"

	"campusvote.org/internal/election"
	"campusvote.org/internal/identity"
)

type Resolver struct {
	svc *election.Service
}

// kindError adds the error kind to the GraphQL error extensions.
type kindError struct {
	err  error
	kind string
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) Extensions() map[string]any {
	return map[string]any{"kind": e.kind}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	kind := election.KindOf(err)
	if kind == election.KindInternal {
		return &kindError{err: errInternal, kind: string(kind)}
	}
	return &kindError{err: err, kind: string(kind)}
}

type plainError string

func (e plainError) Error() string { return string(e) }

const (
	errInternal        = plainError("internal error")
	errUnauthenticated = plainError("authentication required")
)

func callerFrom(ctx context.Context) (identity.Identity, error) {
	who, ok := identity.FromContext(ctx)
	if !ok {
		return nil, &kindError{err: errUnauthenticated, kind: "unauthenticated"}
	}
	return who, nil
}

func (r *Resolver) Election(ctx context.Context, args struct{ ID graphql.ID }) (*electionResolver, error) {
	who, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	e, err := r.svc.GetElection(ctx, who, string(args.ID))
	if err != nil {
		return nil, wrap(err)
	}
	return &electionResolver{e: e}, nil
}

func (r *Resolver) Elections(ctx context.Context, args struct {
	Section string
	Year    string
}) (*listingResolver, error) {
	who, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	l, err := r.svc.ListElections(ctx, who, identity.Enrollment{Section: args.Section, Year: args.Year})
	if err != nil {
		return nil, wrap(err)
	}
	return &listingResolver{l: l}, nil
}

func (r *Resolver) Results(ctx context.Context, args struct{ ID graphql.ID }) (*resultsResolver, error) {
	who, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	res, err := r.svc.Results(ctx, who, string(args.ID))
	if err != nil {
		return nil, wrap(err)
	}
	return &resultsResolver{r: res}, nil
}

func (r *Resolver) CastVote(ctx context.Context, args struct {
	ElectionID    graphql.ID
	ParticipantID graphql.ID
}) (*voteResolver, error) {
	who, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	v, err := r.svc.CastVote(ctx, who, string(args.ElectionID), string(args.ParticipantID))
	if err != nil {
		return nil, wrap(err)
	}
	return &voteResolver{v: v}, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

type electionResolver struct{ e election.Election }

func (r *electionResolver) ID() graphql.ID    { return graphql.ID(r.e.ID) }
func (r *electionResolver) Title() string     { return r.e.Title }
func (r *electionResolver) Section() string   { return r.e.Section }
func (r *electionResolver) Year() string      { return r.e.Year }
func (r *electionResolver) StartTime() string { return formatTime(r.e.StartTime) }
func (r *electionResolver) EndTime() string   { return formatTime(r.e.EndTime) }
func (r *electionResolver) IsActive() bool    { return r.e.IsActive }
func (r *electionResolver) CreatedBy() string { return r.e.CreatedBy }
func (r *electionResolver) CreatedAt() string { return formatTime(r.e.CreatedAt) }

func (r *electionResolver) Participants() []*participantResolver {
	out := make([]*participantResolver, len(r.e.Participants))
	for i, p := range r.e.Participants {
		out[i] = &participantResolver{p: p}
	}
	return out
}

// graphInt narrows a counter to GraphQL's 32-bit Int. Counts above
// math.MaxInt32 saturate there; the REST and gRPC surfaces carry the full int64.
func graphInt(n int64) int32 {
	switch {
	case n > math.MaxInt32:
		return math.MaxInt32
	case n < 0:
		return 0
	}
	return int32(n)
}

type participantResolver struct{ p election.Participant }

func (r *participantResolver) ID() graphql.ID      { return graphql.ID(r.p.ID) }
func (r *participantResolver) CandidateID() string { return r.p.CandidateID }
func (r *participantResolver) Name() string        { return r.p.Name }
func (r *participantResolver) Votes() int32        { return graphInt(r.p.Votes) }

type listingResolver struct{ l election.Listing }

func (r *listingResolver) Active() []*electionResolver { return electionResolvers(r.l.Active) }
func (r *listingResolver) Closed() []*electionResolver { return electionResolvers(r.l.Closed) }

func electionResolvers(es []election.Election) []*electionResolver {
	out := make([]*electionResolver, len(es))
	for i, e := range es {
		out[i] = &electionResolver{e: e}
	}
	return out
}

type standingResolver struct{ s election.Standing }

func (r *standingResolver) ParticipantID() graphql.ID { return graphql.ID(r.s.ParticipantID) }
func (r *standingResolver) CandidateID() string       { return r.s.CandidateID }
func (r *standingResolver) Name() string              { return r.s.Name }
func (r *standingResolver) Votes() int32              { return graphInt(r.s.Votes) }
func (r *standingResolver) Percentage() float64       { return r.s.Percentage }

type resultsResolver struct{ r election.Results }

func (r *resultsResolver) Election() *electionResolver { return &electionResolver{e: r.r.Election} }
func (r *resultsResolver) TotalVotes() int32           { return graphInt(r.r.TotalVotes) }

func (r *resultsResolver) Standings() []*standingResolver {
	out := make([]*standingResolver, len(r.r.Standings))
	for i, s := range r.r.Standings {
		out[i] = &standingResolver{s: s}
	}
	return out
}

func (r *resultsResolver) Winner() *standingResolver {
	if r.r.Winner == nil {
		return nil
	}
	return &standingResolver{s: *r.r.Winner}
}

type voteResolver struct{ v election.Vote }

func (r *voteResolver) ID() graphql.ID            { return graphql.ID(r.v.ID) }
func (r *voteResolver) ElectionID() graphql.ID    { return graphql.ID(r.v.ElectionID) }
func (r *voteResolver) ParticipantID() graphql.ID { return graphql.ID(r.v.ParticipantID) }
func (r *voteResolver) CastAt() string            { return formatTime(r.v.CastAt) }
