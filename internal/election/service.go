package election

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"campusvote.org/internal/audit"
	"campusvote.org/internal/identity"
	"campusvote.org/internal/ids"
	"campusvote.org/internal/obs"
)

// Service runs election lifecycle and vote casting against the injected stores.
// Every operation takes the verified caller explicitly.
type Service struct {
	elections    ElectionStore
	votes        VoteLedger
	cache        Cache
	events       Publisher
	pending      *pendingSet
	recon        *Reconciler
	now          func() time.Time
	strictWindow bool
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCache installs a results and voter-marker cache.
func WithCache(c Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithPublisher installs a domain event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithStrictWindow rejects elections whose endTime is not after startTime.
func WithStrictWindow(strict bool) Option {
	return func(s *Service) { s.strictWindow = strict }
}

// WithReconcilerOptions configures the embedded reconciler.
func WithReconcilerOptions(opts ...ReconcilerOption) Option {
	return func(s *Service) {
		if s.recon != nil {
			for _, opt := range opts {
				opt(s.recon)
			}
		}
	}
}

// NewService wires the stores. When elections implements Reconcilable the
// service can repair counter drift.
func NewService(elections ElectionStore, votes VoteLedger, opts ...Option) *Service {
	s := &Service{
		elections: elections,
		votes:     votes,
		cache:     nopCache{},
		events:    nopPublisher{},
		pending:   newPendingSet(),
		now:       time.Now,
	}
	if rc, ok := elections.(Reconcilable); ok {
		s.recon = newReconciler(rc, elections, s.pending)
		s.recon.onRepair = func(ctx context.Context, electionID string) {
			s.dropCachedResults(ctx, electionID)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recon != nil {
		s.recon.now = s.now
	}
	return s
}

// Reconciler returns the counter reconciler, or nil when the store cannot reconcile.
func (s *Service) Reconciler() *Reconciler { return s.recon }

// CreateElection validates spec and stores a new open election owned by caller.
func (s *Service) CreateElection(ctx context.Context, caller identity.Identity, spec Spec) (Election, error) {
	admin, ok := identity.AsAdmin(caller)
	if !ok {
		return Election{}, forbiddenf("only admins can create elections")
	}
	e, err := s.newElection(admin, spec)
	if err != nil {
		return Election{}, err
	}
	if err := s.elections.CreateElection(ctx, e); err != nil {
		return Election{}, err
	}

	obs.RecordElectionTransition("created")
	_ = audit.LogEvent(ctx, "election.create", map[string]any{
		"election_id":  e.ID,
		"section":      e.Section,
		"year":         e.Year,
		"participants": len(e.Participants),
	})
	return e, nil
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseInstant(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (s *Service) newElection(admin identity.Admin, spec Spec) (Election, error) {
	title := strings.TrimSpace(spec.Title)
	section := strings.TrimSpace(spec.Section)
	year := strings.TrimSpace(spec.Year)
	switch {
	case title == "":
		return Election{}, validationf("title is required")
	case section == "":
		return Election{}, validationf("section is required")
	case year == "":
		return Election{}, validationf("year is required")
	}

	start, ok := parseInstant(spec.StartTime)
	if !ok {
		return Election{}, validationf("startTime %q is not a valid date", spec.StartTime)
	}
	end, ok := parseInstant(spec.EndTime)
	if !ok {
		return Election{}, validationf("endTime %q is not a valid date", spec.EndTime)
	}
	if s.strictWindow && !end.After(start) {
		return Election{}, validationf("endTime must be after startTime")
	}

	if spec.Participants == nil {
		return Election{}, validationf("participants must be a list")
	}
	seen := make(map[string]struct{}, len(spec.Participants))
	participants := make([]Participant, 0, len(spec.Participants))
	for i, p := range spec.Participants {
		candidateID := strings.TrimSpace(p.CandidateID)
		name := strings.TrimSpace(p.Name)
		if candidateID == "" || name == "" {
			return Election{}, validationf("participants[%d]: candidateId and name are required", i)
		}
		if _, dup := seen[candidateID]; dup {
			return Election{}, validationf("participants[%d]: duplicate candidateId %q", i, candidateID)
		}
		seen[candidateID] = struct{}{}
		participants = append(participants, Participant{
			ID:          ids.New(),
			CandidateID: candidateID,
			Name:        name,
		})
	}

	return Election{
		ID:           ids.New(),
		Title:        title,
		Section:      section,
		Year:         year,
		StartTime:    start,
		EndTime:      end,
		IsActive:     true,
		Participants: participants,
		CreatedBy:    admin.UserID,
		CreatedAt:    s.now().UTC(),
	}, nil
}

// GetElection returns the election to its owner or to an eligible student.
// Other admins get ErrNotFound.
func (s *Service) GetElection(ctx context.Context, caller identity.Identity, id string) (Election, error) {
	e, err := s.elections.GetElection(ctx, id)
	if err != nil {
		return Election{}, err
	}
	if err := authorizeView(caller, e); err != nil {
		return Election{}, err
	}
	return e, nil
}

func authorizeView(caller identity.Identity, e Election) error {
	if CanManage(caller, e) || CanView(caller, e) {
		return nil
	}
	if _, ok := identity.AsAdmin(caller); ok {
		return notFoundf("election %s", e.ID)
	}
	return forbiddenf("not enrolled in section %s year %s", e.Section, e.Year)
}

// ListAdminElections returns the caller's own elections, newest first.
func (s *Service) ListAdminElections(ctx context.Context, caller identity.Identity) ([]Election, error) {
	admin, ok := identity.AsAdmin(caller)
	if !ok {
		return nil, forbiddenf("only admins can list their elections")
	}
	out, err := s.elections.ListElectionsByAdmin(ctx, admin.UserID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

// ListElections partitions the elections of one enrollment key into active and
// closed. Students may only ask for their own key; admins see only elections they own.
func (s *Service) ListElections(ctx context.Context, caller identity.Identity, key identity.Enrollment) (Listing, error) {
	key.Section = strings.TrimSpace(key.Section)
	key.Year = strings.TrimSpace(key.Year)
	if key.Section == "" || key.Year == "" {
		return Listing{}, validationf("section and year are required")
	}

	var keep func(Election) bool
	switch c := caller.(type) {
	case identity.Student:
		if !c.Enrollment().Matches(key) {
			return Listing{}, forbiddenf("not enrolled in section %s year %s", key.Section, key.Year)
		}
		keep = func(Election) bool { return true }
	case identity.Admin:
		keep = func(e Election) bool { return e.CreatedBy == c.UserID }
	default:
		return Listing{}, forbiddenf("unknown caller")
	}

	all, err := s.elections.ListElectionsByEnrollment(ctx, key)
	if err != nil {
		return Listing{}, err
	}
	sortNewestFirst(all)
	listing := Listing{Active: []Election{}, Closed: []Election{}}
	for _, e := range all {
		if !keep(e) {
			continue
		}
		if e.IsActive {
			listing.Active = append(listing.Active, e)
		} else {
			listing.Closed = append(listing.Closed, e)
		}
	}
	return listing, nil
}

func sortNewestFirst(es []Election) {
	sort.SliceStable(es, func(i, j int) bool {
		if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].CreatedAt.After(es[j].CreatedAt)
		}
		return es[i].ID > es[j].ID
	})
}

// CloseElection stops voting. Closing a closed election succeeds without change.
func (s *Service) CloseElection(ctx context.Context, caller identity.Identity, id string) (Election, error) {
	admin, ok := identity.AsAdmin(caller)
	if !ok {
		return Election{}, forbiddenf("only admins can close elections")
	}
	e, changed, err := s.elections.CloseElection(ctx, id, admin.UserID)
	if err != nil {
		return Election{}, err
	}
	if changed {
		obs.RecordElectionTransition("closed")
		s.dropCachedResults(ctx, id)
		_ = audit.LogEvent(ctx, "election.close", map[string]any{"election_id": id})
	}
	return e, nil
}

// DeleteElection removes an election owned by caller. Its votes are kept.
func (s *Service) DeleteElection(ctx context.Context, caller identity.Identity, id string) error {
	admin, ok := identity.AsAdmin(caller)
	if !ok {
		return forbiddenf("only admins can delete elections")
	}
	if err := s.elections.DeleteElection(ctx, id, admin.UserID); err != nil {
		return err
	}
	obs.RecordElectionTransition("deleted")
	if err := s.cache.ForgetElection(context.WithoutCancel(ctx), id); err != nil {
		obs.Logger().WithError(err).WithField("election_id", id).Warn("cache forget election")
	}
	_ = audit.LogEvent(ctx, "election.delete", map[string]any{"election_id": id})
	return nil
}

// Results returns the tally for an election visible to caller. Elections with
// unreconciled partial commits are repaired before the tally is computed.
func (s *Service) Results(ctx context.Context, caller identity.Identity, id string) (Results, error) {
	if cached, ok, err := s.cache.GetResults(ctx, id); err != nil {
		obs.Logger().WithError(err).WithField("election_id", id).Warn("results cache read")
	} else if ok && !s.pending.hasElection(id) {
		if err := authorizeView(caller, cached.Election); err != nil {
			return Results{}, err
		}
		return cached, nil
	}

	e, err := s.GetElection(ctx, caller, id)
	if err != nil {
		return Results{}, err
	}
	if s.recon != nil && s.pending.hasElection(id) {
		if _, err := s.recon.Reconcile(ctx, id); err != nil {
			obs.Logger().WithError(err).WithField("election_id", id).Error("reconcile before results")
		} else if e, err = s.elections.GetElection(ctx, id); err != nil {
			return Results{}, err
		}
	}

	res := ComputeResults(e)
	if err := s.cache.SetResults(ctx, res); err != nil {
		obs.Logger().WithError(err).WithField("election_id", id).Warn("results cache write")
	}
	return res, nil
}

// Reconcile lets the owning admin force a counter repair.
func (s *Service) Reconcile(ctx context.Context, caller identity.Identity, id string) (Report, error) {
	if _, ok := identity.AsAdmin(caller); !ok {
		return Report{}, forbiddenf("only admins can reconcile elections")
	}
	e, err := s.elections.GetElection(ctx, id)
	if err != nil {
		return Report{}, err
	}
	if !CanManage(caller, e) {
		return Report{}, notFoundf("election %s", id)
	}
	if s.recon == nil {
		return Report{}, ErrReconcileUnsupported
	}
	rep, err := s.recon.Reconcile(ctx, id)
	if err != nil {
		return Report{}, err
	}
	_ = audit.LogEvent(ctx, "election.reconcile", map[string]any{
		"election_id": id,
		"repairs":     len(rep.Repairs),
	})
	return rep, nil
}

// HandleReconcileRequest serves reconciliation requests coming from other instances.
func (s *Service) HandleReconcileRequest(ctx context.Context, electionID string) error {
	if s.recon == nil {
		return ErrReconcileUnsupported
	}
	_, err := s.recon.Reconcile(ctx, electionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) dropCachedResults(ctx context.Context, electionID string) {
	if err := s.cache.InvalidateResults(context.WithoutCancel(ctx), electionID); err != nil {
		obs.Logger().WithFields(logrus.Fields{
			"election_id": electionID,
			"error":       err.Error(),
		}).Warn("results cache invalidate")
	}
}
