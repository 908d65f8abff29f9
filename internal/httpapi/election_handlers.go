package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"campusvote.org/internal/election"
	"campusvote.org/internal/identity"
)

type castVoteRequest struct {
	ParticipantID string `json:"participantId"`
}

// caller returns the verified identity or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, kindUnauthenticated, "authentication required")
		return nil, false
	}
	return id, true
}

func (a *API) createElection(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var spec election.Spec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, r, http.StatusBadRequest, string(election.KindValidation), err.Error())
		return
	}
	e, err := a.svc.CreateElection(r.Context(), who, spec)
	if err != nil {
		handleElectionError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/elections/"+e.ID)
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) listAdminElections(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	items, err := a.svc.ListAdminElections(r.Context(), who)
	if err != nil {
		handleElectionError(w, r, err)
		return
	}
	if items == nil {
		items = []election.Election{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getElection(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	e, err := a.svc.GetElection(r.Context(), who, mux.Vars(r)["id"])
	if err != nil {
		handleElectionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) closeElection(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	e, err := a.svc.CloseElection(r.Context(), who, mux.Vars(r)["id"])
	if err != nil {
		handleElectionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) deleteElection(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeleteElection(r.Context(), who, mux.Vars(r)["id"]); err != nil {
		handleElectionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) castVote(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req castVoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, string(election.KindValidation), err.Error())
		return
	}
	v, err := a.svc.CastVote(r.Context(), who, mux.Vars(r)["id"], req.ParticipantID)
	if err != nil {
		handleElectionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) electionResults(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	res, err := a.svc.Results(r.Context(), who, mux.Vars(r)["id"])
	if err != nil {
		handleElectionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) reconcileElection(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	rep, err := a.svc.Reconcile(r.Context(), who, mux.Vars(r)["id"])
	if err != nil {
		handleElectionError(w, r, err)
		return
	}
	if rep.Repairs == nil {
		rep.Repairs = []election.Repair{}
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) listEnrollmentElections(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	listing, err := a.svc.ListElections(r.Context(), who, identity.Enrollment{
		Section: vars["section"],
		Year:    vars["year"],
	})
	if err != nil {
		handleElectionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}
