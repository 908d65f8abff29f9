package election

import (
	"time"

	"campusvote.org/internal/identity"
)

// Participant is a candidate entry embedded in an election.
type Participant struct {
	ID          string `json:"id"`
	CandidateID string `json:"candidateId"`
	Name        string `json:"name"`
	Votes       int64  `json:"votes"`
}

// Election is scoped to one enrollment key. IsActive only ever moves from true to false.
type Election struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Section      string        `json:"section"`
	Year         string        `json:"year"`
	StartTime    time.Time     `json:"startTime"`
	EndTime      time.Time     `json:"endTime"`
	IsActive     bool          `json:"isActive"`
	Participants []Participant `json:"participants"`
	CreatedBy    string        `json:"createdBy"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Enrollment returns the (section, year) key the election is scoped to.
func (e Election) Enrollment() identity.Enrollment {
	return identity.Enrollment{Section: e.Section, Year: e.Year}
}

// Participant looks up a participant by id.
func (e Election) Participant(id string) (Participant, bool) {
	for _, p := range e.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func (e Election) clone() Election {
	out := e
	out.Participants = make([]Participant, len(e.Participants))
	copy(out.Participants, e.Participants)
	return out
}

// Vote is write-once: one per (ElectionID, VoterID).
type Vote struct {
	ID            string    `json:"id"`
	ElectionID    string    `json:"electionId"`
	VoterID       string    `json:"voterId"`
	ParticipantID string    `json:"participantId"`
	CastAt        time.Time `json:"castAt"`
}

// ParticipantSpec names a candidate at creation time.
type ParticipantSpec struct {
	CandidateID string `json:"candidateId"`
	Name        string `json:"name"`
}

// Spec is the admin-supplied description of a new election.
type Spec struct {
	Title        string            `json:"title"`
	Section      string            `json:"section"`
	Year         string            `json:"year"`
	StartTime    string            `json:"startTime"`
	EndTime      string            `json:"endTime"`
	Participants []ParticipantSpec `json:"participants"`
}

// Listing partitions elections for one enrollment key.
type Listing struct {
	Active []Election `json:"active"`
	Closed []Election `json:"closed"`
}
