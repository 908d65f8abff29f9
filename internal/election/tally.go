package election

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Standing is one participant's line in a results view.
type Standing struct {
	ParticipantID string  `json:"participantId"`
	CandidateID   string  `json:"candidateId"`
	Name          string  `json:"name"`
	Votes         int64   `json:"votes"`
	Percentage    float64 `json:"percentage"`
}

// Results is an election plus its derived tally.
type Results struct {
	Election
	Standings   []Standing         `json:"standings"`
	Winner      *Standing          `json:"winner"`
	Percentages map[string]float64 `json:"percentages"`
	TotalVotes  int64              `json:"totalVotes"`
}

var hundred = decimal.NewFromInt(100)

// ComputeResults orders participants by votes, highest first. Ties keep creation
// order, so the winner is the earliest-created participant among those with the
// most votes. Percentages are rounded to one decimal; a zero total yields 0 for all.
func ComputeResults(e Election) Results {
	var total int64
	for _, p := range e.Participants {
		total += p.Votes
	}

	standings := make([]Standing, len(e.Participants))
	percentages := make(map[string]float64, len(e.Participants))
	for i, p := range e.Participants {
		pct := percentage(p.Votes, total)
		standings[i] = Standing{
			ParticipantID: p.ID,
			CandidateID:   p.CandidateID,
			Name:          p.Name,
			Votes:         p.Votes,
			Percentage:    pct,
		}
		percentages[p.ID] = pct
	}
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Votes > standings[j].Votes
	})

	res := Results{
		Election:    e.clone(),
		Standings:   standings,
		Percentages: percentages,
		TotalVotes:  total,
	}
	if len(standings) > 0 {
		w := standings[0]
		res.Winner = &w
	}
	return res
}

func percentage(votes, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return decimal.NewFromInt(votes).Mul(hundred).DivRound(decimal.NewFromInt(total), 1).InexactFloat64()
}
