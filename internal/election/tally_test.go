package election

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func electionWithVotes(votes ...int64) Election {
	names := []string{"A", "B", "C", "D"}
	e := Election{ID: "e1"}
	for i, v := range votes {
		e.Participants = append(e.Participants, Participant{ID: "p" + names[i], Name: names[i], Votes: v})
	}
	return e
}

func TestComputeResultsTieGoesToEarliestParticipant(t *testing.T) {
	res := ComputeResults(electionWithVotes(5, 5, 3))

	require.NotNil(t, res.Winner)
	assert.Equal(t, "A", res.Winner.Name)
	assert.Equal(t, []string{"A", "B", "C"}, standingNames(res))
	assert.Equal(t, int64(13), res.TotalVotes)
	assert.Equal(t, 38.5, res.Percentages["pA"])
	assert.Equal(t, 38.5, res.Percentages["pB"])
	assert.Equal(t, 23.1, res.Percentages["pC"])
}

func TestComputeResultsRoundsToOneDecimal(t *testing.T) {
	res := ComputeResults(electionWithVotes(5, 5, 2))

	assert.Equal(t, []float64{41.7, 41.7, 16.7}, []float64{
		res.Standings[0].Percentage, res.Standings[1].Percentage, res.Standings[2].Percentage,
	})
	sum := 0.0
	for _, pct := range res.Percentages {
		sum += pct
	}
	assert.InDelta(t, 100, sum, 0.2)
}

func TestComputeResultsOrdersByVotesDescending(t *testing.T) {
	res := ComputeResults(electionWithVotes(1, 7, 3, 7))

	assert.Equal(t, []string{"B", "D", "C", "A"}, standingNames(res))
	assert.Equal(t, "B", res.Winner.Name)
	// participants themselves keep creation order
	assert.Equal(t, "A", res.Participants[0].Name)
}

func TestComputeResultsZeroVotes(t *testing.T) {
	res := ComputeResults(electionWithVotes(0, 0, 0))

	for id, pct := range res.Percentages {
		assert.Zerof(t, pct, "participant %s", id)
	}
	require.NotNil(t, res.Winner)
	assert.Equal(t, "A", res.Winner.Name)
}

func TestComputeResultsNoParticipants(t *testing.T) {
	res := ComputeResults(Election{ID: "empty"})
	assert.Nil(t, res.Winner)
	assert.Empty(t, res.Standings)
	assert.Zero(t, res.TotalVotes)
}

func standingNames(r Results) []string {
	out := make([]string, len(r.Standings))
	for i, s := range r.Standings {
		out[i] = s.Name
	}
	return out
}
