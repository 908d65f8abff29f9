package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusvote.org/internal/election"
	"campusvote.org/internal/ids"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "campusvote:results:e1", resultsKey("e1"))
	assert.Equal(t, "campusvote:voters:e1", votersKey("e1"))
}

func TestNewRedisDefaultsTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	r := NewRedis(client, 0)
	assert.Equal(t, defaultResultsTTL, r.resultsTTL)
	r = NewRedis(client, time.Minute)
	assert.Equal(t, time.Minute, r.resultsTTL)
}

func liveRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("CAMPUSVOTE_TEST_REDIS")
	if addr == "" {
		t.Skip("CAMPUSVOTE_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := Dial(ctx, Options{Addr: addr, ResultsTTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedisResultsRoundTrip(t *testing.T) {
	r := liveRedis(t)
	ctx := context.Background()
	id := ids.New()
	t.Cleanup(func() { _ = r.ForgetElection(ctx, id) })

	_, ok, err := r.GetResults(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	res := election.ComputeResults(election.Election{
		ID:       id,
		Title:    "Class rep",
		Section:  "A",
		Year:     "2024",
		IsActive: true,
		Participants: []election.Participant{
			{ID: "p1", CandidateID: "c1", Name: "Ada", Votes: 3},
			{ID: "p2", CandidateID: "c2", Name: "Linus", Votes: 1},
		},
	})
	require.NoError(t, r.SetResults(ctx, res))

	got, ok, err := r.GetResults(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), got.TotalVotes)
	require.NotNil(t, got.Winner)
	assert.Equal(t, "p1", got.Winner.ParticipantID)
	assert.Equal(t, 75.0, got.Percentages["p1"])

	require.NoError(t, r.InvalidateResults(ctx, id))
	_, ok, err = r.GetResults(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisVoterMarkers(t *testing.T) {
	r := liveRedis(t)
	ctx := context.Background()
	id := ids.New()
	t.Cleanup(func() { _ = r.ForgetElection(ctx, id) })

	voted, err := r.HasVoted(ctx, id, "s1")
	require.NoError(t, err)
	assert.False(t, voted)

	require.NoError(t, r.MarkVoted(ctx, id, "s1"))
	voted, err = r.HasVoted(ctx, id, "s1")
	require.NoError(t, err)
	assert.True(t, voted)

	voted, err = r.HasVoted(ctx, id, "s2")
	require.NoError(t, err)
	assert.False(t, voted)

	require.NoError(t, r.ForgetElection(ctx, id))
	voted, err = r.HasVoted(ctx, id, "s1")
	require.NoError(t, err)
	assert.False(t, voted)
}
