package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"campusvote.org/internal/election"
)

const (
	resultsKeyPrefix = "campusvote:results:"
	votersKeyPrefix  = "campusvote:voters:"

	defaultResultsTTL = 5 * time.Second
	// voter markers outlive any realistic election window; the ledger stays authoritative.
	votersTTL = 30 * 24 * time.Hour
)

// Options configures the Redis connection.
type Options struct {
	Addr       string
	Password   string
	DB         int
	ResultsTTL time.Duration
	Timeout    time.Duration
}

// Redis caches tallies and remembers which voters already cast a vote.
type Redis struct {
	client     redis.UniversalClient
	resultsTTL time.Duration
}

var _ election.Cache = (*Redis)(nil)

// Dial connects and pings Redis.
func Dial(ctx context.Context, opts Options) (*Redis, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedis(client, opts.ResultsTTL), nil
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, resultsTTL time.Duration) *Redis {
	if resultsTTL <= 0 {
		resultsTTL = defaultResultsTTL
	}
	return &Redis{client: client, resultsTTL: resultsTTL}
}

func (r *Redis) Close() error { return r.client.Close() }

// Check pings Redis for readiness.
func (r *Redis) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func resultsKey(electionID string) string { return resultsKeyPrefix + electionID }
func votersKey(electionID string) string  { return votersKeyPrefix + electionID }

func (r *Redis) GetResults(ctx context.Context, electionID string) (election.Results, bool, error) {
	data, err := r.client.Get(ctx, resultsKey(electionID)).Bytes()
	if err == redis.Nil {
		return election.Results{}, false, nil
	}
	if err != nil {
		return election.Results{}, false, fmt.Errorf("get cached results: %w", err)
	}
	var res election.Results
	if err := json.Unmarshal(data, &res); err != nil {
		return election.Results{}, false, fmt.Errorf("decode cached results: %w", err)
	}
	return res, true, nil
}

func (r *Redis) SetResults(ctx context.Context, res election.Results) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return r.client.Set(ctx, resultsKey(res.ID), data, r.resultsTTL).Err()
}

func (r *Redis) InvalidateResults(ctx context.Context, electionID string) error {
	return r.client.Del(ctx, resultsKey(electionID)).Err()
}

func (r *Redis) MarkVoted(ctx context.Context, electionID, voterID string) error {
	key := votersKey(electionID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, voterID)
	pipe.Expire(ctx, key, votersTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) HasVoted(ctx context.Context, electionID, voterID string) (bool, error) {
	return r.client.SIsMember(ctx, votersKey(electionID), voterID).Result()
}

func (r *Redis) ForgetElection(ctx context.Context, electionID string) error {
	return r.client.Del(ctx, resultsKey(electionID), votersKey(electionID)).Err()
}
