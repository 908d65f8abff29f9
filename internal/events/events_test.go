package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusvote.org/internal/election"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	drained   chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{queue: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	if len(r.queue) == 0 {
		select {
		case <-r.drained:
		default:
			close(r.drained)
		}
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestPublishVoteCastKeyedByVoter(t *testing.T) {
	votes, recon := &fakeWriter{}, &fakeWriter{}
	p := newProducer(votes, recon)
	castAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	err := p.PublishVoteCast(context.Background(), election.Vote{
		ID: "v1", ElectionID: "e1", VoterID: "s1", ParticipantID: "p1", CastAt: castAt,
	})
	require.NoError(t, err)
	require.Len(t, votes.msgs, 1)
	assert.Empty(t, recon.msgs)

	msg := votes.msgs[0]
	assert.Equal(t, "s1", string(msg.Key))
	var got VoteCast
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, TypeVoteCast, got.Type)
	assert.Equal(t, "e1", got.ElectionID)
	assert.Equal(t, "p1", got.ParticipantID)
	assert.True(t, castAt.Equal(got.CastAt))
}

func TestPublishReconcileRequestKeyedByElection(t *testing.T) {
	votes, recon := &fakeWriter{}, &fakeWriter{}
	p := newProducer(votes, recon)

	require.NoError(t, p.PublishReconcileRequest(context.Background(), "e9", "partial_commit"))
	require.Len(t, recon.msgs, 1)
	assert.Equal(t, "e9", string(recon.msgs[0].Key))

	var got ReconcileRequest
	require.NoError(t, json.Unmarshal(recon.msgs[0].Value, &got))
	assert.Equal(t, TypeReconcileRequest, got.Type)
	assert.Equal(t, "partial_commit", got.Reason)
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newProducer(&fakeWriter{err: boom}, &fakeWriter{err: boom})
	err := p.PublishVoteCast(context.Background(), election.Vote{VoterID: "s1"})
	assert.ErrorIs(t, err, boom)
	err = p.PublishReconcileRequest(context.Background(), "e1", "manual")
	assert.ErrorIs(t, err, boom)
}

func TestProducerCloseClosesBothWriters(t *testing.T) {
	votes, recon := &fakeWriter{}, &fakeWriter{}
	require.NoError(t, newProducer(votes, recon).Close())
	assert.True(t, votes.closed)
	assert.True(t, recon.closed)
}

func TestNewProducerValidatesConfig(t *testing.T) {
	_, err := NewProducer(Config{})
	assert.Error(t, err)
	_, err = NewProducer(Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestConsumerDispatchesAndCommits(t *testing.T) {
	good, _ := json.Marshal(ReconcileRequest{Type: TypeReconcileRequest, ElectionID: "e1", Reason: "partial_commit"})
	failing, _ := json.Marshal(ReconcileRequest{Type: TypeReconcileRequest, ElectionID: "e2"})
	reader := newFakeReader(
		kafka.Message{Offset: 1, Value: good},
		kafka.Message{Offset: 2, Value: []byte("{not json")},
		kafka.Message{Offset: 3, Value: []byte(`{"type":"x"}`)},
		kafka.Message{Offset: 4, Value: failing},
	)

	var mu sync.Mutex
	var handled []string
	c := newConsumer(reader, func(_ context.Context, electionID string) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, electionID)
		if electionID == "e2" {
			return errors.New("store unavailable")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-reader.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain messages")
	}
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"e1", "e2"}, handled)
	assert.Len(t, reader.committed, 4, "every message is committed, even malformed ones")
}
