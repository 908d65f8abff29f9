package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"campusvote.org/internal/election"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config names the brokers and topics.
type Config struct {
	Brokers         []string
	VotesTopic      string
	ReconcileTopic  string
	ConsumerGroupID string
}

// Producer publishes domain events. Votes are keyed by voter so one voter's
// events stay ordered; reconcile requests are keyed by election.
type Producer struct {
	votes     messageWriter
	reconcile messageWriter
	now       func() time.Time
}

var _ election.Publisher = (*Producer)(nil)

func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.VotesTopic == "" || cfg.ReconcileTopic == "" {
		return nil, fmt.Errorf("kafka: votes and reconcile topics are required")
	}
	return newProducer(newWriter(cfg.Brokers, cfg.VotesTopic), newWriter(cfg.Brokers, cfg.ReconcileTopic)), nil
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func newProducer(votes, reconcile messageWriter) *Producer {
	return &Producer{votes: votes, reconcile: reconcile, now: time.Now}
}

func (p *Producer) PublishVoteCast(ctx context.Context, v election.Vote) error {
	data, err := json.Marshal(voteCastFrom(v))
	if err != nil {
		return fmt.Errorf("encode vote event: %w", err)
	}
	msg := kafka.Message{Key: []byte(v.VoterID), Value: data, Time: p.now()}
	if err := p.votes.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish vote event: %w", err)
	}
	return nil
}

func (p *Producer) PublishReconcileRequest(ctx context.Context, electionID, reason string) error {
	now := p.now()
	data, err := json.Marshal(ReconcileRequest{
		Type:        TypeReconcileRequest,
		ElectionID:  electionID,
		Reason:      reason,
		RequestedAt: now.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode reconcile request: %w", err)
	}
	msg := kafka.Message{Key: []byte(electionID), Value: data, Time: now}
	if err := p.reconcile.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish reconcile request: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	err := p.votes.Close()
	if rerr := p.reconcile.Close(); err == nil {
		err = rerr
	}
	return err
}
