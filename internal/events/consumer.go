package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"campusvote.org/internal/obs"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReconcileHandler repairs one election.
type ReconcileHandler func(ctx context.Context, electionID string) error

// Consumer reads reconcile requests in a consumer group. A message is committed
// once handled; handler failures are logged and the message is committed anyway
// since the periodic reconciler covers anything missed.
type Consumer struct {
	reader  messageReader
	handle  ReconcileHandler
	backoff time.Duration
}

func NewConsumer(cfg Config, handle ReconcileHandler) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	group := cfg.ConsumerGroupID
	if group == "" {
		group = "campusvote-reconciler"
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.ReconcileTopic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  500 * time.Millisecond,
	})
	return newConsumer(reader, handle), nil
}

func newConsumer(reader messageReader, handle ReconcileHandler) *Consumer {
	return &Consumer{reader: reader, handle: handle, backoff: time.Second}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	log := obs.Logger()
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			log.WithError(err).Warn("kafka fetch failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		c.dispatch(ctx, m)
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("kafka commit failed")
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, m kafka.Message) {
	fields := logrus.Fields{"partition": m.Partition, "offset": m.Offset}
	var req ReconcileRequest
	if err := json.Unmarshal(m.Value, &req); err != nil {
		obs.Logger().WithFields(fields).WithError(err).Warn("drop malformed reconcile request")
		return
	}
	if req.ElectionID == "" {
		obs.Logger().WithFields(fields).Warn("drop reconcile request without election")
		return
	}
	fields["election_id"] = req.ElectionID
	fields["reason"] = req.Reason
	if err := c.handle(ctx, req.ElectionID); err != nil {
		obs.Logger().WithFields(fields).WithError(err).Error("reconcile request failed")
		return
	}
	obs.Logger().WithFields(fields).Debug("reconcile request handled")
}

func (c *Consumer) Close() error { return c.reader.Close() }
