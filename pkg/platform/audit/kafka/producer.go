// Package kafka publishes audit events to a Kafka topic with franz-go.
// The producer implements audit.Store so it can serve as the publisher's
// best-effort sink, and it backs the outbox worker's delivery path.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "fundgate/pkg/platform/audit"
)

// Producer wraps a franz-go client pinned to one topic.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects to the given brokers. Delivery uses the client's
// default idempotent producer settings; ordering per account is preserved by
// keying records on the account.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client, topic: topic}, nil
}

// EnsureTopic creates the producer's topic if the cluster does not have it
// yet. Clusters with topic auto-creation make this a no-op.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	admin := kadm.NewClient(p.client)
	resp, err := admin.CreateTopics(ctx, partitions, replication, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}

// Append publishes an audit event synchronously. Implements audit.Store.
func (p *Producer) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return p.Publish(ctx, []byte(event.Account), payload)
}

// Publish produces one raw record and waits for the broker ack.
func (p *Producer) Publish(ctx context.Context, key, payload []byte) error {
	record := &kgo.Record{
		Topic: p.topic,
		Key:   key,
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit record: %w", err)
	}
	return nil
}

// Close flushes and releases the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
