// Package publisher hands finalized documents to downstream collaborators
// over Kafka. Records are keyed by document id so every update of one
// document lands on the same partition in order.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	docmodels "fiscaldoc/internal/document/models"
)

// Header keys set on every record.
const (
	HeaderEventType      = "event-type"
	HeaderOrganizationID = "organization-id"
)

// Event types by terminal status.
const (
	EventCompleted = "document.completed"
	EventFailed    = "document.failed"
)

// Producer is the subset of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher produces one JSON record per finalized document.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

// New creates a publisher writing to topic. An empty topic uses the client's
// default produce topic.
func New(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, doc *docmodels.Document) error {
	record, err := p.record(doc)
	if err != nil {
		return err
	}
	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce document %s: %w", doc.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) record(doc *docmodels.Document) (*kgo.Record, error) {
	value, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	event := EventCompleted
	if doc.Status == docmodels.StatusFailed {
		event = EventFailed
	}
	return &kgo.Record{
		Topic: p.topic,
		Key:   []byte(doc.ID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventType, Value: []byte(event)},
			{Key: HeaderOrganizationID, Value: []byte(doc.OrganizationID)},
		},
	}, nil
}
