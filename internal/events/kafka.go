package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// KafkaClient is the subset of *kgo.Client used for publishing.
type KafkaClient interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaPublisher forwards events to Kafka, keyed by mint or batch id.
// Produce is asynchronous; failures are logged and counted.
type KafkaPublisher struct {
	kcl    KafkaClient
	topic  string
	logger *zap.SugaredLogger
	onErr  func(error)
}

// NewKafkaPublisher creates a publisher. An empty topic uses the client's default topic.
func NewKafkaPublisher(kcl KafkaClient, topic string, logger *zap.SugaredLogger, onErr func(error)) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &KafkaPublisher{kcl: kcl, topic: topic, logger: logger, onErr: onErr}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ev Event) {
	record, err := createRecord(ev, p.topic)
	if err != nil {
		p.fail(ev, err)
		return
	}
	p.kcl.Produce(context.Background(), record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.fail(ev, errors.Wrap(err, "producing event record"))
		}
	})
}

// Handler adapts the publisher for Bus.Subscribe.
func (p *KafkaPublisher) Handler() Handler {
	return p.Publish
}

func (p *KafkaPublisher) fail(ev Event, err error) {
	p.logger.Warnw("publishing event to kafka", "event", ev.Name, "mint", ev.Mint, "error", err)
	if p.onErr != nil {
		p.onErr(err)
	}
}

func createRecord(ev Event, topic string) (*kgo.Record, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling event to json")
	}

	key := ev.Mint
	if key == "" {
		key = ev.BatchID
	}

	return &kgo.Record{
		Topic:     topic,
		Key:       []byte(key),
		Value:     payload,
		Timestamp: ev.Time.Truncate(time.Millisecond),
		Headers:   []kgo.RecordHeader{{Key: "event", Value: []byte(ev.Name)}},
	}, nil
}
