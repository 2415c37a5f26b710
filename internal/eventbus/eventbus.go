// Package eventbus publishes domain events (reconciliation progress,
// workflow transitions) to Kafka, adapted from the producer half of
// datasync/chaindatafetcher/event/kafka's KafkaBroker — this module only
// ever publishes, it never consumes, so the consumer-group machinery the
// teacher built alongside it has no home here.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/hashicorp/go-uuid"

	"github.com/vaultworks/reconcore/internal/config"
	"github.com/vaultworks/reconcore/internal/log"
)

var logger = log.NewModuleLogger("eventbus")

// Event is one published message: Key selects the partition (we key on
// the resource id so a given job/workflow's events stay ordered), Topic
// is suffixed onto the configured prefix.
type Event struct {
	Topic string
	Key   string
	Body  interface{}
}

// Publisher publishes Events; the no-op implementation is used when Kafka
// is disabled so callers never branch on whether publishing is wired in.
type Publisher interface {
	Publish(e Event)
	Close() error
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event)  {}
func (noopPublisher) Close() error   { return nil }

// NewNoop returns a Publisher that discards every event.
func NewNoop() Publisher { return noopPublisher{} }

// saramaPublisher is the production Publisher, backed by an async
// producer exactly as KafkaBroker.newProducer configures it.
type saramaPublisher struct {
	producer    sarama.AsyncProducer
	topicPrefix string
}

// New connects to the configured brokers and returns a Publisher. Publish
// failures are logged from the producer's error channel in the
// background; they never block or fail the caller, mirroring the
// teacher's "retry and gauge, never hard-fail the insert" posture in
// chaindata_fetcher.go.
func New(cfg config.KafkaConfig) (Publisher, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Flush.Frequency = 500 * time.Millisecond
	sc.Producer.Return.Errors = true

	id, _ := uuid.GenerateUUID()
	sc.ClientID = fmt.Sprintf("reconcore-%s", id)

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("start sarama producer: %w", err)
	}

	p := &saramaPublisher{producer: producer, topicPrefix: cfg.TopicPrefix}
	go p.drainErrors()
	return p, nil
}

func (p *saramaPublisher) drainErrors() {
	for perr := range p.producer.Errors() {
		logger.Warn("event publish failed", "err", perr.Err, "topic", perr.Msg.Topic)
	}
}

func (p *saramaPublisher) Publish(e Event) {
	body, err := json.Marshal(e.Body)
	if err != nil {
		logger.Error("marshal event body failed", "err", err, "topic", e.Topic)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: fmt.Sprintf("%s.%s", p.topicPrefix, e.Topic),
		Key:   sarama.StringEncoder(e.Key),
		Value: sarama.ByteEncoder(body),
	}

	// Non-blocking send: a stalled broker must never stall the engine that
	// produced the event.
	select {
	case p.producer.Input() <- msg:
	default:
		logger.Warn("event publish dropped, producer input full", "topic", msg.Topic)
	}
}

func (p *saramaPublisher) Close() error {
	return p.producer.Close()
}
