package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/agentstation/fieldsync/pkg/engine"
)

// KafkaConfig holds the Kafka producer configuration.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers" validate:"required,min=1"`
	Topic        string        `mapstructure:"topic" yaml:"topic" validate:"required"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	Compression  string        `mapstructure:"compression" yaml:"compression" validate:"omitempty,oneof=gzip snappy lz4 zstd none"`
}

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a topic, keyed by sync run so one run's events
// stay ordered within a partition.
type Kafka struct {
	writer messageWriter
	topic  string
	logger *zerolog.Logger
}

// NewKafka creates an asynchronous Kafka sink. Write failures are logged
// from the writer's completion callback.
func NewKafka(cfg KafkaConfig, logger *zerolog.Logger) *Kafka {
	var compression kafka.Compression
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	default:
		compression = kafka.Snappy
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 100 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireOne,
		Compression:            compression,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error().Err(err).Int("messages", len(msgs)).Msg("Failed to publish sync events")
			}
		},
	}
	return newKafka(writer, cfg.Topic, logger)
}

func newKafka(w messageWriter, topic string, logger *zerolog.Logger) *Kafka {
	return &Kafka{writer: w, topic: topic, logger: logger}
}

// Emit implements engine.EventSink.
func (k *Kafka) Emit(ctx context.Context, ev engine.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		k.logger.Error().Err(err).Str("event", ev.Type).Msg("Failed to encode sync event")
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.SyncRunID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "schema_version", Value: []byte(SchemaVersion)},
			{Key: "tab_mapping_id", Value: []byte(ev.TabMappingID)},
		},
	}
	if err := k.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		k.logger.Error().Err(err).Str("event", ev.Type).Msg("Failed to publish sync event")
		return
	}
	k.logger.Debug().Str("event", ev.Type).Str("sync_run_id", ev.SyncRunID).Msg("Published sync event")
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
