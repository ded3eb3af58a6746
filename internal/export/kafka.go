package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/IBM/sarama"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/config"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

// KafkaExporter publishes analysis records to a Kafka topic, keyed by record id
type KafkaExporter struct {
	statsRecorder

	topic    string
	producer sarama.SyncProducer
	closed   atomic.Bool
}

// NewKafkaExporter connects a synchronous producer to the configured brokers
func NewKafkaExporter(cfg config.KafkaExportConfig) (*KafkaExporter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no brokers specified")
	}

	saramaConfig, err := newSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return NewKafkaExporterWithProducer(cfg.Topic, producer)
}

// NewKafkaExporterWithProducer wraps an existing producer
func NewKafkaExporterWithProducer(topic string, producer sarama.SyncProducer) (*KafkaExporter, error) {
	if topic == "" {
		return nil, fmt.Errorf("no topic specified")
	}
	return &KafkaExporter{topic: topic, producer: producer}, nil
}

func newSaramaConfig(cfg config.KafkaExportConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	if cfg.RequiredAcks != 0 {
		saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	}

	saramaConfig.ClientID = "devops-assistant"
	if cfg.ClientID != "" {
		saramaConfig.ClientID = cfg.ClientID
	}

	switch cfg.CompressionCodec {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	case "", "none":
		saramaConfig.Producer.Compression = sarama.CompressionNone
	default:
		return nil, fmt.Errorf("unsupported Kafka compression codec: %s", cfg.CompressionCodec)
	}

	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid Kafka version: %w", err)
		}
		saramaConfig.Version = version
	}

	if cfg.SASLEnabled {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = cfg.SASLUsername
		saramaConfig.Net.SASL.Password = cfg.SASLPassword

		switch cfg.SASLMechanism {
		case "SCRAM-SHA-256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	if cfg.EnableTLS {
		saramaConfig.Net.TLS.Enable = true
	}

	return saramaConfig, nil
}

// Export publishes one record
func (k *KafkaExporter) Export(ctx context.Context, record *types.Analysis) error {
	if k.closed.Load() {
		return ErrClosed
	}

	value, err := json.Marshal(record)
	if err != nil {
		k.recordFailure(1, err)
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(record.ID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("source"), Value: []byte(record.Source)},
		},
	}

	if _, _, err := k.producer.SendMessage(msg); err != nil {
		k.recordFailure(1, err)
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	k.recordSuccess(1, len(value))
	return nil
}

// Close closes the producer
func (k *KafkaExporter) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}
	return k.producer.Close()
}

// Name returns the exporter name
func (k *KafkaExporter) Name() string {
	return "kafka"
}
