package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka event sink.
type KafkaConfig struct {
	Brokers  []string      `koanf:"brokers" json:"brokers"`
	Topic    string        `koanf:"topic" json:"topic"`
	ClientID string        `koanf:"client_id" json:"client_id"`
	Timeout  time.Duration `koanf:"timeout" json:"timeout"`
}

// Enabled reports whether any broker is configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// NewSyncProducer builds a sarama SyncProducer for cfg.
func NewSyncProducer(cfg KafkaConfig) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Retry.Max = 3
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	if cfg.Timeout > 0 {
		sc.Producer.Timeout = cfg.Timeout
		sc.Net.DialTimeout = cfg.Timeout
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaSink forwards bus events to a Kafka topic as JSON, keyed by event type.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaSink creates a sink writing to topic.
func NewKafkaSink(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{producer: producer, topic: topic, logger: logger.Named("kafka")}
}

// Send publishes ev and returns the producer error, if any.
func (s *KafkaSink) Send(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.Type),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	return nil
}

// Handle is a bus Handler. Failures are logged; the bus never blocks on Kafka errors.
func (s *KafkaSink) Handle(ev Event) {
	if err := s.Send(ev); err != nil {
		s.logger.Warn("forward event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// Close closes the underlying producer.
func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

var saramaLoggerOnce sync.Once

// InstallSaramaLogger routes sarama's internal logging to l at debug level.
// Only the first call has an effect.
func InstallSaramaLogger(l *zap.Logger) {
	saramaLoggerOnce.Do(func() {
		sarama.Logger = &saramaLogger{l: l.Named("sarama")}
	})
}

var _ sarama.StdLogger = (*saramaLogger)(nil)

type saramaLogger struct {
	l *zap.Logger
}

func (s *saramaLogger) Print(v ...interface{}) {
	s.l.Debug(strings.TrimSpace(fmt.Sprint(v...)))
}

func (s *saramaLogger) Printf(format string, v ...interface{}) {
	s.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (s *saramaLogger) Println(v ...interface{}) {
	s.l.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}
