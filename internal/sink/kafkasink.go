package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/shortontech/originguard/internal/event"
)

// KafkaConfig holds configuration for Kafka producer
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Acks        string
	Compression string

	// SASL config
	SASLMechanism string
	SASLUser      string
	SASLPassword  string

	// TLS config
	TLSCAPath     string
	TLSSkipVerify bool
}

// KafkaSink produces audit events keyed by fingerprint so one client's
// history lands on one partition.
type KafkaSink struct {
	config   KafkaConfig
	producer *kafka.Producer
	log      *zap.Logger
}

// NewKafkaSinkFromEnv creates a KafkaSink from environment variables
func NewKafkaSinkFromEnv(logger *zap.Logger) *KafkaSink {
	brokersStr := getEnvOr("KAFKA_BROKERS", "localhost:9092")
	brokers := strings.Split(brokersStr, ",")
	for i, broker := range brokers {
		brokers[i] = strings.TrimSpace(broker)
	}

	s := NewKafkaSink(brokers, getEnvOr("KAFKA_TOPIC", "originguard.audit"), logger)
	s.config.Acks = getEnvOr("KAFKA_ACKS", "all")
	s.config.Compression = os.Getenv("KAFKA_COMPRESSION")
	s.config.SASLMechanism = os.Getenv("KAFKA_SASL_MECHANISM")
	s.config.SASLUser = os.Getenv("KAFKA_SASL_USER")
	s.config.SASLPassword = os.Getenv("KAFKA_SASL_PASSWORD")
	s.config.TLSCAPath = os.Getenv("KAFKA_TLS_CA")
	s.config.TLSSkipVerify = getBoolEnv("KAFKA_TLS_SKIP_VERIFY", false)
	return s
}

// NewKafkaSink creates a KafkaSink with explicit configuration
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		config: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
			Acks:    "all",
		},
		log: logger.Named("kafka"),
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) configMap() kafka.ConfigMap {
	configMap := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(s.config.Brokers, ","),
		"acks":              s.config.Acks,
		"retries":           10,
		"retry.backoff.ms":  100,
		"batch.size":        16384,
		"linger.ms":         10,
	}

	if s.config.Compression != "" {
		configMap["compression.type"] = s.config.Compression
	}

	if s.config.SASLMechanism != "" {
		configMap["security.protocol"] = "SASL_SSL"
		configMap["sasl.mechanism"] = s.config.SASLMechanism
		if s.config.SASLUser != "" {
			configMap["sasl.username"] = s.config.SASLUser
		}
		if s.config.SASLPassword != "" {
			configMap["sasl.password"] = s.config.SASLPassword
		}
	}

	if s.config.TLSCAPath != "" {
		if s.config.SASLMechanism == "" {
			configMap["security.protocol"] = "SSL"
		}
		configMap["ssl.ca.location"] = s.config.TLSCAPath
	}

	if s.config.TLSSkipVerify {
		configMap["ssl.endpoint.identification.algorithm"] = "none"
	}
	return configMap
}

func (s *KafkaSink) Start(ctx context.Context) error {
	configMap := s.configMap()
	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	s.producer = producer
	go s.handleDeliveryReports(ctx)

	s.log.Info("producer started",
		zap.Strings("brokers", s.config.Brokers),
		zap.String("topic", s.config.Topic))
	return nil
}

func (s *KafkaSink) Enqueue(e event.Event) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	msg, err := s.message(e)
	if err != nil {
		return err
	}

	if err := s.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

func (s *KafkaSink) message(e event.Event) (*kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}

	key := e.Fingerprint
	if key == "" {
		key = e.EventID
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.EventID)},
			{Key: "schema", Value: []byte("v1")},
		},
	}, nil
}

func (s *KafkaSink) Close() error {
	if s.producer == nil {
		return nil
	}

	// wait up to 10 seconds for in-flight messages
	remaining := s.producer.Flush(10 * 1000)
	s.producer.Close()
	if remaining > 0 {
		return fmt.Errorf("failed to flush %d remaining messages", remaining)
	}
	return nil
}

func (s *KafkaSink) handleDeliveryReports(ctx context.Context) {
	events := s.producer.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					s.log.Warn("delivery failed", zap.Error(e.TopicPartition.Error))
				}
			case kafka.Error:
				s.log.Error("client error", zap.String("code", e.Code().String()), zap.Error(e))
			}
		}
	}
}

// Helper functions
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return defaultValue
}
