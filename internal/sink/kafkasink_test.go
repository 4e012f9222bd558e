package sink

import (
	"encoding/json"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/shortontech/originguard/internal/event"
)

func assertStringField(t *testing.T, got, want, field string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", field, got, want)
	}
}

func TestNewKafkaSinkFromEnv(t *testing.T) {
	t.Run("uses defaults when env not set", func(t *testing.T) {
		for _, k := range []string{"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_ACKS", "KAFKA_COMPRESSION", "KAFKA_SASL_MECHANISM", "KAFKA_TLS_CA", "KAFKA_TLS_SKIP_VERIFY"} {
			t.Setenv(k, "")
		}
		s := NewKafkaSinkFromEnv(nil)
		if len(s.config.Brokers) != 1 || s.config.Brokers[0] != "localhost:9092" {
			t.Errorf("Brokers = %v", s.config.Brokers)
		}
		assertStringField(t, s.config.Topic, "originguard.audit", "Topic")
		assertStringField(t, s.config.Acks, "all", "Acks")
	})

	t.Run("uses env variables when set", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "broker1:9092 , broker2:9092")
		t.Setenv("KAFKA_TOPIC", "custom.topic")
		t.Setenv("KAFKA_ACKS", "1")
		t.Setenv("KAFKA_COMPRESSION", "zstd")
		t.Setenv("KAFKA_SASL_MECHANISM", "PLAIN")
		t.Setenv("KAFKA_SASL_USER", "test-user")
		t.Setenv("KAFKA_SASL_PASSWORD", "test-pass")
		t.Setenv("KAFKA_TLS_CA", "/path/to/ca.pem")
		t.Setenv("KAFKA_TLS_SKIP_VERIFY", "yes")

		s := NewKafkaSinkFromEnv(nil)
		if len(s.config.Brokers) != 2 || s.config.Brokers[1] != "broker2:9092" {
			t.Errorf("Brokers = %v", s.config.Brokers)
		}
		assertStringField(t, s.config.Topic, "custom.topic", "Topic")
		assertStringField(t, s.config.Acks, "1", "Acks")
		assertStringField(t, s.config.Compression, "zstd", "Compression")
		assertStringField(t, s.config.SASLUser, "test-user", "SASLUser")
		assertStringField(t, s.config.TLSCAPath, "/path/to/ca.pem", "TLSCAPath")
		if !s.config.TLSSkipVerify {
			t.Error("TLSSkipVerify = false, want true")
		}
	})
}

func TestKafkaSinkConfigMap(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*KafkaConfig)
		want   map[string]kafka.ConfigValue
		absent []string
	}{
		{
			name:   "basic configuration",
			mutate: func(*KafkaConfig) {},
			want:   map[string]kafka.ConfigValue{"bootstrap.servers": "k1:9092,k2:9092", "acks": "all"},
			absent: []string{"compression.type", "security.protocol"},
		},
		{
			name:   "with compression",
			mutate: func(c *KafkaConfig) { c.Compression = "gzip" },
			want:   map[string]kafka.ConfigValue{"compression.type": "gzip"},
		},
		{
			name:   "with SASL configuration",
			mutate: func(c *KafkaConfig) { c.SASLMechanism, c.SASLUser, c.SASLPassword = "SCRAM-SHA-512", "u", "p" },
			want:   map[string]kafka.ConfigValue{"security.protocol": "SASL_SSL", "sasl.mechanism": "SCRAM-SHA-512", "sasl.username": "u", "sasl.password": "p"},
		},
		{
			name:   "with TLS configuration",
			mutate: func(c *KafkaConfig) { c.TLSCAPath = "/ca.pem" },
			want:   map[string]kafka.ConfigValue{"security.protocol": "SSL", "ssl.ca.location": "/ca.pem"},
		},
		{
			name:   "with SASL and TLS",
			mutate: func(c *KafkaConfig) { c.SASLMechanism, c.TLSCAPath = "PLAIN", "/ca.pem" },
			want:   map[string]kafka.ConfigValue{"security.protocol": "SASL_SSL", "ssl.ca.location": "/ca.pem"},
		},
		{
			name:   "with TLS skip verify",
			mutate: func(c *KafkaConfig) { c.TLSSkipVerify = true },
			want:   map[string]kafka.ConfigValue{"ssl.endpoint.identification.algorithm": "none"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewKafkaSink([]string{"k1:9092", "k2:9092"}, "t", nil)
			tt.mutate(&s.config)
			cm := s.configMap()
			for k, want := range tt.want {
				if got := cm[k]; got != want {
					t.Errorf("%s = %v, want %v", k, got, want)
				}
			}
			for _, k := range tt.absent {
				if _, ok := cm[k]; ok {
					t.Errorf("%s should not be set", k)
				}
			}
		})
	}
}

func TestKafkaSinkMessage(t *testing.T) {
	s := NewKafkaSink([]string{"k:9092"}, "audit", nil)

	t.Run("keyed by fingerprint", func(t *testing.T) {
		e := event.New(event.TypeVerdict)
		e.Fingerprint = "abc123"
		msg, err := s.message(e)
		if err != nil {
			t.Fatal(err)
		}
		if string(msg.Key) != "abc123" || *msg.TopicPartition.Topic != "audit" {
			t.Errorf("key %q topic %q", msg.Key, *msg.TopicPartition.Topic)
		}
		var back event.Event
		if err := json.Unmarshal(msg.Value, &back); err != nil || back.EventID != e.EventID {
			t.Errorf("value does not round trip: %v", err)
		}
		if string(msg.Headers[0].Value) != event.TypeVerdict {
			t.Errorf("event_type header = %q", msg.Headers[0].Value)
		}
	})

	t.Run("falls back to event id", func(t *testing.T) {
		e := event.New(event.TypeDomainValidation)
		msg, err := s.message(e)
		if err != nil {
			t.Fatal(err)
		}
		if string(msg.Key) != e.EventID {
			t.Errorf("key = %q, want event id", msg.Key)
		}
	})
}

func TestKafkaSinkWithoutProducer(t *testing.T) {
	s := NewKafkaSink([]string{"k:9092"}, "t", nil)
	if s.Name() != "kafka" {
		t.Errorf("Name() = %q", s.Name())
	}
	if err := s.Enqueue(event.New(event.TypeVerdict)); err == nil {
		t.Error("Enqueue before Start should fail")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close without Start = %v", err)
	}
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"YES", false, true},
		{"t", false, true},
		{"0", true, false},
		{"no", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("SINK_TEST_BOOL", tt.value)
			if got := getBoolEnv("SINK_TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("getBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
			}
		})
	}
}
