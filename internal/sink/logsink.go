package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shortontech/originguard/internal/event"
)

// LogSink appends events as NDJSON to a rotated file.
type LogSink struct {
	dst string
	log *zap.Logger

	mu sync.Mutex
	w  io.WriteCloser
}

// NewLogSinkFromEnv reads the destination from AUDIT_LOG_PATH.
func NewLogSinkFromEnv(logger *zap.Logger) *LogSink {
	return NewLogSink(getEnvOr("AUDIT_LOG_PATH", "audit.ndjson"), logger)
}

func NewLogSink(dst string, logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{dst: dst, log: logger.Named("logsink")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Start(ctx context.Context) error {
	// lumberjack opens lazily; touch the file so permission errors surface here
	f, err := os.OpenFile(s.dst, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_ = f.Close()

	s.mu.Lock()
	s.w = &lumberjack.Logger{Filename: s.dst, MaxSize: 100, MaxBackups: 5, Compress: true}
	s.mu.Unlock()
	s.log.Info("writing audit events", zap.String("path", s.dst))
	return nil
}

func (s *LogSink) Enqueue(e event.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return errors.New("log sink not started")
	}
	_, err = s.w.Write(b)
	return err
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.w = nil
	return err
}
