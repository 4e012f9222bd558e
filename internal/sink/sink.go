// Package sink delivers audit events to external destinations.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shortontech/originguard/internal/event"
	"github.com/shortontech/originguard/internal/metrics"
)

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(e event.Event) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}

// ErrUnknownOutput is returned by FromNames for an unrecognized output name.
var ErrUnknownOutput = errors.New("unknown output")

// FromNames builds one sink per configured output name. Supported names are
// "log" and "kafka"; duplicates are ignored.
func FromNames(names []string, logger *zap.Logger) ([]Sink, error) {
	seen := make(map[string]bool)
	var sinks []Sink
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case "log":
			sinks = append(sinks, NewLogSinkFromEnv(logger))
		case "kafka":
			sinks = append(sinks, NewKafkaSinkFromEnv(logger))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownOutput, raw)
		}
	}
	return sinks, nil
}

// Fanout forwards every event to each sink and records the outcome.
type Fanout struct {
	sinks   []Sink
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewFanout(sinks []Sink, m *metrics.Metrics, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{sinks: sinks, metrics: m, log: logger.Named("sink")}
}

// Start starts every sink. Sinks that fail to start are dropped from the
// fanout; the first failure is returned after all sinks were tried.
func (f *Fanout) Start(ctx context.Context) error {
	var firstErr error
	started := f.sinks[:0]
	for _, s := range f.sinks {
		if err := s.Start(ctx); err != nil {
			f.log.Error("sink failed to start", zap.String("sink", s.Name()), zap.Error(err))
			f.metrics.IncrementSinkErrors(s.Name(), "start_error")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		f.log.Info("sink started", zap.String("sink", s.Name()))
		started = append(started, s)
	}
	f.sinks = started
	return firstErr
}

// Emit hands e to every sink. It satisfies event.Emitter.
func (f *Fanout) Emit(e event.Event) {
	for _, s := range f.sinks {
		if err := s.Enqueue(e); err != nil {
			f.log.Warn("enqueue failed",
				zap.String("sink", s.Name()),
				zap.String("event_id", e.EventID),
				zap.Error(err))
			f.metrics.IncrementSinkErrors(s.Name(), "enqueue_error")
			continue
		}
		f.metrics.IncrementEventsEmitted(s.Name())
	}
}

// Close closes every sink and joins their errors.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Names lists the active sinks.
func (f *Fanout) Names() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}
