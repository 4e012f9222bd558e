package sink

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/shortontech/originguard/internal/event"
	"github.com/shortontech/originguard/internal/metrics"
)

type fakeSink struct {
	name     string
	startErr error
	failWith error
	got      []event.Event
	closed   bool
}

func (f *fakeSink) Start(context.Context) error { return f.startErr }
func (f *fakeSink) Enqueue(e event.Event) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.got = append(f.got, e)
	return nil
}
func (f *fakeSink) Close() error { f.closed = true; return nil }
func (f *fakeSink) Name() string { return f.name }

func TestFanout(t *testing.T) {
	m := metrics.NewMetrics(nil)
	ok := &fakeSink{name: "ok"}
	broken := &fakeSink{name: "broken", failWith: errors.New("queue full")}
	dead := &fakeSink{name: "dead", startErr: errors.New("no broker")}

	f := NewFanout([]Sink{ok, broken, dead}, m, zaptest.NewLogger(t))
	if err := f.Start(context.Background()); err == nil {
		t.Error("Start() should report the failed sink")
	}
	if !reflect.DeepEqual(f.Names(), []string{"ok", "broken"}) {
		t.Errorf("Names() = %v", f.Names())
	}

	var emit event.Emitter = f.Emit
	emit(event.New(event.TypeVerdict))
	emit(event.New(event.TypeVerdict))

	if len(ok.got) != 2 {
		t.Errorf("ok sink got %d events, want 2", len(ok.got))
	}
	if got := testutil.ToFloat64(m.EventsEmitted.WithLabelValues("ok")); got != 2 {
		t.Errorf("events emitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SinkErrors.WithLabelValues("broken", "enqueue_error")); got != 2 {
		t.Errorf("enqueue errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SinkErrors.WithLabelValues("dead", "start_error")); got != 1 {
		t.Errorf("start errors = %v, want 1", got)
	}

	if err := f.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if !ok.closed || dead.closed {
		t.Error("only started sinks should be closed")
	}
}

func TestFromNames(t *testing.T) {
	sinks, err := FromNames([]string{"log", " KAFKA ", "log", ""}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sinks) != 2 || sinks[0].Name() != "log" || sinks[1].Name() != "kafka" {
		t.Errorf("sinks = %v", sinks)
	}

	if _, err := FromNames([]string{"pubsub"}, nil); !errors.Is(err, ErrUnknownOutput) {
		t.Errorf("err = %v, want ErrUnknownOutput", err)
	}
}
