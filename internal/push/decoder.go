package push

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/transport"
)

// Subscriber is the subscription half of the transport manager.
type Subscriber interface {
	Subscribe(event string, h transport.Handler) func()
}

// Sink receives decoded events in arrival order. Push blocks until the
// event is accepted, so a slow sink slows the transport read loop instead of
// losing events.
type Sink interface {
	Push(ctx context.Context, evt Event) error
}

// Decoder turns raw push frames into typed events for a sink.
type Decoder struct {
	sink   Sink
	logger *zap.Logger
}

// NewDecoder creates a decoder delivering to sink.
func NewDecoder(sink Sink, logger *zap.Logger) *Decoder {
	return &Decoder{sink: sink, logger: logger}
}

// Register subscribes a handler for every known push event and returns a
// function that removes them all.
func (d *Decoder) Register(s Subscriber) func() {
	unsubs := make([]func(), 0, len(Names))
	for _, name := range Names {
		name := name
		unsubs = append(unsubs, s.Subscribe(name, func(raw json.RawMessage) {
			d.Handle(name, raw)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handle validates one payload and hands it to the sink. Invalid payloads are
// logged and counted; nothing is delivered for them.
func (d *Decoder) Handle(name string, raw json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncPushEvent(name, "panic")
			d.logger.Error("push decode panicked", zap.String("event", name), zap.Any("panic", r))
		}
	}()

	evt, err := Decode(name, raw)
	if err != nil {
		metrics.IncPushEvent(name, "rejected")
		d.logger.Warn("rejected push payload", zap.String("event", name), zap.Error(err))
		return
	}
	if err := d.sink.Push(context.Background(), evt); err != nil {
		metrics.IncPushEvent(name, "undelivered")
		d.logger.Warn("push event not delivered", zap.String("event", name), zap.Error(err))
		return
	}
	metrics.IncPushEvent(name, "ok")
}
