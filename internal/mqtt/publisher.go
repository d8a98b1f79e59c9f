package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/micro-ha/hive-bridge/internal/entity"
)

// Sink receives retained messages.
type Sink interface {
	Publish(topic string, payload []byte) error
}

// ViewSource yields the current entity views.
type ViewSource interface {
	Views() []entity.View
}

// Publisher mirrors entity views to retained state topics. Notifications
// are coalesced in a one-slot channel so the poll that triggers them is
// never blocked by the broker.
type Publisher struct {
	sink   Sink
	views  ViewSource
	prefix string
	logger *slog.Logger
	notify chan struct{}
}

func NewPublisher(sink Sink, views ViewSource, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{
		sink:   sink,
		views:  views,
		prefix: prefix,
		logger: logger,
		notify: make(chan struct{}, 1),
	}
}

// Notify is a session observer.
func (p *Publisher) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run publishes after every notification until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
			p.PublishAll()
		}
	}
}

// PublishAll sends every view once and returns how many were published.
func (p *Publisher) PublishAll() int {
	published := 0
	for _, view := range p.views.Views() {
		payload, err := json.Marshal(view)
		if err != nil {
			p.logger.Error("failed to encode entity view", "entity_id", view.EntityID, "err", err)
			continue
		}
		if err := p.sink.Publish(StateTopic(p.prefix, view.EntityID), payload); err != nil {
			p.logger.Warn("mqtt publish failed", "entity_id", view.EntityID, "err", err)
			continue
		}
		published++
	}
	p.logger.Debug("entity states published", "count", published)
	return published
}
