package service

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/events"
)

const recentCallsLimit = 10

// Publisher sends a payload on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// DisplayService fans queue events out to waiting-room displays and keeps
// the most recent calls for the public display endpoint.
type DisplayService struct {
	dispatcher events.Dispatcher
	publisher  Publisher
	channel    string
	logger     *zap.Logger

	mu     sync.Mutex
	recent []events.Event
}

// NewDisplayService creates the service. publisher may be nil.
func NewDisplayService(dispatcher events.Dispatcher, publisher Publisher, channel string, logger *zap.Logger) *DisplayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DisplayService{
		dispatcher: dispatcher,
		publisher:  publisher,
		channel:    channel,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to queue events.
func (d *DisplayService) RegisterHandlers() {
	if d.dispatcher == nil {
		return
	}
	d.dispatcher.Subscribe(events.EventTicketIssued, d.handleIssued)
	d.dispatcher.Subscribe(events.EventTicketCalled, d.handleCall)
	d.dispatcher.Subscribe(events.EventTicketRecalled, d.handleCall)
	d.dispatcher.Subscribe(events.EventTicketClosed, d.forward)
}

func (d *DisplayService) handleIssued(ctx context.Context, event events.Event) error {
	d.logger.Info("TicketIssued", zap.String("department", event.Department), zap.String("ticket_code", event.TicketCode))
	return d.forward(ctx, event)
}

func (d *DisplayService) handleCall(ctx context.Context, event events.Event) error {
	d.logger.Info("TicketCalled",
		zap.String("department", event.Department),
		zap.String("ticket_code", event.TicketCode),
		zap.String("event_type", string(event.Type)))
	d.mu.Lock()
	d.recent = append(d.recent, event)
	if over := len(d.recent) - recentCallsLimit; over > 0 {
		d.recent = append([]events.Event(nil), d.recent[over:]...)
	}
	d.mu.Unlock()
	return d.forward(ctx, event)
}

func (d *DisplayService) forward(ctx context.Context, event events.Event) error {
	if d.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return d.publisher.Publish(ctx, d.channel, payload)
}

// Recent returns the latest calls, newest first.
func (d *DisplayService) Recent() []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]events.Event, 0, len(d.recent))
	for i := len(d.recent) - 1; i >= 0; i-- {
		out = append(out, d.recent[i])
	}
	return out
}
