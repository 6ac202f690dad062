// Package notification delivers alert events to external side channels.
// Delivery is strictly best-effort: events are queued after the
// authoritative state change has been persisted, and a failed or dropped
// delivery never affects the drift cycle.
package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modelguard/drift-engine/internal/models"
)

// Event is the payload pushed to side channels when an alert is created
// or recurs.
type Event struct {
	ModelID         string           `json:"model_id"`
	AlertType       models.AlertType `json:"alert_type"`
	Severity        models.Severity  `json:"severity"`
	MetricName      string           `json:"metric_name"`
	MetricValue     float64          `json:"metric_value"`
	Threshold       float64          `json:"threshold"`
	OccurrenceCount int              `json:"occurrence_count"`
	WindowEnd       time.Time        `json:"window_end"`
}

// EventFromAlert builds the side-channel payload for an alert.
func EventFromAlert(alert *models.Alert) Event {
	return Event{
		ModelID:         alert.ModelID,
		AlertType:       alert.Type,
		Severity:        alert.Severity,
		MetricName:      alert.MetricName,
		MetricValue:     alert.MetricValue,
		Threshold:       alert.Threshold,
		OccurrenceCount: alert.OccurrenceCount,
		WindowEnd:       alert.WindowEnd,
	}
}

// Channel delivers events to one external destination.
type Channel interface {
	Send(ctx context.Context, event Event) error
	Name() string
}

// Dispatcher fans events out to channels from a bounded queue drained by
// a single goroutine. Publish never blocks; when the queue is full the
// event is dropped and counted in the log.
type Dispatcher struct {
	logger   *zap.Logger
	channels []Channel
	queue    chan Event

	closeOnce sync.Once
	done      chan struct{}
	drained   chan struct{}
}

// NewDispatcher starts the drain loop.
func NewDispatcher(queueSize int, channels []Channel, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		logger:   logger,
		channels: channels,
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
	go d.drain()
	return d
}

// Publish enqueues an event without blocking the caller.
func (d *Dispatcher) Publish(event Event) {
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("Notification queue full, dropping event",
			zap.String("model_id", event.ModelID),
			zap.String("metric", event.MetricName))
	}
}

func (d *Dispatcher) drain() {
	defer close(d.drained)
	for {
		select {
		case <-d.done:
			return
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, ch := range d.channels {
		if err := ch.Send(ctx, event); err != nil {
			d.logger.Warn("Notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("model_id", event.ModelID),
				zap.Error(err))
		}
	}
}

// Close stops the drain loop. Queued but undelivered events are dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() { close(d.done) })
	select {
	case <-d.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
