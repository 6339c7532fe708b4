package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/device"
)

const defaultRecentEvents = 50

// DeviceEvent is a persisted session notification.
type DeviceEvent struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	State      string    `json:"state"`
	Op         string    `json:"op,omitempty"`
	TemplateID int       `json:"templateId,omitempty"`
	Message    string    `json:"message,omitempty"`
	Host       string    `json:"host,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RecordEvent appends a device event.
func (s *Store) RecordEvent(ctx context.Context, ev DeviceEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO device_events (type, state, op, template_id, message, host, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Type, ev.State, ev.Op, ev.TemplateID, ev.Message, ev.Host, ev.CreatedAt.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "storage: record device event failed")
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]DeviceEvent, error) {
	if limit <= 0 {
		limit = defaultRecentEvents
	}
	rows, err := s.query(ctx,
		`SELECT id, type, state, op, template_id, message, host, created_at
		FROM device_events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list device events failed")
	}
	defer rows.Close()

	events := make([]DeviceEvent, 0, limit)
	for rows.Next() {
		var (
			ev        DeviceEvent
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.State, &ev.Op, &ev.TemplateID, &ev.Message, &ev.Host, &createdAt); err != nil {
			return nil, errors.Wrap(err, "storage: scan device event failed")
		}
		ev.CreatedAt = time.UnixMilli(createdAt)
		events = append(events, ev)
	}
	return events, errors.Wrap(rows.Err(), "storage: iterate device events failed")
}

// EventSink persists device events.
type EventSink interface {
	RecordEvent(ctx context.Context, ev DeviceEvent) error
}

type noopSink struct{}

func (noopSink) RecordEvent(context.Context, DeviceEvent) error { return nil }

// EventRecorder drains session notifications into an EventSink.
type EventRecorder struct {
	sink EventSink
	host string
}

// NewEventRecorder builds a recorder; a nil sink discards events.
func NewEventRecorder(sink EventSink, host string) *EventRecorder {
	if sink == nil {
		sink = noopSink{}
	}
	return &EventRecorder{sink: sink, host: host}
}

// Run persists notifications until ctx ends or the channel closes. Count
// and operation_started notifications are skipped; the rest are stored.
func (r *EventRecorder) Run(ctx context.Context, events <-chan device.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-events:
			if !ok {
				return nil
			}
			if !shouldRecord(n) {
				continue
			}
			ev := DeviceEvent{
				Type:       string(n.Type),
				State:      n.State.String(),
				TemplateID: n.TemplateID,
				Message:    n.Message,
				Host:       r.host,
				CreatedAt:  n.Time,
			}
			if n.Op != device.OpNone {
				ev.Op = n.Op.String()
			}
			if err := r.sink.RecordEvent(ctx, ev); err != nil {
				log.Warn().Err(err).Str("type", ev.Type).Msg("device event not recorded")
			}
		}
	}
}

func shouldRecord(n device.Notification) bool {
	switch n.Type {
	case device.NotifyCount, device.NotifyOperationStarted:
		return false
	default:
		return true
	}
}
