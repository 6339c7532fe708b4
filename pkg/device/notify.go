package device

import (
	"time"

	"github.com/rs/zerolog/log"
)

// NotificationType names a session event published to subscribers.
type NotificationType string

const (
	NotifyConnected         NotificationType = "connected"
	NotifyDisconnected      NotificationType = "disconnected"
	NotifyConnectFailed     NotificationType = "connect_failed"
	NotifyStatus            NotificationType = "status"
	NotifyCount             NotificationType = "count"
	NotifyOperationStarted  NotificationType = "operation_started"
	NotifyOperationFinished NotificationType = "operation_finished"
	NotifyDeviceError       NotificationType = "device_error"
)

// Notification is pushed to subscribers whenever session state changes or
// the device reports something.
type Notification struct {
	Type       NotificationType `json:"type"`
	Time       time.Time        `json:"time"`
	State      ConnectionState  `json:"state"`
	Op         Op               `json:"op,omitempty"`
	TemplateID int              `json:"templateId,omitempty"`
	Count      int              `json:"count,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// Subscribe registers a listener. Slow listeners lose notifications rather
// than stalling the session. The returned func unsubscribes and closes the
// channel; the channel is also closed by Session.Close.
func (s *Session) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notification, buffer)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) emit(n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- n:
		default:
			log.Debug().Uint64("subscriber", id).Str("type", string(n.Type)).Msg("subscriber lagging, notification dropped")
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subsClosed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
