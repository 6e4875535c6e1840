package notify

import (
	"context"
	"sync"

	"subscription-service/internal/domain/ports"
)

// LogNotifier writes notifications to the structured log. A real
// delivery channel (email, push) would implement the same port.
type LogNotifier struct {
	logger ports.Logger
}

// NewLogNotifier creates a notifier that logs every event
func NewLogNotifier(logger ports.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send implements ports.Notifier. It never fails.
func (n *LogNotifier) Send(_ context.Context, notification ports.Notification) {
	fields := []ports.Field{
		ports.String("event", string(notification.Event)),
		ports.String("user_id", notification.UserID),
	}
	for k, v := range notification.Data {
		fields = append(fields, ports.String(k, v))
	}
	n.logger.Info("notification", fields...)
}

// Recorder captures notifications for assertions in tests
type Recorder struct {
	mu   sync.Mutex
	sent []ports.Notification
}

// NewRecorder creates an empty notification recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send implements ports.Notifier
func (r *Recorder) Send(_ context.Context, n ports.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Sent returns a copy of all captured notifications
func (r *Recorder) Sent() []ports.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// ByEvent returns captured notifications matching the event
func (r *Recorder) ByEvent(event ports.NotificationEvent) []ports.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ports.Notification
	for _, n := range r.sent {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}
