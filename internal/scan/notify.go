package scan

import (
	"context"
	"log/slog"
	"time"
)

// NotificationKind names a run-level notification.
type NotificationKind string

const (
	NotifyStarted   NotificationKind = "scan.started"
	NotifyDone      NotificationKind = "scan.done" // always sent once a run started
	NotifyRunFailed NotificationKind = "scan.failed"
	NotifyImproved  NotificationKind = "improve.done"
)

// Notification is a user-facing message about a run as a whole.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	RunID     string           `json:"run_id"`
	Message   string           `json:"message"`
	Items     int              `json:"items"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Error     string           `json:"error,omitempty"`
	At        time.Time        `json:"at"`
}

// Notifier receives run notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Kind == NotifyRunFailed {
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, "scan.notify",
		"kind", n.Kind,
		"run_id", n.RunID,
		"message", n.Message,
		"items", n.Items,
		"succeeded", n.Succeeded,
		"failed", n.Failed,
		"error", n.Error,
	)
}

// Notifiers fans a notification out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(n Notification) {
	for _, x := range ns {
		if x != nil {
			x.Notify(n)
		}
	}
}
