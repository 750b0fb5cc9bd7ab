package ingestion

import (
	"context"
	"time"
)

// Discoverer enumerates provider files for a cruise line across a window
type Discoverer interface {
	Discover(ctx context.Context, lineID int, windowStart, windowEnd time.Time) ([]FileRef, error)
}

// Downloader fetches one provider file by path
type Downloader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// Notification is a structured lifecycle message for the observability sink
type Notification struct {
	Title  string
	Body   string
	Fields map[string]string
}

// Notifier delivers lifecycle notifications. Delivery is best-effort:
// implementations must never return an error into the pipeline and never block
// beyond a short timeout.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NoopNotifier discards notifications (used when no sink is configured)
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, n Notification) {}
