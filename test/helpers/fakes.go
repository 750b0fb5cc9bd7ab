package helpers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
)

// FakeDiscoverer is a scriptable test double for the FTP discovery port
type FakeDiscoverer struct {
	mu sync.Mutex

	// Refs returned per lineID
	Refs map[int][]ingestion.FileRef

	// Err fails every Discover call when set
	Err error

	// Calls records the lineIDs queried, in order
	Calls []int
}

func (f *FakeDiscoverer) Discover(ctx context.Context, lineID int, windowStart, windowEnd time.Time) ([]ingestion.FileRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, lineID)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Refs[lineID], nil
}

// FakeDownloader serves file bodies from an in-memory map keyed by path
type FakeDownloader struct {
	mu sync.Mutex

	Files map[string][]byte

	// Err fails every Download call when set
	Err error

	// Downloads records the paths fetched, in order
	Downloads []string
}

func (f *FakeDownloader) Download(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Downloads = append(f.Downloads, path)
	if f.Err != nil {
		return nil, f.Err
	}
	body, ok := f.Files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return body, nil
}

// CaptureNotifier records notifications for assertions
type CaptureNotifier struct {
	mu sync.Mutex

	Notifications []ingestion.Notification
}

func (c *CaptureNotifier) Notify(ctx context.Context, n ingestion.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications = append(c.Notifications, n)
}

// Count returns the number of captured notifications
func (c *CaptureNotifier) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Notifications)
}

// Titles returns the captured notification titles in order
func (c *CaptureNotifier) Titles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	titles := make([]string, 0, len(c.Notifications))
	for _, n := range c.Notifications {
		titles = append(titles, n.Title)
	}
	return titles
}
