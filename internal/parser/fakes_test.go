package parser

import (
	"context"
	"sync"

	"github.com/afikmenashe/gocart/internal/archive"
	"github.com/afikmenashe/gocart/internal/database"
	"github.com/afikmenashe/gocart/internal/events"
)

// FakeArchiver records bundles instead of writing them.
type FakeArchiver struct {
	Bundles []archive.Bundle
	Err     error
}

func (f *FakeArchiver) Write(ctx context.Context, b archive.Bundle) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	f.Bundles = append(f.Bundles, b)
	return "/archive/" + b.Alert.SupereventID, nil
}

// FakeStorage is an in-memory catalogue keyed like the alerts table.
type FakeStorage struct {
	Rows []database.Alert
	Err  error
	seen map[string]bool
}

func (f *FakeStorage) InsertAlertIdempotent(ctx context.Context, a database.Alert) (*int64, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := a.SupereventID + "/" + a.AlertType + "/" + a.TimeCreated.String()
	if f.seen[key] {
		return nil, nil
	}
	f.seen[key] = true
	f.Rows = append(f.Rows, a)
	id := int64(len(f.Rows))
	return &id, nil
}

// FakePublisher collects published notices.
type FakePublisher struct {
	Notices []*events.AlertPersisted
	Err     error
}

func (f *FakePublisher) Publish(ctx context.Context, n *events.AlertPersisted) error {
	if f.Err != nil {
		return f.Err
	}
	f.Notices = append(f.Notices, n)
	return nil
}

// FakeMetrics counts recorded metrics.
type FakeMetrics struct {
	mu        sync.Mutex
	Published int
	Custom    map[string]int
}

func (f *FakeMetrics) RecordPublished() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published++
}

func (f *FakeMetrics) IncrementCustom(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Custom == nil {
		f.Custom = make(map[string]int)
	}
	f.Custom[name]++
}
