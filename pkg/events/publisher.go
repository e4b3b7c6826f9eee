package events

import "context"

// EventPublisher delivers watcher events.
type EventPublisher interface {
	PublishChanged(ctx context.Context, event *WatcherChangedEvent) error
	PublishLoad(ctx context.Context, report *LoadReport) error
}

// NoOpPublisher discards every event (standalone processes without COMMS).
type NoOpPublisher struct{}

// PublishChanged is a no-op.
func (p *NoOpPublisher) PublishChanged(_ context.Context, _ *WatcherChangedEvent) error {
	return nil
}

// PublishLoad is a no-op.
func (p *NoOpPublisher) PublishLoad(_ context.Context, _ *LoadReport) error {
	return nil
}

// CallbackPublisher hands events to functions (for tests and in-process consumers).
// A nil callback drops that kind of event.
type CallbackPublisher struct {
	onChanged func(ctx context.Context, event *WatcherChangedEvent) error
	onLoad    func(ctx context.Context, report *LoadReport) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(
	onChanged func(ctx context.Context, event *WatcherChangedEvent) error,
	onLoad func(ctx context.Context, report *LoadReport) error,
) *CallbackPublisher {
	return &CallbackPublisher{onChanged: onChanged, onLoad: onLoad}
}

// PublishChanged calls the change callback.
func (p *CallbackPublisher) PublishChanged(ctx context.Context, event *WatcherChangedEvent) error {
	if p.onChanged == nil {
		return nil
	}
	return p.onChanged(ctx, event)
}

// PublishLoad calls the load callback.
func (p *CallbackPublisher) PublishLoad(ctx context.Context, report *LoadReport) error {
	if p.onLoad == nil {
		return nil
	}
	return p.onLoad(ctx, report)
}
