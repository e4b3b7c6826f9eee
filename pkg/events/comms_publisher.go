package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/process-watchers/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalChangeSubject overrides the global change event subject.
	GlobalChangeSubject string
	// LoadSubject overrides the load report subject.
	LoadSubject string
}

// CommsPublisher publishes watcher events to COMMS subjects.
type CommsPublisher struct {
	nc                  *comms.Conn
	globalChangeSubject string
	loadSubject         string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{
		nc:                  nc,
		globalChangeSubject: commsutil.SubjectChangeEvent,
		loadSubject:         commsutil.SubjectLoad,
	}
	if opts != nil && opts.GlobalChangeSubject != "" {
		p.globalChangeSubject = opts.GlobalChangeSubject
	}
	if opts != nil && opts.LoadSubject != "" {
		p.loadSubject = opts.LoadSubject
	}
	return p
}

// PublishChanged publishes the event to the service's change subject and the global one.
func (p *CommsPublisher) PublishChanged(_ context.Context, event *WatcherChangedEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	for _, subject := range []string{commsutil.BuildChangeSubject(event.Service), p.globalChangeSubject} {
		if err := p.nc.Publish(subject, data); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
			return fmt.Errorf("%s - publish %s: %w", commsPublisherLogPrefix, subject, err)
		}
	}

	slog.Debug(fmt.Sprintf("%s - Published change of %s on %s", commsPublisherLogPrefix, event.Path, event.Service))
	return nil
}

// PublishLoad publishes a load report.
func (p *CommsPublisher) PublishLoad(_ context.Context, report *LoadReport) error {
	data, err := commsutil.EncodePayload(report)
	if err != nil {
		return fmt.Errorf("%s - failed to encode load report: %w", commsPublisherLogPrefix, err)
	}
	if err := p.nc.Publish(p.loadSubject, data); err != nil {
		return fmt.Errorf("%s - publish %s: %w", commsPublisherLogPrefix, p.loadSubject, err)
	}
	return nil
}
