package tasks

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_scheduler/internal/contentapi"
	"github.com/austindbirch/harbor_scheduler/internal/schedule"
	"github.com/austindbirch/harbor_scheduler/internal/tracing"
)

// ContentClient is the slice of the content API an executor needs.
// *contentapi.Client satisfies it.
type ContentClient interface {
	Entry(ctx context.Context, spaceID, entryID string) (contentapi.Entry, error)
	Publish(ctx context.Context, e contentapi.Entry) error
	Unpublish(ctx context.Context, e contentapi.Entry) error
}

// ClientFactory builds a client scoped to one management token.
type ClientFactory func(token string) ContentClient

// NewClientFactory returns a factory producing real API clients sharing opts.
func NewClientFactory(opts ...contentapi.Option) ClientFactory {
	return func(token string) ContentClient {
		return contentapi.New(token, opts...)
	}
}

// Executor performs due publish and unpublish jobs.
type Executor struct {
	newClient ClientFactory
}

func NewExecutor(f ClientFactory) *Executor {
	return &Executor{newClient: f}
}

// Perform fetches the entry with a client built for token and applies the
// lane's action to it. Errors are returned unchanged for the caller's retry
// policy.
func (x *Executor) Perform(ctx context.Context, lane schedule.Lane, spaceID, entryID, token string) error {
	ctx, span := tracing.StartSpan(ctx, "tasks.Perform",
		attribute.String("lane", lane.String()),
		attribute.String("space_id", spaceID),
		attribute.String("entry_id", entryID),
	)
	defer span.End()

	var action func(ContentClient, context.Context, contentapi.Entry) error
	switch lane {
	case schedule.Publish:
		action = ContentClient.Publish
	case schedule.Unpublish:
		action = ContentClient.Unpublish
	default:
		return fmt.Errorf("tasks: unknown lane %q", lane)
	}

	client := x.newClient(token)
	entry, err := client.Entry(ctx, spaceID, entryID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}
	tracing.AddSpanEvent(ctx, "contentapi.entry_fetched", attribute.Int("version", entry.Version))

	if err := action(client, ctx, entry); err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}
	return nil
}
