package bus

import "context"

// Bus is the publish/subscribe transport named in spec §6: a one-way
// viewer_channel (Publish) and a request/reply events_channel (Request),
// used by ReplayLayer to pull the next recorded transaction to replay.
type Bus interface {
	// Publish sends vc on viewer_channel. It must not block the caller
	// for long and must not fail the transaction that produced vc —
	// implementations log and drop on transport error rather than
	// returning it to a caller that cannot act on it.
	Publish(vc *ViewerContext)

	// Request sends a replay trigger on events_channel and waits for its
	// reply, identified by id.
	Request(ctx context.Context, id string) (*ViewerContext, error)
}
