package redistribute

import "context"

// Writer is the quiesce-able write path the split/merge controller drains
// before snapshotting an event horizon (spec.md §4.6 step 1). Satisfied by
// *events.PersisterBuffer.
type Writer interface {
	FlushEventBuffers(ctx context.Context) error
	GetEventProcessingCount() int
}
