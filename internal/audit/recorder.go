package audit

import "context"

// Recorder is the append-only audit collaborator. Fire-and-forget from the
// core's perspective, but every terminal transition must produce a record.
type Recorder interface {
	RecordTransition(ctx context.Context, orderID string, actorID int64, from, to string, context map[string]any) error
}
