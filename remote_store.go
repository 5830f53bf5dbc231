package pairsync

import "context"

// ChangeEventType identifies the kind of row change a notification carries.
type ChangeEventType string

const (
	// ChangeInsert is a newly committed MissionProgress row.
	ChangeInsert ChangeEventType = "insert"
	// ChangeUpdate is an update to an existing row.
	ChangeUpdate ChangeEventType = "update"
)

// ChangeEvent is one row-level change delivered by the remote store's
// push subscription. Events include echoes of this client's own writes.
type ChangeEvent struct {
	Type   ChangeEventType  `json:"type"`
	Record *MissionProgress `json:"record"`
}

// ChangeFeed is an open change-notification subscription scoped to a pair.
// The events channel closes when the feed is closed or the connection is
// lost.
type ChangeFeed interface {
	// Events returns the inbound event channel.
	Events() <-chan ChangeEvent
	// Close terminates the subscription. Safe to call more than once.
	Close() error
}

// RemoteResult is the outcome of a successfully acknowledged operation.
type RemoteResult struct {
	// Record is the authoritative post-write state of the target row,
	// carrying the remote-assigned id for operations that created it.
	Record *MissionProgress
	// Duplicate is true when the remote store had already applied an
	// operation with the same id; the write is a no-op and the call counts
	// as success.
	Duplicate bool
}

// RemoteStore is the authoritative store for mission-progress state. It is
// treated as opaque: row writes keyed by operation id for idempotency, a
// full-refresh read, and a push subscription.
type RemoteStore interface {
	// ApplyOperation applies one mutation. Re-applying an operation id the
	// store has already seen must return Duplicate=true rather than double
	// applying.
	//
	// TargetID may be a client-generated placeholder: a replay pass can send
	// an operation that was enqueued before the record's creation was
	// confirmed in the same pass. When the target id is unknown the store
	// must resolve the row by the payload's pair and mission ids instead,
	// preferring the live row when a cancelled predecessor also matches.
	ApplyOperation(ctx context.Context, op *PendingOperation) (*RemoteResult, error)

	// FetchPairState returns all MissionProgress rows for a pair.
	FetchPairState(ctx context.Context, pairID string) ([]*MissionProgress, error)

	// Subscribe opens a change-notification feed for a pair.
	Subscribe(ctx context.Context, pairID string) (ChangeFeed, error)
}

// PhotoStore stores photo blobs and returns a stable URL for each.
type PhotoStore interface {
	Upload(ctx context.Context, key string, blob []byte) (url string, err error)
}
