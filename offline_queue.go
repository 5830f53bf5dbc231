package pairsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/rs/zerolog"
)

// payload encoding flags. The payload blob at rest is always
// snappy-compressed JSON; the flag byte records whether it was sealed by
// the encryptor afterwards.
const (
	payloadPlain     byte = 0x00
	payloadEncrypted byte = 0x01
)

// QueueConfig configures the offline operation queue.
type QueueConfig struct {
	// MaxOperations caps the number of queued operations per pair.
	// 0 means unlimited. When the cap is reached Enqueue fails with
	// ErrQueueExhausted.
	MaxOperations int `yaml:"max_operations"`
}

// DefaultQueueConfig returns default queue configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{MaxOperations: 1000}
}

// DrainResult summarizes one replay pass over the queue.
type DrainResult struct {
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	Remaining  int `json:"remaining"`
}

// ApplyFunc applies one queued operation against the remote store. A nil
// error or ErrDuplicateOperation removes the operation from the queue.
type ApplyFunc func(ctx context.Context, op *PendingOperation) error

// OperationQueue is the durable, ordered queue of mutations that could not
// be applied remotely. Operations replay in per-target FIFO order; a
// failure in one target's lane does not block operations for other targets.
//
// Removal happens only after remote acknowledgment, so a crash between
// remote application and local removal leaves the operation queued; the
// next drain re-sends it and the remote store rejects the duplicate
// operation id, which counts as success.
type OperationQueue struct {
	store     *LocalStore
	encryptor *Encryptor
	config    QueueConfig
	pairID    string
	logger    zerolog.Logger

	mu      sync.Mutex
	pending int // cached count, kept in sync with the store
}

// NewOperationQueue opens the queue for a pair, loading the persisted
// backlog count.
func NewOperationQueue(ctx context.Context, store *LocalStore, pairID string, encryptor *Encryptor, config QueueConfig, logger zerolog.Logger) (*OperationQueue, error) {
	n, err := store.CountPendingOperations(ctx, pairID)
	if err != nil {
		return nil, err
	}
	return &OperationQueue{
		store:     store,
		encryptor: encryptor,
		config:    config,
		pairID:    pairID,
		logger:    logger,
		pending:   n,
	}, nil
}

// Enqueue appends an operation to durable storage. It fails only when
// local storage is exhausted; that failure is fatal for the call because
// dropping the operation would lose user input.
func (q *OperationQueue) Enqueue(ctx context.Context, op *PendingOperation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.config.MaxOperations > 0 && q.pending >= q.config.MaxOperations {
		return ErrQueueExhausted
	}

	payload, err := q.encodePayload(&op.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := q.store.InsertPendingOperation(ctx, op, payload); err != nil {
		return err
	}
	q.pending++
	q.logger.Debug().
		Str("operation_id", op.OperationID).
		Str("kind", string(op.Kind)).
		Str("target_id", op.TargetID).
		Int("pending", q.pending).
		Msg("operation queued")
	return nil
}

// HasPending reports whether any operations await replay. O(1).
func (q *OperationQueue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending > 0
}

// PendingCount returns the number of queued operations.
func (q *OperationQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Retarget re-points queued operations from a temporary record id to the
// confirmed remote id so the next drain sends them against the real row.
func (q *OperationQueue) Retarget(ctx context.Context, tempID, realID string) error {
	return q.store.RetargetPendingOperations(ctx, tempID, realID)
}

// UpdatePayload rewrites a queued operation's payload in place.
func (q *OperationQueue) UpdatePayload(ctx context.Context, operationID string, payload *OperationPayload) error {
	encoded, err := q.encodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return q.store.UpdatePendingOperationPayload(ctx, operationID, encoded)
}

// Drain attempts to apply every queued operation in per-target FIFO order.
// When an operation fails with a transient error its target's lane stops
// for this pass, but lanes for other targets continue. Each acknowledged
// operation (including idempotent duplicate rejections) is removed.
func (q *OperationQueue) Drain(ctx context.Context, apply ApplyFunc) (DrainResult, error) {
	stored, err := q.store.ListPendingOperations(ctx, q.pairID)
	if err != nil {
		return DrainResult{}, err
	}

	var result DrainResult
	blocked := make(map[string]bool)

	for i := range stored {
		if ctx.Err() != nil {
			break
		}
		so := &stored[i]
		if blocked[so.TargetID] {
			continue
		}

		op, err := q.decodeOperation(so)
		if err != nil {
			// An undecodable payload can never replay; drop it rather than
			// wedging the lane forever.
			q.logger.Error().Err(err).
				Str("operation_id", so.OperationID).
				Msg("dropping undecodable queued operation")
			if derr := q.removeOp(ctx, so.OperationID); derr != nil {
				return result, derr
			}
			continue
		}

		applyErr := apply(ctx, op)
		switch {
		case applyErr == nil:
			result.Applied++
		case errors.Is(applyErr, ErrDuplicateOperation):
			result.Applied++
			result.Duplicates++
		default:
			result.Failed++
			blocked[so.TargetID] = true
			q.logger.Debug().Err(applyErr).
				Str("operation_id", so.OperationID).
				Str("target_id", so.TargetID).
				Msg("replay failed, target lane parked")
			continue
		}

		if err := q.removeOp(ctx, so.OperationID); err != nil {
			return result, err
		}
	}

	result.Remaining = q.PendingCount()
	return result, ctx.Err()
}

func (q *OperationQueue) removeOp(ctx context.Context, operationID string) error {
	if err := q.store.DeletePendingOperation(ctx, operationID); err != nil {
		return err
	}
	q.mu.Lock()
	if q.pending > 0 {
		q.pending--
	}
	q.mu.Unlock()
	return nil
}

func (q *OperationQueue) encodePayload(p *OperationPayload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	compressed := snappy.Encode(nil, raw)

	if q.encryptor == nil {
		return append([]byte{payloadPlain}, compressed...), nil
	}
	sealed, err := q.encryptor.Seal(compressed)
	if err != nil {
		return nil, err
	}
	return append([]byte{payloadEncrypted}, sealed...), nil
}

func (q *OperationQueue) decodeOperation(so *StoredOperation) (*PendingOperation, error) {
	if len(so.Payload) == 0 {
		return nil, errors.New("empty payload")
	}

	body := so.Payload[1:]
	switch so.Payload[0] {
	case payloadPlain:
	case payloadEncrypted:
		if q.encryptor == nil {
			return nil, errors.New("encrypted payload but encryption is not configured")
		}
		opened, err := q.encryptor.Open(body)
		if err != nil {
			return nil, fmt.Errorf("open payload: %w", err)
		}
		body = opened
	default:
		return nil, fmt.Errorf("unknown payload flag 0x%02x", so.Payload[0])
	}

	raw, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}

	op := &PendingOperation{
		OperationID: so.OperationID,
		PairID:      so.PairID,
		Kind:        so.Kind,
		TargetID:    so.TargetID,
		EnqueuedAt:  so.EnqueuedAt,
	}
	if err := json.Unmarshal(raw, &op.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return op, nil
}
