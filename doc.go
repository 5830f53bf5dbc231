// Package pairsync keeps two paired devices agreeing on shared mission
// progress under intermittent connectivity.
//
// A pair of users completes missions together: one photo and one message
// from each participant, all attached to a single shared MissionProgress
// record. Each device mutates the record optimistically, queues the
// mutation durably when the network is unavailable, and reconciles
// remote change notifications into its local view so both devices
// converge on the same state.
//
// # Basic Usage
//
// Create a session and initialize it for a pair:
//
//	session, err := pairsync.NewSession(pairsync.DefaultSyncConfig("sync.db"), pairsync.Dependencies{
//	    Remote: remote,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	if err := session.Initialize(ctx, pairID, userID); err != nil {
//	    log.Fatal(err)
//	}
//
// Mutate mission state:
//
//	mp, err := session.StartMission("mission-42")
//	mp, err = session.UploadPhoto("mission-42", photoBytes)
//	mp, err = session.SubmitMessage("mission-42", "we made it")
//
// Mutations return immediately with the optimistic local state. When the
// device is offline the mutation is queued and replayed, in order, once
// connectivity returns; HasPendingOperations reports whether anything is
// still awaiting replay.
//
// # Features
//
// Synchronization:
//   - Optimistic local writes with background remote confirmation
//   - Durable offline queue (SQLite) with per-target FIFO replay
//   - Idempotent replay keyed by operation id, safe across crashes
//   - Realtime change feed over websocket, reconciled field by field
//   - Temporary-id resolution for records created while offline
//
// Mission semantics:
//   - Status derived from field presence, no stored status column
//   - Append-only fields: photo, per-participant messages, location
//   - Single active mission per pair, enforced by a deterministic
//     advisory lock
//
// Storage:
//   - Photo blobs uploaded to S3 (or any S3-compatible service)
//   - Queued payloads snappy-compressed, optionally encrypted at rest
//     (AES-256-GCM)
//
// # Configuration
//
// Use [SyncConfig] to customize behavior, or [DefaultSyncConfig] for
// sensible defaults. [LoadSyncConfig] reads the same structure from a
// YAML file.
package pairsync
