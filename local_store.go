package pairsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// LocalStoreConfig configures the durable on-device store backing the
// mission-progress cache and the offline operation queue.
type LocalStoreConfig struct {
	// Path to the SQLite database file.
	Path string

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL, EXTRA)
	Synchronous string

	// BusyTimeout is the timeout for acquiring locks in milliseconds.
	BusyTimeout int
}

// DefaultLocalStoreConfig returns default configuration.
func DefaultLocalStoreConfig(path string) LocalStoreConfig {
	return LocalStoreConfig{
		Path:        path,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		BusyTimeout: 5000,
	}
}

// LocalStore persists MissionProgress records and pending operations in
// SQLite so a process restart while offline loses nothing. Everything is
// keyed by pair id.
type LocalStore struct {
	db     *sql.DB
	config LocalStoreConfig
	mu     sync.RWMutex
	closed bool

	insertMission *sql.Stmt
	deleteMission *sql.Stmt
	listMissions  *sql.Stmt
	insertOp      *sql.Stmt
	deleteOp      *sql.Stmt
	listOps       *sql.Stmt
	countOps      *sql.Stmt
	retargetOps   *sql.Stmt
}

// NewLocalStore opens (creating if necessary) the local database.
func NewLocalStore(config LocalStoreConfig) (*LocalStore, error) {
	if config.Path == "" {
		return nil, newStoreError(StoreErrorTypeUnknown, "local store path is required", "", nil)
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.Synchronous == "" {
		config.Synchronous = "NORMAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_synchronous=%s&_busy_timeout=%d",
		config.Path, config.JournalMode, config.Synchronous, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, newStoreError(StoreErrorTypeUnknown, "failed to open local store", config.Path, err)
	}

	store := &LocalStore{
		db:     db,
		config: config,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *LocalStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS mission_progress (
			id TEXT PRIMARY KEY,
			pair_id TEXT NOT NULL,
			doc BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pending_operations (
			operation_id TEXT PRIMARY KEY,
			pair_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload BLOB NOT NULL,
			enqueued_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_mission_pair ON mission_progress(pair_id);
		CREATE INDEX IF NOT EXISTS idx_ops_pair ON pending_operations(pair_id, enqueued_at);
		CREATE INDEX IF NOT EXISTS idx_ops_target ON pending_operations(target_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return newStoreError(StoreErrorTypeWrite, "failed to create schema", s.config.Path, err)
	}
	return nil
}

func (s *LocalStore) prepareStatements() error {
	prepare := func(dst **sql.Stmt, query string) error {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return newStoreError(StoreErrorTypeUnknown, "failed to prepare statement", s.config.Path, err)
		}
		*dst = stmt
		return nil
	}

	steps := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.insertMission, `INSERT OR REPLACE INTO mission_progress (id, pair_id, doc, updated_at) VALUES (?, ?, ?, ?)`},
		{&s.deleteMission, `DELETE FROM mission_progress WHERE id = ?`},
		{&s.listMissions, `SELECT doc FROM mission_progress WHERE pair_id = ? ORDER BY updated_at, id`},
		{&s.insertOp, `INSERT INTO pending_operations (operation_id, pair_id, target_id, kind, payload, enqueued_at) VALUES (?, ?, ?, ?, ?, ?)`},
		{&s.deleteOp, `DELETE FROM pending_operations WHERE operation_id = ?`},
		{&s.listOps, `SELECT operation_id, target_id, kind, payload, enqueued_at FROM pending_operations WHERE pair_id = ? ORDER BY enqueued_at, rowid`},
		{&s.countOps, `SELECT COUNT(*) FROM pending_operations WHERE pair_id = ?`},
		{&s.retargetOps, `UPDATE pending_operations SET target_id = ? WHERE target_id = ?`},
	}
	for _, st := range steps {
		if err := prepare(st.dst, st.query); err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return newStoreError(StoreErrorTypeUnknown, "local store is closed", s.config.Path, nil)
	}
	return nil
}

// SaveMissionProgress upserts a record.
func (s *LocalStore) SaveMissionProgress(ctx context.Context, mp *MissionProgress) error {
	if err := s.guard(); err != nil {
		return err
	}
	doc, err := json.Marshal(mp)
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "failed to encode mission progress", s.config.Path, err)
	}
	if _, err := s.insertMission.ExecContext(ctx, mp.ID, mp.PairID, doc, mp.UpdatedAt); err != nil {
		return s.writeErr("failed to save mission progress", err)
	}
	return nil
}

// DeleteMissionProgress removes a record by id.
func (s *LocalStore) DeleteMissionProgress(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, err := s.deleteMission.ExecContext(ctx, id); err != nil {
		return s.writeErr("failed to delete mission progress", err)
	}
	return nil
}

// ListMissionProgress returns all records for a pair.
func (s *LocalStore) ListMissionProgress(ctx context.Context, pairID string) ([]*MissionProgress, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.listMissions.QueryContext(ctx, pairID)
	if err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "failed to list mission progress", s.config.Path, err)
	}
	defer rows.Close()

	var records []*MissionProgress
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, newStoreError(StoreErrorTypeRead, "failed to scan mission progress", s.config.Path, err)
		}
		var mp MissionProgress
		if err := json.Unmarshal(doc, &mp); err != nil {
			return nil, newStoreError(StoreErrorTypeRead, "failed to decode mission progress", s.config.Path, err)
		}
		records = append(records, &mp)
	}
	return records, rows.Err()
}

// InsertPendingOperation appends an operation with its encoded payload.
func (s *LocalStore) InsertPendingOperation(ctx context.Context, op *PendingOperation, payload []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.insertOp.ExecContext(ctx, op.OperationID, op.PairID, op.TargetID, string(op.Kind), payload, op.EnqueuedAt)
	if err != nil {
		return s.writeErr("failed to insert pending operation", err)
	}
	return nil
}

// DeletePendingOperation removes an operation after remote acknowledgment.
func (s *LocalStore) DeletePendingOperation(ctx context.Context, operationID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, err := s.deleteOp.ExecContext(ctx, operationID); err != nil {
		return s.writeErr("failed to delete pending operation", err)
	}
	return nil
}

// StoredOperation is a pending operation as read back from disk, payload
// still in its encoded at-rest form.
type StoredOperation struct {
	OperationID string
	PairID      string
	TargetID    string
	Kind        OperationKind
	Payload     []byte
	EnqueuedAt  int64
}

// ListPendingOperations returns all queued operations for a pair in global
// enqueue order. rowid breaks enqueued_at ties so replay order is stable.
func (s *LocalStore) ListPendingOperations(ctx context.Context, pairID string) ([]StoredOperation, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.listOps.QueryContext(ctx, pairID)
	if err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "failed to list pending operations", s.config.Path, err)
	}
	defer rows.Close()

	var ops []StoredOperation
	for rows.Next() {
		op := StoredOperation{PairID: pairID}
		var kind string
		if err := rows.Scan(&op.OperationID, &op.TargetID, &kind, &op.Payload, &op.EnqueuedAt); err != nil {
			return nil, newStoreError(StoreErrorTypeRead, "failed to scan pending operation", s.config.Path, err)
		}
		op.Kind = OperationKind(kind)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// CountPendingOperations returns the number of queued operations for a pair.
func (s *LocalStore) CountPendingOperations(ctx context.Context, pairID string) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	var n int
	if err := s.countOps.QueryRowContext(ctx, pairID).Scan(&n); err != nil {
		return 0, newStoreError(StoreErrorTypeRead, "failed to count pending operations", s.config.Path, err)
	}
	return n, nil
}

// RetargetPendingOperations re-points queued operations from a temporary
// record id to the confirmed remote id.
func (s *LocalStore) RetargetPendingOperations(ctx context.Context, oldID, newID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, err := s.retargetOps.ExecContext(ctx, newID, oldID); err != nil {
		return s.writeErr("failed to retarget pending operations", err)
	}
	return nil
}

// UpdatePendingOperationPayload rewrites an operation's encoded payload in
// place, preserving its queue position. Used when a drain resolves a queued
// photo blob into its uploaded URL before the remote write succeeds.
func (s *LocalStore) UpdatePendingOperationPayload(ctx context.Context, operationID string, payload []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_operations SET payload = ? WHERE operation_id = ?`, payload, operationID)
	if err != nil {
		return s.writeErr("failed to update pending operation payload", err)
	}
	return nil
}

// Close releases prepared statements and the database handle. Safe to call
// more than once.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range []*sql.Stmt{
		s.insertMission, s.deleteMission, s.listMissions,
		s.insertOp, s.deleteOp, s.listOps, s.countOps, s.retargetOps,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// writeErr classifies a write failure, mapping a full database or disk to
// the exhaustion type so callers can surface it as fatal.
func (s *LocalStore) writeErr(message string, err error) error {
	errType := StoreErrorTypeWrite
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database or disk is full") || strings.Contains(msg, "no space left") {
		errType = StoreErrorTypeExhausted
	}
	return newStoreError(errType, message, s.config.Path, err)
}
