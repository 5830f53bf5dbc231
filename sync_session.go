package pairsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dependencies are the collaborators a Session is wired to. Any nil field
// is built from SyncConfig (Remote, Photos) or given a default (Monitor,
// Logger).
type Dependencies struct {
	// Remote is the authoritative store. If nil, an HTTPRemoteStore is
	// built from SyncConfig.Remote.
	Remote RemoteStore
	// Photos stores photo blobs. If nil and SyncConfig.Photos is set, an
	// S3PhotoStore is built; otherwise photo blobs ride in queued payloads
	// until connectivity returns.
	Photos PhotoStore
	// Monitor reports connectivity transitions.
	Monitor *NetworkMonitor
	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zerolog.Logger
}

// Session owns the synchronization state for one pair: the reconciled
// mission-progress view, the offline operation queue, and the realtime
// subscription. All mutation calls, the notification loop and queue drains
// are serialized against the session's state; multiple sessions are
// independent.
//
// A remote write failure during a mutation never fails the call: the caller
// always observes the optimistic local result, and the network outcome is
// visible only through HasPendingOperations and TriggerSync. The only
// caller-visible rejection is ErrMissionLocked, returned synchronously
// before any network attempt.
type Session struct {
	config    SyncConfig
	remote    RemoteStore
	photos    PhotoStore
	monitor   *NetworkMonitor
	logger    zerolog.Logger
	store     *LocalStore
	encryptor *Encryptor
	clock     *logicalClock
	lock      LockCoordinator
	breaker   *CircuitBreaker

	mu            sync.Mutex
	initialized   bool
	generation    uint64
	pairID        string
	participantID string
	rec           *Reconciler
	queue         *OperationQueue
	feed          ChangeFeed
	unsubNet      func()
	sctx          context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	eventsReceived  int64
	eventsDiscarded int64
	drains          int64
	replayed        int64
	directWrites    int64
	queuedWrites    int64
	lastQueueErr    error
}

// SessionStats provides a point-in-time view of session activity.
type SessionStats struct {
	PairID             string `json:"pair_id"`
	Online             bool   `json:"online"`
	PendingOperations  int    `json:"pending_operations"`
	Missions           int    `json:"missions"`
	EventsReceived     int64  `json:"events_received"`
	EventsDiscarded    int64  `json:"events_discarded"`
	Drains             int64  `json:"drains"`
	OperationsReplayed int64  `json:"operations_replayed"`
	DirectWrites       int64  `json:"direct_writes"`
	QueuedWrites       int64  `json:"queued_writes"`
	CircuitState       string `json:"circuit_state"`
	LastQueueError     string `json:"last_queue_error,omitempty"`
}

// NewSession opens the durable local store and wires the session's
// collaborators. The session is inert until Initialize is called.
func NewSession(config SyncConfig, deps Dependencies) (*Session, error) {
	config.normalize()

	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	store, err := NewLocalStore(DefaultLocalStoreConfig(config.LocalPath))
	if err != nil {
		return nil, err
	}

	encryptor, err := NewEncryptor(config.Encryption)
	if err != nil {
		store.Close()
		return nil, err
	}

	remote := deps.Remote
	if remote == nil {
		if config.Remote.BaseURL == "" {
			store.Close()
			return nil, fmt.Errorf("remote store: base_url is required")
		}
		rcfg := config.Remote
		if rcfg.EventBuffer <= 0 {
			rcfg.EventBuffer = config.EventBuffer
		}
		remote = NewHTTPRemoteStore(rcfg, logger)
	}

	photos := deps.Photos
	if photos == nil && config.Photos != nil {
		photos, err = NewS3PhotoStore(*config.Photos)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	monitor := deps.Monitor
	if monitor == nil {
		monitor = NewNetworkMonitor()
	}

	return &Session{
		config:    config,
		remote:    remote,
		photos:    photos,
		monitor:   monitor,
		logger:    logger,
		store:     store,
		encryptor: encryptor,
		clock:     &logicalClock{},
		breaker:   NewCircuitBreaker(5, 30*time.Second),
	}, nil
}

// Initialize loads the durable cache, performs the full-refresh read, opens
// the change-notification subscription and arms the replay triggers. A
// failed refresh or subscription is logged and retried on the next online
// edge; initialization itself only fails on local storage errors.
func (s *Session) Initialize(ctx context.Context, pairID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return fmt.Errorf("session already initialized for pair %s", s.pairID)
	}
	if pairID == "" || participantID == "" {
		return fmt.Errorf("pair id and participant id are required")
	}

	s.generation++
	gen := s.generation
	s.pairID = pairID
	s.participantID = participantID
	s.rec = NewReconciler(s.store, s.clock, s.logger)

	if err := s.rec.Load(ctx, pairID); err != nil {
		return err
	}

	queue, err := NewOperationQueue(ctx, s.store, pairID, s.encryptor, s.config.Queue, s.logger)
	if err != nil {
		return err
	}
	s.queue = queue

	s.sctx, s.cancel = context.WithCancel(context.Background())

	// Full refresh. Failure means we are starting offline: the durable
	// cache is the view until connectivity returns.
	if records, err := s.remote.FetchPairState(ctx, pairID); err != nil {
		s.logger.Warn().Err(err).Str("pair_id", pairID).Msg("full refresh failed, starting from local cache")
	} else if err := s.rec.ApplyFullRefresh(ctx, records); err != nil {
		return err
	}

	s.subscribeLocked(gen)

	s.unsubNet = s.monitor.Subscribe(func(online bool) {
		if online {
			go s.onOnline(gen)
		}
	})

	s.initialized = true

	if s.queue.HasPending() && s.monitor.IsOnline() {
		go s.onOnline(gen)
	}
	return nil
}

// Teardown closes the subscription and releases all in-memory state. Safe
// to call multiple times and before Initialize. A late notification or a
// stale drain from before the teardown can no longer mutate state: the
// generation counter it was issued under is invalidated here.
func (s *Session) Teardown() {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = false
	s.generation++
	feed := s.feed
	s.feed = nil
	unsub := s.unsubNet
	s.unsubNet = nil
	cancel := s.cancel
	s.cancel = nil
	s.rec = nil
	s.queue = nil
	s.pairID = ""
	s.participantID = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if feed != nil {
		feed.Close()
	}
	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
}

// Close tears the session down and closes the durable store.
func (s *Session) Close() error {
	s.Teardown()
	return s.store.Close()
}

// StartMission creates the pair's MissionProgress record for a mission and
// claims the active-mission slot. Starting the mission that already holds
// the lock returns the existing record.
func (s *Session) StartMission(missionID string) (*MissionProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil, ErrSessionClosed
	}
	if missionID == "" {
		return nil, fmt.Errorf("mission id is required")
	}

	records := s.rec.Snapshot()
	if existing, ok := s.rec.ByMissionID(missionID); ok && !existing.Terminal() {
		if s.lock.IsLocked(records, missionID) {
			return nil, ErrMissionLocked
		}
		return existing, nil
	}
	if err := s.lock.Admit(records, missionID); err != nil {
		return nil, err
	}

	ts := s.clock.Next()
	mp := &MissionProgress{
		ID:          NewTemporaryID(),
		PairID:      s.pairID,
		MissionID:   missionID,
		InitiatorID: s.participantID,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := s.rec.SetLocal(s.sctx, mp); err != nil {
		return nil, err
	}

	op := &PendingOperation{
		OperationID: NewOperationID(),
		PairID:      s.pairID,
		Kind:        OpStart,
		TargetID:    mp.ID,
		Payload: OperationPayload{
			MissionID:     missionID,
			ParticipantID: s.participantID,
			CreatedAt:     ts,
			UpdatedAt:     ts,
		},
		EnqueuedAt: ts,
	}
	if err := s.submitLocked(op); err != nil {
		return nil, err
	}
	return mp, nil
}

// UploadPhoto attaches the mission photo. The blob is stored through the
// photo store for a stable URL; while the upload is unconfirmed the record
// carries a local placeholder URL so the state machine advances
// immediately. A photo that is already confirmed is immutable and the call
// is a no-op.
func (s *Session) UploadPhoto(missionID string, blob []byte) (*MissionProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.admitLocked(missionID)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("photo blob is required")
	}
	if record.PhotoURL != "" && !isPendingPhotoURL(record.PhotoURL) {
		return record, nil
	}

	ts := s.clock.Next()
	opID := NewOperationID()
	record.PhotoURL = pendingPhotoScheme + opID
	record.UpdatedAt = ts
	if err := s.rec.SetLocal(s.sctx, record); err != nil {
		return nil, err
	}

	op := &PendingOperation{
		OperationID: opID,
		PairID:      s.pairID,
		Kind:        OpUploadPhoto,
		TargetID:    record.ID,
		Payload: OperationPayload{
			MissionID:     missionID,
			ParticipantID: s.participantID,
			PhotoBlob:     blob,
			UpdatedAt:     ts,
		},
		EnqueuedAt: ts,
	}
	if err := s.submitLocked(op); err != nil {
		return nil, err
	}
	return record, nil
}

// SubmitMessage writes the calling participant's message into their slot.
// Each participant's slot is settable exactly once; re-submitting returns
// the unchanged record.
func (s *Session) SubmitMessage(missionID, text string) (*MissionProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.admitLocked(missionID)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("message text is required")
	}
	if record.MessageFor(s.participantID) != "" {
		return record, nil
	}

	ts := s.clock.Next()
	slot := record.MessageSlot(s.participantID)
	record.setMessage(slot, text)
	record.UpdatedAt = ts
	if err := s.rec.SetLocal(s.sctx, record); err != nil {
		return nil, err
	}

	op := &PendingOperation{
		OperationID: NewOperationID(),
		PairID:      s.pairID,
		Kind:        OpSubmitMessage,
		TargetID:    record.ID,
		Payload: OperationPayload{
			MissionID:     missionID,
			ParticipantID: s.participantID,
			Message:       text,
			MessageSlot:   slot,
			UpdatedAt:     ts,
		},
		EnqueuedAt: ts,
	}
	if err := s.submitLocked(op); err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateLocation records where the mission happened. Settable once.
func (s *Session) UpdateLocation(missionID, location string) (*MissionProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.admitLocked(missionID)
	if err != nil {
		return nil, err
	}
	if location == "" {
		return nil, fmt.Errorf("location is required")
	}
	if record.Location != "" {
		return record, nil
	}

	ts := s.clock.Next()
	record.Location = location
	record.UpdatedAt = ts
	if err := s.rec.SetLocal(s.sctx, record); err != nil {
		return nil, err
	}

	op := &PendingOperation{
		OperationID: NewOperationID(),
		PairID:      s.pairID,
		Kind:        OpUpdateLocation,
		TargetID:    record.ID,
		Payload: OperationPayload{
			MissionID:     missionID,
			ParticipantID: s.participantID,
			Location:      location,
			UpdatedAt:     ts,
		},
		EnqueuedAt: ts,
	}
	if err := s.submitLocked(op); err != nil {
		return nil, err
	}
	return record, nil
}

// CancelMission abandons a mission and releases the active-mission slot.
// Cancel deliberately skips the lock admission check: it is the only way to
// discard the loser record of a double-start race, which the normal flow
// can no longer reach.
func (s *Session) CancelMission(missionID string) (*MissionProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil, ErrSessionClosed
	}
	record, ok := s.rec.ByMissionID(missionID)
	if !ok {
		return nil, ErrMissionNotFound
	}
	if record.Terminal() {
		return record, nil
	}

	ts := s.clock.Next()
	record.Cancelled = true
	record.UpdatedAt = ts
	if err := s.rec.SetLocal(s.sctx, record); err != nil {
		return nil, err
	}

	op := &PendingOperation{
		OperationID: NewOperationID(),
		PairID:      s.pairID,
		Kind:        OpCancel,
		TargetID:    record.ID,
		Payload: OperationPayload{
			MissionID:     missionID,
			ParticipantID: s.participantID,
			UpdatedAt:     ts,
		},
		EnqueuedAt: ts,
	}
	if err := s.submitLocked(op); err != nil {
		return nil, err
	}
	return record, nil
}

// IsMissionLocked reports whether mutations against missionID would be
// rejected because a different mission holds the pair's lock.
func (s *Session) IsMissionLocked(missionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return false
	}
	return s.lock.IsLocked(s.rec.Snapshot(), missionID)
}

// ActiveMission returns the record currently holding the pair's lock.
func (s *Session) ActiveMission() *MissionProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	return s.lock.Holder(s.rec.Snapshot())
}

// MissionProgressByMissionID returns the pair's record for a mission.
func (s *Session) MissionProgressByMissionID(missionID string) (*MissionProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, false
	}
	return s.rec.ByMissionID(missionID)
}

// HasUserSubmittedMessage reports whether the local participant's message
// slot is filled for the mission.
func (s *Session) HasUserSubmittedMessage(missionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return false
	}
	record, ok := s.rec.ByMissionID(missionID)
	return ok && record.MessageFor(s.participantID) != ""
}

// HasPartnerSubmittedMessage reports whether the partner's slot is filled.
func (s *Session) HasPartnerSubmittedMessage(missionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return false
	}
	record, ok := s.rec.ByMissionID(missionID)
	return ok && record.PartnerMessageFor(s.participantID) != ""
}

// HasPendingOperations reports whether queued mutations await replay. UIs
// use this as the "pending sync" indicator.
func (s *Session) HasPendingOperations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized && s.queue.HasPending()
}

// Resume is the app-foreground hook: it reopens a dropped subscription and
// runs a replay pass if anything is queued.
func (s *Session) Resume() {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	gen := s.generation
	s.mu.Unlock()
	go s.onOnline(gen)
}

// TriggerSync runs one replay pass over the offline queue. The manual
// escape hatch for UIs that want an explicit "sync now" affordance.
func (s *Session) TriggerSync(ctx context.Context) (DrainResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return DrainResult{}, ErrSessionClosed
	}
	return s.drainLocked(ctx)
}

// Stats returns current session statistics.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SessionStats{
		PairID:             s.pairID,
		Online:             s.monitor.IsOnline(),
		EventsReceived:     s.eventsReceived,
		EventsDiscarded:    s.eventsDiscarded,
		Drains:             s.drains,
		OperationsReplayed: s.replayed,
		DirectWrites:       s.directWrites,
		QueuedWrites:       s.queuedWrites,
		CircuitState:       s.breaker.State(),
	}
	if s.initialized {
		stats.PendingOperations = s.queue.PendingCount()
		stats.Missions = len(s.rec.Snapshot())
	}
	if s.lastQueueErr != nil {
		stats.LastQueueError = s.lastQueueErr.Error()
	}
	return stats
}

// admitLocked resolves the mutation target and applies the lock admission
// check shared by photo, message and location mutations.
func (s *Session) admitLocked(missionID string) (*MissionProgress, error) {
	if !s.initialized {
		return nil, ErrSessionClosed
	}
	record, ok := s.rec.ByMissionID(missionID)
	if !ok {
		return nil, ErrMissionNotFound
	}
	if record.Cancelled {
		return nil, ErrMissionLocked
	}
	if err := s.lock.Admit(s.rec.Snapshot(), missionID); err != nil {
		return nil, err
	}
	return record, nil
}

// submitLocked routes an operation to the remote store. Offline, the
// operation is queued synchronously so a storage-exhaustion failure reaches
// the caller; online, the write is confirmed in the background and queued
// only if it fails.
func (s *Session) submitLocked(op *PendingOperation) error {
	if !s.monitor.IsOnline() {
		s.queuedWrites++
		return s.queue.Enqueue(s.sctx, op)
	}

	gen := s.generation
	s.wg.Add(1)
	go s.confirm(gen, op)
	return nil
}

// confirm is the fire-and-forget immediate write behind every online
// mutation.
func (s *Session) confirm(gen uint64, op *PendingOperation) {
	defer s.wg.Done()

	s.mu.Lock()
	if gen != s.generation || !s.initialized {
		s.mu.Unlock()
		return
	}
	sctx := s.sctx
	s.mu.Unlock()

	ctx, cancelTimeout := context.WithTimeout(sctx, s.config.WriteTimeout)
	defer cancelTimeout()

	resolved := *op
	var res *RemoteResult
	err := s.breaker.Execute(func() error {
		var uploadErr error
		if uploadErr = s.resolvePhoto(ctx, &resolved); uploadErr != nil {
			return uploadErr
		}
		var applyErr error
		res, applyErr = s.remote.ApplyOperation(ctx, &resolved)
		return applyErr
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || !s.initialized {
		// The session was torn down while the write was in flight. The
		// remote store is authoritative either way; drop the continuation.
		return
	}

	if err != nil {
		s.logger.Info().Err(err).
			Str("operation_id", op.OperationID).
			Str("kind", string(op.Kind)).
			Msg("immediate write failed, queuing for replay")
		s.queuedWrites++
		if qerr := s.queue.Enqueue(s.sctx, &resolved); qerr != nil {
			s.lastQueueErr = qerr
			s.logger.Error().Err(qerr).
				Str("operation_id", op.OperationID).
				Msg("failed to queue operation, user input at risk")
		}
		return
	}

	s.directWrites++
	s.absorbResultLocked(&resolved, res)
}

// resolvePhoto uploads a payload's photo blob and replaces it with the
// stable URL before the operation goes on the wire. Re-running after a
// partial failure re-puts the same key, which is idempotent.
func (s *Session) resolvePhoto(ctx context.Context, op *PendingOperation) error {
	if len(op.Payload.PhotoBlob) == 0 || op.Payload.PhotoURL != "" {
		return nil
	}
	if s.photos == nil {
		return fmt.Errorf("no photo store configured")
	}
	url, err := s.photos.Upload(ctx, PhotoKey(op.PairID, op.Payload.MissionID, op.OperationID), op.Payload.PhotoBlob)
	if err != nil {
		return fmt.Errorf("upload photo: %w", err)
	}
	op.Payload.PhotoURL = url
	op.Payload.PhotoBlob = nil
	return nil
}

// absorbResultLocked folds a confirmed operation result back into local
// state: the echoed record is merged and, when the operation created the
// record, the temporary id is resolved to the remote-assigned one.
//
// Resolution uses the operation's own target id, not a mission lookup: a
// cancelled mission that was started again has two placeholders for the
// same mission in flight, and each confirmation must bind to the record
// its operation created.
func (s *Session) absorbResultLocked(op *PendingOperation, res *RemoteResult) {
	if res == nil || res.Record == nil {
		return
	}
	if IsTemporaryID(op.TargetID) && op.TargetID != res.Record.ID {
		if err := s.rec.ResolveTemporaryID(s.sctx, op.TargetID, res.Record.ID); err != nil {
			s.logger.Error().Err(err).Msg("failed to resolve placeholder id")
			return
		}
		if err := s.queue.Retarget(s.sctx, op.TargetID, res.Record.ID); err != nil {
			s.logger.Error().Err(err).
				Str("temp_id", op.TargetID).
				Str("real_id", res.Record.ID).
				Msg("failed to retarget queued operations")
		}
	}

	merged, resolvedFrom, err := s.rec.ApplyRemote(s.sctx, res.Record)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to persist confirmed write")
		return
	}
	if resolvedFrom != "" {
		if err := s.queue.Retarget(s.sctx, resolvedFrom, merged.ID); err != nil {
			s.logger.Error().Err(err).
				Str("temp_id", resolvedFrom).
				Str("real_id", merged.ID).
				Msg("failed to retarget queued operations")
		}
	}
}

// subscribeLocked opens the change feed and starts its consumer loop. A
// failure is logged; the next online edge retries.
func (s *Session) subscribeLocked(gen uint64) {
	feed, err := s.remote.Subscribe(s.sctx, s.pairID)
	if err != nil {
		s.logger.Warn().Err(err).Str("pair_id", s.pairID).Msg("change feed unavailable")
		return
	}
	s.feed = feed
	s.wg.Add(1)
	go s.eventLoop(gen, feed)
}

// eventLoop is the single consumer of the change feed. Events mutate state
// only through handleEvent, which re-checks the generation under the
// session lock, so a feed that outlives its session cannot corrupt a newer
// one.
func (s *Session) eventLoop(gen uint64, feed ChangeFeed) {
	defer s.wg.Done()
	for ev := range feed.Events() {
		s.handleEvent(gen, ev)
	}

	s.mu.Lock()
	if gen == s.generation && s.initialized && s.feed == feed {
		s.feed = nil
		s.logger.Warn().Str("pair_id", s.pairID).Msg("change feed dropped, will resubscribe when online")
	}
	s.mu.Unlock()
}

func (s *Session) handleEvent(gen uint64, ev ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || !s.initialized {
		s.eventsDiscarded++
		return
	}
	s.eventsReceived++

	merged, resolvedFrom, err := s.rec.ApplyRemote(s.sctx, ev.Record)
	if err != nil {
		s.logger.Error().Err(err).Str("record_id", ev.Record.ID).Msg("failed to reconcile change event")
		return
	}
	if resolvedFrom != "" {
		if err := s.queue.Retarget(s.sctx, resolvedFrom, merged.ID); err != nil {
			s.logger.Error().Err(err).Msg("failed to retarget queued operations")
		}
	}
}

// onOnline is the reconnect handler: reopen the feed if it dropped, refresh
// the view, then replay the queue.
func (s *Session) onOnline(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || !s.initialized {
		s.mu.Unlock()
		return
	}
	if s.feed == nil {
		s.subscribeLocked(gen)
	}
	if !s.queue.HasPending() {
		s.mu.Unlock()
		return
	}
	_, err := s.drainLocked(s.sctx)
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Msg("replay pass aborted")
	}
}

// drainLocked replays the queue while holding the session lock, keeping
// drains serialized with mutations and event handling.
func (s *Session) drainLocked(ctx context.Context) (DrainResult, error) {
	s.drains++
	result, err := s.queue.Drain(ctx, s.applyQueuedLocked)
	s.replayed += int64(result.Applied)

	s.logger.Debug().
		Int("applied", result.Applied).
		Int("duplicates", result.Duplicates).
		Int("failed", result.Failed).
		Int("remaining", result.Remaining).
		Msg("replay pass finished")
	return result, err
}

// applyQueuedLocked applies one queued operation against the remote store
// during a drain. Called with the session lock held.
func (s *Session) applyQueuedLocked(ctx context.Context, op *PendingOperation) error {
	wctx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
	defer cancel()

	if len(op.Payload.PhotoBlob) > 0 && op.Payload.PhotoURL == "" {
		if err := s.resolvePhoto(wctx, op); err != nil {
			return err
		}
		// Persist the resolved payload so a crash before the remote write
		// does not upload the blob again on the next drain.
		if err := s.queue.UpdatePayload(wctx, op.OperationID, &op.Payload); err != nil {
			return err
		}
	}

	res, err := s.remote.ApplyOperation(wctx, op)
	if err != nil {
		return err
	}
	s.absorbResultLocked(op, res)
	if res != nil && res.Duplicate {
		return ErrDuplicateOperation
	}
	return nil
}
