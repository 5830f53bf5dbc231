package pairsync

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Reconciler folds optimistic local writes, remote change notifications
// (including echoes of this client's own confirmed writes) and full-refresh
// reads into one consistent view of a pair's MissionProgress records.
//
// The merge rule per incoming record: append-only fields (photo URL, both
// messages, location) keep the local non-empty value no matter what the
// incoming record says, which protects a fresh local write from a stale
// echo reordered by network jitter. Everything else adopts the incoming
// value once its UpdatedAt is not older than the local copy's. Unknown ids
// are inserted as new records.
//
// Merged state is written through to the LocalStore so the cache survives
// process restarts.
type Reconciler struct {
	mu      sync.RWMutex
	records map[string]*MissionProgress
	store   *LocalStore
	clock   *logicalClock
	logger  zerolog.Logger
}

// NewReconciler creates a reconciler backed by the given durable store.
func NewReconciler(store *LocalStore, clock *logicalClock, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		records: make(map[string]*MissionProgress),
		store:   store,
		clock:   clock,
		logger:  logger,
	}
}

// Load populates the in-memory view from the durable cache.
func (r *Reconciler) Load(ctx context.Context, pairID string) error {
	records, err := r.store.ListMissionProgress(ctx, pairID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*MissionProgress, len(records))
	for _, mp := range records {
		r.records[mp.ID] = mp
		r.clock.Observe(mp.UpdatedAt)
	}
	return nil
}

// Reset drops all in-memory state. The durable cache is left untouched.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.records = make(map[string]*MissionProgress)
	r.mu.Unlock()
}

// Get returns a copy of the record with the given id.
func (r *Reconciler) Get(id string) (*MissionProgress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mp, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return mp.Clone(), true
}

// ByMissionID returns a copy of the record for the given mission. A
// cancelled mission that was started again leaves two records behind; the
// live one shadows its terminal predecessor, and ties resolve by creation
// order so repeated lookups always return the same row.
func (r *Reconciler) ByMissionID(missionID string) (*MissionProgress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *MissionProgress
	for _, mp := range r.records {
		if mp.MissionID != missionID {
			continue
		}
		if best == nil || preferRecord(mp, best) {
			best = mp
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Clone(), true
}

// preferRecord reports whether a shadows b in mission lookups: a live
// record beats a terminal one, then the later-created record wins so a
// restart takes over from its cancelled predecessor.
func preferRecord(a, b *MissionProgress) bool {
	if a.Terminal() != b.Terminal() {
		return !a.Terminal()
	}
	return earlier(b, a)
}

// Snapshot returns copies of all known records, ordered by creation.
func (r *Reconciler) Snapshot() []*MissionProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MissionProgress, 0, len(r.records))
	for _, mp := range r.records {
		out = append(out, mp.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return earlier(out[i], out[j]) })
	return out
}

// SetLocal applies an optimistic local write and persists it. The caller
// has already validated the mutation against the lock coordinator and the
// append-only invariant.
func (r *Reconciler) SetLocal(ctx context.Context, mp *MissionProgress) error {
	cp := mp.Clone()

	r.mu.Lock()
	r.records[cp.ID] = cp
	r.mu.Unlock()

	return r.store.SaveMissionProgress(ctx, cp)
}

// ApplyRemote merges one inbound record into the local view and returns the
// merged result. When the inbound record turns out to be the remote
// confirmation of a locally-created placeholder (same pair and mission, the
// local record still carries a temporary id), the entry is re-keyed to the
// confirmed id and resolvedFrom reports the placeholder id so the caller
// can re-point queued operations before the next drain.
func (r *Reconciler) ApplyRemote(ctx context.Context, incoming *MissionProgress) (merged *MissionProgress, resolvedFrom string, err error) {
	r.clock.Observe(incoming.UpdatedAt)

	r.mu.Lock()
	local, ok := r.records[incoming.ID]
	if !ok {
		if tmp := r.findTemporaryLocked(incoming.PairID, incoming.MissionID); tmp != nil {
			resolvedFrom = tmp.ID
			merged = mergeRecords(tmp, incoming)
			merged.ID = incoming.ID
			delete(r.records, tmp.ID)
		} else {
			merged = incoming.Clone()
		}
	} else {
		merged = mergeRecords(local, incoming)
	}
	r.records[merged.ID] = merged
	out := merged.Clone()
	r.mu.Unlock()

	if resolvedFrom != "" {
		if err := r.store.DeleteMissionProgress(ctx, resolvedFrom); err != nil {
			return nil, "", err
		}
	}
	if err := r.store.SaveMissionProgress(ctx, merged); err != nil {
		return nil, "", err
	}
	return out, resolvedFrom, nil
}

// ApplyFullRefresh merges a complete remote read for the pair. Records only
// known locally (placeholders awaiting confirmation) are kept.
func (r *Reconciler) ApplyFullRefresh(ctx context.Context, records []*MissionProgress) error {
	for _, mp := range records {
		if _, _, err := r.ApplyRemote(ctx, mp); err != nil {
			return err
		}
	}
	return nil
}

// ResolveTemporaryID re-keys a placeholder record to its confirmed remote
// id. Used when the confirmation arrives through an operation result rather
// than a change notification. A no-op when the placeholder is already
// resolved; if the confirmed id is somehow known already, the two records
// merge instead of one clobbering the other.
func (r *Reconciler) ResolveTemporaryID(ctx context.Context, tempID, realID string) error {
	r.mu.Lock()
	mp, ok := r.records[tempID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.records, tempID)
	if existing, dup := r.records[realID]; dup {
		mp = mergeRecords(existing, mp)
	}
	mp.ID = realID
	r.records[realID] = mp
	r.mu.Unlock()

	if err := r.store.DeleteMissionProgress(ctx, tempID); err != nil {
		return err
	}
	return r.store.SaveMissionProgress(ctx, mp)
}

func (r *Reconciler) findTemporaryLocked(pairID, missionID string) *MissionProgress {
	var best *MissionProgress
	for _, mp := range r.records {
		if !IsTemporaryID(mp.ID) || mp.PairID != pairID || mp.MissionID != missionID {
			continue
		}
		if best == nil || preferRecord(mp, best) {
			best = mp
		}
	}
	return best
}

// mergeRecords merges incoming into local under the append-only rule and
// returns a new record. Neither argument is modified.
func mergeRecords(local, incoming *MissionProgress) *MissionProgress {
	merged := local.Clone()

	// Append-only fields: a non-empty local value always survives. A
	// pending photo placeholder counts as empty so the confirmed URL can
	// replace it.
	if (merged.PhotoURL == "" || isPendingPhotoURL(merged.PhotoURL)) && incoming.PhotoURL != "" {
		merged.PhotoURL = incoming.PhotoURL
	}
	if merged.Message1 == "" && incoming.Message1 != "" {
		merged.Message1 = incoming.Message1
	}
	if merged.Message2 == "" && incoming.Message2 != "" {
		merged.Message2 = incoming.Message2
	}
	if merged.Location == "" && incoming.Location != "" {
		merged.Location = incoming.Location
	}

	// Cancellation is terminal and therefore sticky in both directions.
	merged.Cancelled = merged.Cancelled || incoming.Cancelled

	if merged.InitiatorID == "" {
		merged.InitiatorID = incoming.InitiatorID
	}

	// Lock ownership depends on the earliest creation timestamp, so keep
	// the oldest one we have seen.
	if incoming.CreatedAt > 0 && (merged.CreatedAt == 0 || incoming.CreatedAt < merged.CreatedAt) {
		merged.CreatedAt = incoming.CreatedAt
	}
	if incoming.UpdatedAt >= merged.UpdatedAt {
		merged.UpdatedAt = incoming.UpdatedAt
	}
	return merged
}
