package pairsync

// LockCoordinator computes which single mission, if any, currently holds a
// pair's exclusive active-mission slot.
//
// The lock is advisory: it is recomputed from the full set of known records
// on every call (never cached) and enforced only as a local admission check
// before a mutation reaches the network. If both participants start
// different missions while offline, both records end up in the remote
// store; the coordinator then deterministically picks the same holder on
// every device, leaving the loser inaccessible until explicitly cancelled.
type LockCoordinator struct{}

// Holder returns the record holding the pair's lock, or nil when no mission
// is in progress. Among all non-terminal records the earliest-created wins;
// record id breaks CreatedAt ties so concurrent creations resolve the same
// way regardless of notification arrival order.
func (LockCoordinator) Holder(records []*MissionProgress) *MissionProgress {
	var holder *MissionProgress
	for _, mp := range records {
		if mp.Terminal() {
			continue
		}
		if holder == nil || earlier(mp, holder) {
			holder = mp
		}
	}
	return holder
}

// IsLocked reports whether mutations against missionID are currently
// rejected because a different mission holds the lock.
func (c LockCoordinator) IsLocked(records []*MissionProgress, missionID string) bool {
	holder := c.Holder(records)
	return holder != nil && holder.MissionID != missionID
}

// Admit returns ErrMissionLocked when missionID may not accept new writes.
func (c LockCoordinator) Admit(records []*MissionProgress, missionID string) error {
	if c.IsLocked(records, missionID) {
		return ErrMissionLocked
	}
	return nil
}

func earlier(a, b *MissionProgress) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}
