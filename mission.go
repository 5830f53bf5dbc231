package pairsync

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MissionStatus is the derived lifecycle state of a MissionProgress record.
// Status is never stored; it is computed from which fields are populated,
// which is what makes the record safe to merge without per-field timestamps.
type MissionStatus string

const (
	// StatusPhotoPending means the record exists but no photo has been
	// uploaded yet.
	StatusPhotoPending MissionStatus = "photo_pending"
	// StatusAwaitingMessages means the photo is in place and at least one
	// message slot is still empty.
	StatusAwaitingMessages MissionStatus = "awaiting_messages"
	// StatusAwaitingPartnerMessage refines StatusAwaitingMessages from one
	// participant's point of view: their own slot is filled, the partner's
	// is not.
	StatusAwaitingPartnerMessage MissionStatus = "awaiting_partner_message"
	// StatusCompleted means photo and both messages are present. Terminal.
	StatusCompleted MissionStatus = "completed"
	// StatusCancelled means a participant abandoned the mission. Terminal.
	StatusCancelled MissionStatus = "cancelled"
)

// tempIDPrefix marks record ids generated locally before the remote store
// has confirmed the record and assigned its authoritative id.
const tempIDPrefix = "local-"

// NewTemporaryID returns a client-generated placeholder record id.
func NewTemporaryID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTemporaryID reports whether id is a client-generated placeholder.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// pendingPhotoScheme prefixes placeholder photo URLs used while the blob is
// still queued for upload. A placeholder counts as "empty" for merge
// purposes so the confirmed URL can replace it.
const pendingPhotoScheme = "pending://"

// isPendingPhotoURL reports whether url is an unconfirmed local placeholder.
func isPendingPhotoURL(url string) bool {
	return strings.HasPrefix(url, pendingPhotoScheme)
}

// MissionProgress is one record per (pair, mission) that has been started.
//
// PhotoURL, Message1, Message2 and Location are append-only: once non-empty
// they are never overwritten by reconciliation, regardless of the arrival
// order of remote notifications.
type MissionProgress struct {
	ID          string `json:"id"`
	PairID      string `json:"pair_id"`
	MissionID   string `json:"mission_id"`
	InitiatorID string `json:"initiator_id"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Message1    string `json:"message1,omitempty"`
	Message2    string `json:"message2,omitempty"`
	Location    string `json:"location,omitempty"`
	Cancelled   bool   `json:"cancelled,omitempty"`

	// CreatedAt is the logical timestamp of the event that first created
	// the record. It decides lock ownership when two missions race.
	CreatedAt int64 `json:"created_at"`
	// UpdatedAt is a monotonically increasing logical timestamp used to
	// order reconciliation of non-append-only fields.
	UpdatedAt int64 `json:"updated_at"`
}

// Status derives the viewer-independent lifecycle state.
func (mp *MissionProgress) Status() MissionStatus {
	switch {
	case mp.Cancelled:
		return StatusCancelled
	case mp.PhotoURL == "":
		return StatusPhotoPending
	case mp.Message1 != "" && mp.Message2 != "":
		return StatusCompleted
	default:
		return StatusAwaitingMessages
	}
}

// StatusFor derives the lifecycle state as seen by participantID,
// distinguishing "I still owe a message" from "waiting on my partner".
func (mp *MissionProgress) StatusFor(participantID string) MissionStatus {
	st := mp.Status()
	if st != StatusAwaitingMessages {
		return st
	}
	if mp.MessageFor(participantID) != "" {
		return StatusAwaitingPartnerMessage
	}
	return st
}

// Terminal reports whether the record can no longer accept writes.
func (mp *MissionProgress) Terminal() bool {
	st := mp.Status()
	return st == StatusCompleted || st == StatusCancelled
}

// MessageSlot returns the slot (1 or 2) participantID writes to. The
// initiator owns slot 1, the partner slot 2.
func (mp *MissionProgress) MessageSlot(participantID string) int {
	if participantID == mp.InitiatorID {
		return 1
	}
	return 2
}

// MessageFor returns the message already submitted by participantID, or "".
func (mp *MissionProgress) MessageFor(participantID string) string {
	if mp.MessageSlot(participantID) == 1 {
		return mp.Message1
	}
	return mp.Message2
}

// PartnerMessageFor returns the message submitted by the other participant.
func (mp *MissionProgress) PartnerMessageFor(participantID string) string {
	if mp.MessageSlot(participantID) == 1 {
		return mp.Message2
	}
	return mp.Message1
}

// setMessage writes text into the given slot.
func (mp *MissionProgress) setMessage(slot int, text string) {
	if slot == 1 {
		mp.Message1 = text
	} else {
		mp.Message2 = text
	}
}

// Clone returns a deep copy of the record.
func (mp *MissionProgress) Clone() *MissionProgress {
	cp := *mp
	return &cp
}

// OperationKind identifies a queued mutation type.
type OperationKind string

const (
	OpStart          OperationKind = "start"
	OpUploadPhoto    OperationKind = "upload_photo"
	OpSubmitMessage  OperationKind = "submit_message"
	OpUpdateLocation OperationKind = "update_location"
	OpCancel         OperationKind = "cancel"
)

// OperationPayload carries the kind-specific data of a PendingOperation.
type OperationPayload struct {
	MissionID     string `json:"mission_id,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	PhotoURL      string `json:"photo_url,omitempty"`
	// PhotoBlob holds raw image bytes when the photo could not be uploaded
	// at mutation time; the blob is uploaded during drain and replaced by
	// its URL before the operation goes on the wire.
	PhotoBlob   []byte `json:"photo_blob,omitempty"`
	Message     string `json:"message,omitempty"`
	MessageSlot int    `json:"message_slot,omitempty"`
	Location    string `json:"location,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	UpdatedAt   int64  `json:"updated_at,omitempty"`
}

// PendingOperation is a queued mutation awaiting remote application.
// OperationID makes replay idempotent: the remote store rejects a second
// application of the same id as a harmless duplicate.
type PendingOperation struct {
	OperationID string           `json:"operation_id"`
	PairID      string           `json:"pair_id"`
	Kind        OperationKind    `json:"kind"`
	TargetID    string           `json:"target_id"`
	Payload     OperationPayload `json:"payload"`
	EnqueuedAt  int64            `json:"enqueued_at"`
}

// NewOperationID returns a fresh client-generated operation id.
func NewOperationID() string {
	return uuid.NewString()
}

// logicalClock issues strictly increasing millisecond timestamps, even when
// the wall clock stalls or steps backwards.
type logicalClock struct {
	mu   sync.Mutex
	last int64
}

func (c *logicalClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}

// Observe advances the clock past a timestamp seen on an inbound record so
// subsequent local writes always order after it.
func (c *logicalClock) Observe(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.last {
		c.last = ts
	}
}
