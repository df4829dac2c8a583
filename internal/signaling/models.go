package signaling

import (
	"time"

	"rtc-platform/internal/docstore"
)

// Collection is the document-store collection holding call invites.
const Collection = "call_invites"

// CallInvite is a proposed or in-progress call between two participants.
//
// Invariants:
// - RoomID is the order-independent combination of the two identities.
// - Status only moves forward: ringing -> accepted -> ended, or
//   ringing -> ended for reject/timeout.
// - Invites are never deleted; ended invites remain as history.
//
// Invites are mutated only through Service transition operations, never by
// direct field writes, so the two participants cannot race lost updates.
type CallInvite struct {
	ID         string       `json:"id"`
	RoomID     string       `json:"room_id"`
	CallerID   string       `json:"caller_id"`
	CallerName string       `json:"caller_name"`
	CalleeID   string       `json:"callee_id"`
	CalleeName string       `json:"callee_name"`
	Status     InviteStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type InviteStatus string

const (
	StatusRinging  InviteStatus = "ringing"
	StatusAccepted InviteStatus = "accepted"
	StatusEnded    InviteStatus = "ended"
)

// CanTransition reports whether moving from one status to another is legal.
// Ended is terminal.
func CanTransition(from, to InviteStatus) bool {
	switch from {
	case StatusRinging:
		return to == StatusAccepted || to == StatusEnded
	case StatusAccepted:
		return to == StatusEnded
	default:
		return false
	}
}

func inviteDoc(inv CallInvite) docstore.Document {
	return docstore.Document{
		"room_id":     inv.RoomID,
		"caller_id":   inv.CallerID,
		"caller_name": inv.CallerName,
		"callee_id":   inv.CalleeID,
		"callee_name": inv.CalleeName,
		"status":      string(inv.Status),
		"created_at":  inv.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  inv.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func inviteFromDoc(id string, doc docstore.Document) CallInvite {
	return CallInvite{
		ID:         id,
		RoomID:     docString(doc, "room_id"),
		CallerID:   docString(doc, "caller_id"),
		CallerName: docString(doc, "caller_name"),
		CalleeID:   docString(doc, "callee_id"),
		CalleeName: docString(doc, "callee_name"),
		Status:     InviteStatus(docString(doc, "status")),
		CreatedAt:  docTime(doc, "created_at"),
		UpdatedAt:  docTime(doc, "updated_at"),
	}
}

func docString(doc docstore.Document, key string) string {
	s, _ := doc[key].(string)
	return s
}

func docTime(doc docstore.Document, key string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, docString(doc, key))
	return t
}
