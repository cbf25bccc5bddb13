// Package ids implements the gateway's two-tier identity scheme: fresh
// random IDs for append-only messages, and deterministic namespaced IDs for
// mutable aggregates (rooms, users), so repeated writes naturally coalesce
// as replaces rather than delete-then-insert pairs.
//
// Grounded on internal/persistence/databases/qdrant_vector.go's
// uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)) pattern, generalized to two
// distinct namespaces.
package ids

import "github.com/google/uuid"

// RoomNamespace and UserNamespace are fixed, distinct namespace UUIDs used
// to derive deterministic aggregate IDs. Changing either would silently
// re-key every existing aggregate, so they are hardcoded constants rather
// than configuration.
var (
	RoomNamespace = uuid.MustParse("6f1b1f2e-2f3a-4b8e-9c7a-0f1d2e3a4b5c")
	UserNamespace = uuid.MustParse("a2d4e6f8-1b3c-4d5e-8f90-1a2b3c4d5e6f")
)

// NewMessageID returns a fresh random (v4) UUID, used as the authoritative
// store ID for a newly ingested message.
func NewMessageID() string {
	return uuid.NewString()
}

// NewRecordID returns a fresh random (v4) UUID, used for AIChatRecord
// identities (append-only, like messages).
func NewRecordID() string {
	return uuid.NewString()
}

// Deterministic returns a stable v5 UUID derived from namespace and
// externalID. Calling it twice with the same arguments always yields the
// same ID, which is what makes aggregate upserts true replaces.
func Deterministic(namespace uuid.UUID, externalID string) string {
	return uuid.NewSHA1(namespace, []byte(externalID)).String()
}

// RoomID returns the deterministic ID for a room's aggregate record.
func RoomID(externalRoomID string) string {
	return Deterministic(RoomNamespace, externalRoomID)
}

// UserID returns the deterministic ID for a user's aggregate record.
func UserID(externalUserID string) string {
	return Deterministic(UserNamespace, externalUserID)
}
