package model

import (
	"strconv"
)

// KeyState is the lifecycle state of a one-time prekey. A key only ever moves
// forward: Available -> Reserved -> Consumed. Consumed is terminal.
type KeyState uint8

const (
	KeyStateAvailable KeyState = 1
	KeyStateReserved  KeyState = 2
	KeyStateConsumed  KeyState = 3
)

func (s KeyState) String() string {
	switch s {
	case KeyStateAvailable:
		return "available"
	case KeyStateReserved:
		return "reserved"
	case KeyStateConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// Identity is the long-term public key material published for a user.
// Immutable once published; a republish replaces it wholesale.
type Identity struct {
	Id          string
	IdentityKey []byte
	SigningKey  []byte
}

// SignedPreKey is the medium-lived prekey, signed by the identity's signing
// key. Exactly one is active per identity; replaced wholesale on rotation.
type SignedPreKey struct {
	KeyId     uint32
	PublicKey []byte
	Signature []byte
}

// OneTimePreKey is a single-use prekey. ReservedAt is set (epoch millis) when
// the key transitions to Reserved, so abandoned reservations can be swept.
type OneTimePreKey struct {
	KeyId      uint32
	PublicKey  []byte
	State      KeyState
	ReservedAt int64
}

// PreKeyBundle is everything an inviter needs to initiate a handshake with an
// identity. OneTimePreKey is nil when the identity's pool is empty; the
// handshake then falls back to the signed prekey alone.
type PreKeyBundle struct {
	IdentityId    string
	IdentityKey   []byte
	SignedPreKey  *SignedPreKey
	OneTimePreKey *OneTimePreKey
}

// KeyPackageRef identifies a specific published key package.
type KeyPackageRef struct {
	IdentityId string
	KeyId      uint32
}

// ParseConversationId validates that the given id is the canonical decimal
// rendering of a positive integer. "5.0", "+5", "05" and " 5" are all
// rejected, so string-keyed storage downstream only ever sees one spelling
// per conversation.
func ParseConversationId(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 || strconv.FormatInt(id, 10) != raw {
		return 0, ErrInvalidConversationId
	}
	return id, nil
}
