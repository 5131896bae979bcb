// Package identity turns login requests into identities.
package identity

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/google/uuid"

	"counselchat/pkg/types"
)

var (
	// ErrInvalidCounselorID is returned when a counselor login presents the wrong id
	ErrInvalidCounselorID = errors.New("invalid counselor id")
)

// DefaultCounselorID is the single counselor credential
const DefaultCounselorID = "counselor123"

// DefaultAnonymousPrefix prefixes generated client ids
const DefaultAnonymousPrefix = "anon_"

// AnonymousDisplayName is shown for clients that logged in without an id
const AnonymousDisplayName = "Anonymous client"

// Resolver validates login requests. It keeps no state between calls.
type Resolver struct {
	counselorID     string
	anonymousPrefix string
	newToken        func() string
}

// NewResolver creates a resolver for the given counselor id and anonymous prefix
func NewResolver(counselorID, anonymousPrefix string) *Resolver {
	if anonymousPrefix == "" {
		anonymousPrefix = DefaultAnonymousPrefix
	}
	return &Resolver{
		counselorID:     counselorID,
		anonymousPrefix: anonymousPrefix,
		newToken:        randomToken,
	}
}

// CounselorID returns the configured counselor id
func (r *Resolver) CounselorID() string {
	return r.counselorID
}

// Resolve maps a login request to an identity.
// Clients without an id get a fresh anonymous one; no uniqueness check is
// made against live connections.
func (r *Resolver) Resolve(userID, userType string) (types.Identity, error) {
	role, err := types.ParseRole(userType)
	if err != nil {
		return types.Identity{}, err
	}

	if role == types.RoleCounselor {
		if subtle.ConstantTimeCompare([]byte(userID), []byte(r.counselorID)) != 1 {
			return types.Identity{}, ErrInvalidCounselorID
		}
		return types.Identity{ID: r.counselorID, Role: types.RoleCounselor}, nil
	}

	clientID := strings.TrimSpace(userID)
	if clientID == "" {
		clientID = r.anonymousPrefix + r.newToken()
	}
	if !types.IsValidClientID(clientID) || clientID == r.counselorID {
		return types.Identity{}, types.ErrInvalidClientID
	}
	return types.Identity{ID: clientID, Role: types.RoleClient}, nil
}

// IsAnonymous reports whether clientID was generated by Resolve
func (r *Resolver) IsAnonymous(clientID string) bool {
	return strings.HasPrefix(clientID, r.anonymousPrefix)
}

// DisplayName is the roster label for clientID
func (r *Resolver) DisplayName(clientID string) string {
	if r.IsAnonymous(clientID) {
		return AnonymousDisplayName
	}
	return clientID
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
