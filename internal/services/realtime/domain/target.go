package domain

import (
	"strings"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
)

// TargetType selects how a broadcast resolves its recipients.
type TargetType string

const (
	TargetAll     TargetType = "all"
	TargetRole    TargetType = "role"
	TargetShelter TargetType = "shelter"
)

// Target names the recipients of a broadcast.
type Target struct {
	Type      TargetType `json:"type"`
	Role      Role       `json:"role,omitempty"`
	ShelterID string     `json:"shelterId,omitempty"`
}

// AllTarget addresses every live connection.
func AllTarget() Target { return Target{Type: TargetAll} }

// RoleTarget addresses every connection holding role.
func RoleTarget(role Role) Target { return Target{Type: TargetRole, Role: role} }

// ShelterTarget addresses the operators of shelterID and every connection that
// observes all shelters.
func ShelterTarget(shelterID string) Target {
	return Target{Type: TargetShelter, ShelterID: shelterID}
}

// Validate checks that the target carries the field its type needs.
func (t Target) Validate() error {
	switch t.Type {
	case TargetAll:
		return nil
	case TargetRole:
		if !t.Role.Valid() {
			return apperrors.New(apperrors.CodeInvalidArgument, "target role is invalid")
		}
		return nil
	case TargetShelter:
		if strings.TrimSpace(t.ShelterID) == "" {
			return apperrors.New(apperrors.CodeInvalidArgument, "target shelterId is required")
		}
		return nil
	default:
		return apperrors.New(apperrors.CodeInvalidArgument, "target type must be all, role or shelter")
	}
}

// Matches reports whether a connection with identity belongs to the target.
func (t Target) Matches(identity Identity) bool {
	switch t.Type {
	case TargetAll:
		return true
	case TargetRole:
		return identity.Role == t.Role
	case TargetShelter:
		return identity.BoundTo(t.ShelterID) || identity.Role.ObservesAllShelters()
	default:
		return false
	}
}
