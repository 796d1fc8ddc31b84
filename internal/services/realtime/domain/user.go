package domain

import (
	"strings"
	"time"
)

// Role identifies what a user may see and change.
type Role string

const (
	RoleShelterOperator      Role = "shelter_operator"
	RoleFirstResponder       Role = "first_responder"
	RoleEmergencyCoordinator Role = "emergency_coordinator"
	RoleAdmin                Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleShelterOperator, RoleFirstResponder, RoleEmergencyCoordinator, RoleAdmin:
		return true
	default:
		return false
	}
}

// ObservesAllShelters reports whether connections with this role receive
// every shelter's updates.
func (r Role) ObservesAllShelters() bool {
	switch r {
	case RoleFirstResponder, RoleEmergencyCoordinator, RoleAdmin:
		return true
	default:
		return false
	}
}

// Overrides reports whether the role may act on any shelter.
func (r Role) Overrides() bool {
	return r == RoleEmergencyCoordinator || r == RoleAdmin
}

// UserProfile holds display details for a user.
type UserProfile struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Phone        string `json:"phone,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// User is a directory entry for someone who can connect to the service.
type User struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	Role      Role        `json:"role"`
	Profile   UserProfile `json:"profile"`
	ShelterID string      `json:"shelterId,omitempty"`
	IsActive  bool        `json:"isActive"`
	LastLogin *time.Time  `json:"lastLogin,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Identity is the authenticated principal behind a connection or request.
// It is captured once at authentication and travels with every submission.
type Identity struct {
	UserID    string `json:"userId"`
	Role      Role   `json:"role"`
	ShelterID string `json:"shelterId,omitempty"`
}

// Normalize trims identifiers and drops shelter bindings from roles that
// cannot hold one.
func (i Identity) Normalize() Identity {
	i.UserID = strings.TrimSpace(i.UserID)
	i.ShelterID = strings.TrimSpace(i.ShelterID)
	if i.Role != RoleShelterOperator {
		i.ShelterID = ""
	}
	return i
}

// BoundTo reports whether the identity is an operator bound to shelterID.
func (i Identity) BoundTo(shelterID string) bool {
	return i.Role == RoleShelterOperator && i.ShelterID != "" && i.ShelterID == shelterID
}

// CanUpdateShelter reports whether the identity may submit status updates for
// shelterID.
func (i Identity) CanUpdateShelter(shelterID string) bool {
	return i.BoundTo(shelterID) || i.Role.Overrides()
}

// CanRaiseAlert reports whether the identity may open an alert for shelterID.
func (i Identity) CanRaiseAlert(shelterID string) bool {
	return i.CanUpdateShelter(shelterID)
}

// CanProgressAlert reports whether the identity may acknowledge, work or
// resolve alerts.
func (i Identity) CanProgressAlert() bool {
	return i.Role == RoleFirstResponder || i.Role.Overrides()
}

// CanBroadcast reports whether the identity may send a notification to
// target. Operators may only notify their own shelter.
func (i Identity) CanBroadcast(target Target) bool {
	if i.Role.Overrides() {
		return true
	}
	if i.Role == RoleShelterOperator {
		return target.Type == TargetShelter && i.BoundTo(target.ShelterID)
	}
	return false
}
